// Package speech runs one spoken turn: prompt, cue tone, recording,
// transcription, extraction and validation.
package speech

import (
	"errors"

	"callvox/internal/audio"
)

var ErrBusy = errors.New("speech collection already in progress")

type State uint

const (
	Idle State = iota
	PromptPlaying
	CuePlaying
	Recording
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PromptPlaying:
		return "prompt_playing"
	case CuePlaying:
		return "cue_playing"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	}
	return "unknown"
}

type Mode uint

const (
	// ModeDateTime extracts a day and a time of day.
	ModeDateTime Mode = iota
	// ModeFreeText keeps the filtered transcript as is.
	ModeFreeText
)

func (m Mode) String() string {
	if m == ModeFreeText {
		return "free_text"
	}
	return "date_time"
}

// Collector is the speech context of one call. It is driven by the session
// loop, which owns playback and timers; every transition is checked against
// the current turn so late events from an abandoned turn are ignored.
type Collector struct {
	vad   audio.VADConfig
	state State
	mode  Mode
	turn  uint64
	rec   *audio.Recording
}

func NewCollector(vad audio.VADConfig) *Collector {
	return &Collector{vad: vad}
}

func (c *Collector) State() State { return c.state }
func (c *Collector) Mode() Mode   { return c.mode }
func (c *Collector) Turn() uint64 { return c.turn }

// Begin starts a new turn with the prompt playing.
func (c *Collector) Begin(mode Mode) (uint64, error) {
	if c.state != Idle {
		return 0, ErrBusy
	}
	c.turn++
	c.mode = mode
	c.state = PromptPlaying
	return c.turn, nil
}

// PromptDone moves to the cue tone.
func (c *Collector) PromptDone(turn uint64) bool {
	if turn != c.turn || c.state != PromptPlaying {
		return false
	}
	c.state = CuePlaying
	return true
}

// CueDone opens a fresh recording.
func (c *Collector) CueDone(turn uint64) bool {
	if turn != c.turn || c.state != CuePlaying {
		return false
	}
	c.rec = audio.NewRecording(c.vad)
	c.state = Recording
	return true
}

func (c *Collector) IsRecording() bool { return c.state == Recording }

// Feed hands one inbound chunk to the recording. It reports true when the
// chunk ended the recording, which leaves the collector in Processing.
func (c *Collector) Feed(chunk []byte) bool {
	if c.state != Recording {
		return false
	}
	if c.rec.Write(chunk) == audio.StopNone {
		return false
	}
	c.state = Processing
	return true
}

// Stop ends the recording for an external reason (stop digit, timer).
func (c *Collector) Stop(turn uint64, reason audio.StopReason) bool {
	if turn != c.turn || c.state != Recording || !c.rec.Stop(reason) {
		return false
	}
	c.state = Processing
	return true
}

// Input returns what the processor needs. Valid only in Processing.
func (c *Collector) Input() Input {
	if c.rec == nil {
		return Input{Mode: c.mode}
	}
	return Input{
		Mode:   c.mode,
		Audio:  c.rec.Bytes(),
		Voiced: c.rec.Voiced(),
		Stop:   c.rec.Reason(),
	}
}

// Finish returns to Idle once the result for turn was handled.
func (c *Collector) Finish(turn uint64) bool {
	if turn != c.turn || c.state != Processing {
		return false
	}
	c.state = Idle
	c.rec = nil
	return true
}

// Abandon drops the current turn in any state.
func (c *Collector) Abandon() {
	if c.state == Idle {
		return
	}
	if c.rec != nil {
		c.rec.Stop(audio.StopAbandoned)
	}
	c.turn++
	c.state = Idle
	c.rec = nil
}
