package audio

import (
	"time"

	"callvox/pkg/audioconv"
)

// VADConfig holds the energy detector settings. All values are empirical and
// depend on the line; none of them are protocol constants.
type VADConfig struct {
	// EnergyThreshold is the RMS (linear 16-bit scale) below which a frame
	// counts as silence.
	EnergyThreshold float64 `yaml:"energy_threshold"`
	// SilenceDuration ends the recording after speech was heard.
	SilenceDuration time.Duration `yaml:"silence_duration"`
	// InitialSilence ends the recording when nothing was said yet.
	// Zero means SilenceDuration.
	InitialSilence time.Duration `yaml:"initial_silence"`
	MaxDuration    time.Duration `yaml:"max_duration"`
}

func DefaultVAD() VADConfig {
	return VADConfig{
		EnergyThreshold: 500,
		SilenceDuration: 1200 * time.Millisecond,
		InitialSilence:  4 * time.Second,
		MaxDuration:     12 * time.Second,
	}
}

type StopReason uint

const (
	StopNone StopReason = iota
	StopSilence
	StopMaxBytes
	StopDigit
	StopTimeout
	StopAbandoned
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopSilence:
		return "silence"
	case StopMaxBytes:
		return "max_bytes"
	case StopDigit:
		return "digit"
	case StopTimeout:
		return "timeout"
	case StopAbandoned:
		return "abandoned"
	}
	return "unknown"
}

// Recording accumulates caller audio for one speech turn. It is owned by the
// session loop and not safe for concurrent use. The first stop condition to
// fire wins; later ones are ignored.
type Recording struct {
	cfg      VADConfig
	buf      []byte
	maxBytes int

	speaking    bool
	silentBytes int
	voiced      int
	reason      StopReason
}

func NewRecording(cfg VADConfig) *Recording {
	maxBytes := audioconv.BytesFor(cfg.MaxDuration)
	if maxBytes <= 0 {
		maxBytes = audioconv.BytesFor(DefaultVAD().MaxDuration)
	}
	return &Recording{
		cfg:      cfg,
		buf:      make([]byte, 0, min(maxBytes, audioconv.SampleRate*3)),
		maxBytes: maxBytes,
	}
}

// Write appends one inbound mu-law chunk and evaluates its energy. It returns
// the stop reason once recording has stopped, StopNone otherwise.
func (r *Recording) Write(chunk []byte) StopReason {
	if r.reason != StopNone || len(chunk) == 0 {
		return r.reason
	}

	if room := r.maxBytes - len(r.buf); len(chunk) >= room {
		r.buf = append(r.buf, chunk[:room]...)
		r.reason = StopMaxBytes
		return r.reason
	}
	r.buf = append(r.buf, chunk...)

	if audioconv.MulawRMS(chunk) >= r.cfg.EnergyThreshold {
		r.speaking = true
		r.silentBytes = 0
		r.voiced += len(chunk)
		return StopNone
	}

	r.silentBytes += len(chunk)
	window := r.cfg.SilenceDuration
	if !r.speaking && r.cfg.InitialSilence > 0 {
		window = r.cfg.InitialSilence
	}
	if r.silentBytes >= audioconv.BytesFor(window) {
		r.reason = StopSilence
	}
	return r.reason
}

// Stop ends the recording for reason unless it already stopped. It reports
// whether this call was the one that stopped it.
func (r *Recording) Stop(reason StopReason) bool {
	if r.reason != StopNone {
		return false
	}
	r.reason = reason
	return true
}

func (r *Recording) Reason() StopReason { return r.reason }

func (r *Recording) Stopped() bool { return r.reason != StopNone }

// Bytes returns the recorded mu-law audio.
func (r *Recording) Bytes() []byte { return r.buf }

func (r *Recording) Duration() time.Duration { return audioconv.Duration(len(r.buf)) }

// Voiced is the total duration of frames above the energy threshold.
func (r *Recording) Voiced() time.Duration { return audioconv.Duration(r.voiced) }
