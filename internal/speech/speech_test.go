package speech

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callvox/internal/audio"
	"callvox/internal/nlu"
	"callvox/pkg/audioconv"
	"callvox/pkg/stt"
)

func testVAD() audio.VADConfig {
	return audio.VADConfig{
		EnergyThreshold: 500,
		SilenceDuration: 200 * time.Millisecond,
		MaxDuration:     2 * time.Second,
	}
}

func silentFrame() []byte {
	return audioconv.EncodeMulaw(make([]int16, audioconv.FrameSize))
}

func TestCollector_Sequence(t *testing.T) {
	c := NewCollector(testVAD())
	assert.Equal(t, Idle, c.State())

	turn, err := c.Begin(ModeDateTime)
	require.NoError(t, err)
	assert.Equal(t, PromptPlaying, c.State())

	_, err = c.Begin(ModeFreeText)
	assert.ErrorIs(t, err, ErrBusy)

	assert.False(t, c.Feed(silentFrame()), "audio before recording is discarded")
	assert.False(t, c.CueDone(turn), "cue cannot finish before the prompt")
	assert.True(t, c.PromptDone(turn))
	assert.Equal(t, CuePlaying, c.State())
	assert.True(t, c.CueDone(turn))
	assert.True(t, c.IsRecording())

	assert.True(t, c.Stop(turn, audio.StopDigit))
	assert.Equal(t, Processing, c.State())
	assert.False(t, c.Stop(turn, audio.StopTimeout))
	assert.Equal(t, audio.StopDigit, c.Input().Stop)

	assert.True(t, c.Finish(turn))
	assert.Equal(t, Idle, c.State())
}

func TestCollector_SilenceMovesToProcessing(t *testing.T) {
	c := NewCollector(testVAD())
	turn, err := c.Begin(ModeDateTime)
	require.NoError(t, err)
	c.PromptDone(turn)
	c.CueDone(turn)

	stopped := false
	for i := 0; i < 100 && !stopped; i++ {
		stopped = c.Feed(silentFrame())
	}
	require.True(t, stopped)
	assert.Equal(t, Processing, c.State())
	assert.Equal(t, audio.StopSilence, c.Input().Stop)
	assert.Equal(t, 10*audioconv.FrameSize, len(c.Input().Audio))
}

func TestCollector_StaleTurnIgnored(t *testing.T) {
	c := NewCollector(testVAD())
	old, _ := c.Begin(ModeDateTime)
	c.Abandon()
	assert.Equal(t, Idle, c.State())

	turn, err := c.Begin(ModeFreeText)
	require.NoError(t, err)
	assert.NotEqual(t, old, turn)
	assert.False(t, c.PromptDone(old))
	assert.Equal(t, PromptPlaying, c.State())
	assert.True(t, c.PromptDone(turn))
}

// Wednesday, 2026-03-04 10:00 UTC.
var testNow = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

func newProcessor(tr stt.TranscriberFunc, ex nlu.ExtractorFunc) *Processor {
	cfg := DefaultConfig()
	return NewProcessor(tr, ex, cfg).WithClock(func() time.Time { return testNow })
}

func transcript(text string) stt.TranscriberFunc {
	return func(context.Context, stt.Request) (stt.Transcript, error) {
		return stt.Transcript{Text: text}, nil
	}
}

func extraction(ext nlu.Extraction) nlu.ExtractorFunc {
	return func(context.Context, string) (nlu.Extraction, error) { return ext, nil }
}

func noExtract(t *testing.T) nlu.ExtractorFunc {
	return func(context.Context, string) (nlu.Extraction, error) {
		t.Fatal("extraction must not run")
		return nlu.Extraction{}, nil
	}
}

var voiced = Input{Mode: ModeDateTime, Audio: make([]byte, 8000), Voiced: time.Second}

func TestProcess_MondayTwoPM(t *testing.T) {
	var hint string
	tr := stt.TranscriberFunc(func(_ context.Context, req stt.Request) (stt.Transcript, error) {
		hint = req.Hint
		return stt.Transcript{Text: "Monday two PM"}, nil
	})
	p := newProcessor(tr, extraction(nlu.Extraction{
		HasDay: true, HasTime: true, DayText: "monday", TimeText: "two pm", Confidence: 0.95,
	}))

	res := p.Process(context.Background(), voiced)
	require.Equal(t, Complete, res.Outcome)
	assert.True(t, res.Extraction.HasDay)
	assert.True(t, res.Extraction.HasTime)
	assert.Equal(t, nlu.Day{Year: 2026, Month: time.March, Day: 9}, *res.Day)
	assert.Equal(t, nlu.Clock{Hour: 14}, *res.Clock)
	assert.Contains(t, hint, "Monday")
}

func TestProcess_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		ext  nlu.Extraction
		want Outcome
	}{
		{"day only", nlu.Extraction{HasDay: true, DayText: "tomorrow", Confidence: 0.9}, DayOnly},
		{"time only", nlu.Extraction{HasTime: true, TimeText: "9:30 am", Confidence: 0.9}, TimeOnly},
		{"vague", nlu.Extraction{HasDay: true, DayText: "friday", HasTime: true, TimeText: "in the morning", VagueTime: true, Confidence: 0.9}, VagueTime},
		{"nothing", nlu.Extraction{Confidence: 0.9}, Unclear},
		{"low confidence", nlu.Extraction{HasDay: true, DayText: "monday", Confidence: 0.2}, Unclear},
		{"needs clarification", nlu.Extraction{HasDay: true, DayText: "monday", Confidence: 0.9, NeedsClarification: true}, Unclear},
		{"unparseable day", nlu.Extraction{HasDay: true, DayText: "the usual day", Confidence: 0.9}, Unclear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProcessor(transcript("some words"), extraction(tt.ext))
			assert.Equal(t, tt.want, p.Process(context.Background(), voiced).Outcome)
		})
	}
}

func TestProcess_PastDateIsUnclear(t *testing.T) {
	p := newProcessor(transcript("today at eight am"), extraction(nlu.Extraction{
		HasDay: true, HasTime: true, DayText: "today", TimeText: "eight am", Confidence: 0.9,
	}))
	res := p.Process(context.Background(), voiced)
	assert.Equal(t, Unclear, res.Outcome)
	assert.ErrorIs(t, res.Err, nlu.ErrInPast)
}

func TestProcess_TooShort(t *testing.T) {
	tr := stt.TranscriberFunc(func(context.Context, stt.Request) (stt.Transcript, error) {
		t.Fatal("transcription must not run")
		return stt.Transcript{}, nil
	})
	p := newProcessor(tr, noExtract(t))
	res := p.Process(context.Background(), Input{Mode: ModeDateTime, Audio: make([]byte, 8000), Voiced: 100 * time.Millisecond})
	assert.Equal(t, TooShort, res.Outcome)

	// 100ms of buffered audio, however it was counted as voiced.
	res = p.Process(context.Background(), Input{Mode: ModeDateTime, Audio: make([]byte, 800), Voiced: time.Second})
	assert.Equal(t, TooShort, res.Outcome)
}

func TestProcess_TranscriptScreening(t *testing.T) {
	long := ""
	for len(long) <= 200 {
		long += "I would like to move my shift please "
	}
	tests := map[string]Outcome{
		"":                                     Unclear,
		"  ...  ":                              Unclear,
		"Thank you for watching!":              Hallucination,
		"Thank you.":                           Hallucination,
		"[BLANK_AUDIO]":                        Hallucination,
		"um uh hmm":                            Hallucination,
		"Subtitles by the Amara.org community": Hallucination,
		"the the the the the the the":          Hallucination,
		long:                                   Hallucination,
	}
	for text, want := range tests {
		t.Run(fmt.Sprintf("%.20q", text), func(t *testing.T) {
			p := newProcessor(transcript(text), noExtract(t))
			assert.Equal(t, want, p.Process(context.Background(), voiced).Outcome)
		})
	}
}

func TestProcess_FreeText(t *testing.T) {
	var hint string
	tr := stt.TranscriberFunc(func(_ context.Context, req stt.Request) (stt.Transcript, error) {
		hint = req.Hint
		return stt.Transcript{Text: "My car broke down."}, nil
	})
	p := newProcessor(tr, noExtract(t))
	res := p.Process(context.Background(), Input{Mode: ModeFreeText, Audio: make([]byte, 8000), Voiced: time.Second})
	assert.Equal(t, Complete, res.Outcome)
	assert.Equal(t, "My car broke down.", res.Transcript)
	assert.Empty(t, hint)
}

func TestProcess_CollaboratorFailures(t *testing.T) {
	failing := stt.TranscriberFunc(func(context.Context, stt.Request) (stt.Transcript, error) {
		return stt.Transcript{}, errors.New("timeout")
	})
	res := newProcessor(failing, noExtract(t)).Process(context.Background(), voiced)
	assert.Equal(t, Failed, res.Outcome)
	assert.Error(t, res.Err)

	badSchema := nlu.ExtractorFunc(func(context.Context, string) (nlu.Extraction, error) {
		return nlu.Extraction{}, fmt.Errorf("%w: missing field", nlu.ErrSchema)
	})
	res = newProcessor(transcript("monday"), badSchema).Process(context.Background(), voiced)
	assert.Equal(t, Unclear, res.Outcome)

	down := nlu.ExtractorFunc(func(context.Context, string) (nlu.Extraction, error) {
		return nlu.Extraction{}, errors.New("503")
	})
	res = newProcessor(transcript("monday"), down).Process(context.Background(), voiced)
	assert.Equal(t, Failed, res.Outcome)
}
