package speech

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"callvox/internal/audio"
	"callvox/internal/nlu"
	"callvox/pkg/audioconv"
	"callvox/pkg/stt"
)

type Outcome string

const (
	Complete      Outcome = "complete"
	DayOnly       Outcome = "day_only"
	TimeOnly      Outcome = "time_only"
	VagueTime     Outcome = "vague_time"
	Unclear       Outcome = "unclear"
	TooShort      Outcome = "too_short"
	Hallucination Outcome = "hallucination"
	// Failed means a collaborator errored; the caller hears an apology.
	Failed Outcome = "failed"
)

// Outcomes lists every outcome; the dialog table must cover all of them.
var Outcomes = []Outcome{Complete, DayOnly, TimeOnly, VagueTime, Unclear, TooShort, Hallucination, Failed}

type Input struct {
	Mode   Mode
	Audio  []byte
	Voiced time.Duration
	Stop   audio.StopReason
}

type Result struct {
	Turn       uint64
	Mode       Mode
	Outcome    Outcome
	Transcript string
	Extraction nlu.Extraction
	Day        *nlu.Day
	Clock      *nlu.Clock
	// Err explains Unclear and Failed outcomes, e.g. nlu.ErrInPast.
	Err error
}

type Config struct {
	MinRecording       time.Duration  `yaml:"min_recording"`
	MaxTranscriptChars int            `yaml:"max_transcript_chars"`
	MinConfidence      float64        `yaml:"min_confidence"`
	Language           string         `yaml:"language"`
	DateHint           string         `yaml:"date_hint"`
	Location           *time.Location `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MinRecording:       400 * time.Millisecond,
		MaxTranscriptChars: 200,
		MinConfidence:      0.5,
		Language:           "en",
		DateHint: "Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday, " +
			"today, tomorrow, next week, morning, afternoon, evening, AM, PM, noon, o'clock.",
		Location: time.UTC,
	}
}

// Processor turns a finished recording into a Result. It is stateless and
// shared by all calls.
type Processor struct {
	stt stt.Transcriber
	nlu nlu.Extractor
	cfg Config
	now func() time.Time
}

func NewProcessor(t stt.Transcriber, e nlu.Extractor, cfg Config) *Processor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Processor{stt: t, nlu: e, cfg: cfg, now: time.Now}
}

// WithClock returns a copy of p that reads the current time from now.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	c := *p
	c.now = now
	return &c
}

func (p *Processor) Process(ctx context.Context, in Input) Result {
	res := Result{Mode: in.Mode}

	if audioconv.Duration(len(in.Audio)) < p.cfg.MinRecording || in.Voiced < p.cfg.MinRecording {
		res.Outcome = TooShort
		return res
	}

	req := stt.Request{Audio: in.Audio, Language: p.cfg.Language}
	if in.Mode == ModeDateTime {
		req.Hint = p.cfg.DateHint
	}
	tr, err := p.stt.Transcribe(ctx, req)
	if err != nil {
		res.Outcome = Failed
		res.Err = fmt.Errorf("transcribe: %w", err)
		return res
	}
	res.Transcript = tr.Text

	switch screen(tr.Text, p.cfg.MaxTranscriptChars) {
	case rejectEmpty:
		res.Outcome = Unclear
		return res
	case rejectTooLong, rejectPattern:
		log.Debug("Transcript rejected", "text", tr.Text)
		res.Outcome = Hallucination
		return res
	}

	if in.Mode == ModeFreeText {
		res.Outcome = Complete
		return res
	}

	ext, err := p.nlu.Extract(ctx, tr.Text)
	if err != nil {
		if errors.Is(err, nlu.ErrSchema) {
			res.Outcome = Unclear
			res.Err = err
			return res
		}
		res.Outcome = Failed
		res.Err = fmt.Errorf("extract: %w", err)
		return res
	}
	res.Extraction = ext

	if ext.NeedsClarification || ext.Confidence < p.cfg.MinConfidence {
		res.Outcome = Unclear
		return res
	}

	resolved, err := nlu.Resolve(ext, p.now().In(p.cfg.Location))
	if err != nil {
		res.Outcome = Unclear
		res.Err = err
		return res
	}
	res.Day = resolved.Day
	res.Clock = resolved.Clock
	res.Outcome = classify(resolved)
	return res
}

func classify(r nlu.Resolved) Outcome {
	switch {
	case r.Day != nil && r.Clock != nil:
		return Complete
	case r.Vague:
		return VagueTime
	case r.Day != nil:
		return DayOnly
	case r.Clock != nil:
		return TimeOnly
	}
	return Unclear
}
