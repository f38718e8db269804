//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"callvox/pkg/audioconv"
)

// whisperRate is the only input rate whisper.cpp accepts.
const whisperRate = 16000

type Options struct {
	Language string
	// Threads <= 0 uses every CPU.
	Threads       int
	InitialPrompt string
}

// Whisper runs a local whisper.cpp model. Each turn gets its own context, so
// one model serves concurrent calls.
type Whisper struct {
	model whisper.Model
	opt   Options
}

func NewWhisper(modelPath string, opt Options) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if opt.Threads <= 0 {
		opt.Threads = runtime.NumCPU()
	}
	if opt.Language == "" {
		opt.Language = "auto"
	}
	return &Whisper{model: m, opt: opt}, nil
}

func (w *Whisper) Close() error {
	if w.model == nil {
		return nil
	}
	return w.model.Close()
}

func (w *Whisper) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	if len(req.Audio) == 0 {
		return Transcript{}, ErrNoAudio
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Transcript{}, fmt.Errorf("new context: %w", err)
	}

	lang := w.opt.Language
	if req.Language != "" {
		lang = req.Language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Transcript{}, fmt.Errorf("set language %q: %w", lang, err)
	}
	wctx.SetThreads(uint(w.opt.Threads))
	prompt := w.opt.InitialPrompt
	if req.Hint != "" {
		prompt = req.Hint
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	samples := audioconv.UpsampleFloat(audioconv.DecodeMulaw(req.Audio), whisperRate)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Transcript{}, fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return Transcript{}, err
		}
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Transcript{}, fmt.Errorf("next segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(seg.Text))
	}

	text := strings.Join(parts, " ")
	log.Debug("Whisper transcript", "samples", len(samples), "language", wctx.DetectedLanguage(), "text", text)
	return Transcript{Text: text}, nil
}
