// Package stt turns a recorded caller turn into text.
package stt

import (
	"context"
	"errors"
)

var ErrNoAudio = errors.New("no audio samples provided")

// Request is one caller turn of 8kHz mu-law audio.
type Request struct {
	Audio []byte
	// Hint lists words the caller is likely to say.
	Hint     string
	Language string
}

type Transcript struct {
	Text string
	// Confidence is in 0..1; zero when the backend does not report one.
	Confidence float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, req Request) (Transcript, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	return f(ctx, req)
}
