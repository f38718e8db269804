//go:build !whisper

package stt

import (
	"context"
	"errors"
)

// ErrNoWhisper is returned when the binary was built without the whisper tag.
var ErrNoWhisper = errors.New("built without whisper support (use -tags whisper)")

type Options struct {
	Language      string
	Threads       int
	InitialPrompt string
}

type Whisper struct{}

func NewWhisper(string, Options) (*Whisper, error) { return nil, ErrNoWhisper }

func (*Whisper) Close() error { return nil }

func (*Whisper) Transcribe(context.Context, Request) (Transcript, error) {
	return Transcript{}, ErrNoWhisper
}
