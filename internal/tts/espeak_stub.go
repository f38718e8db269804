//go:build !espeak

package tts

import (
	"context"
	"errors"
)

// ErrNoEspeak is returned when the binary was built without the espeak tag.
var ErrNoEspeak = errors.New("built without espeak support (use -tags espeak)")

type Espeak struct{}

func NewEspeak(EspeakConfig) (*Espeak, error) { return nil, ErrNoEspeak }

func (*Espeak) Synthesize(context.Context, string) ([]byte, error) { return nil, ErrNoEspeak }
