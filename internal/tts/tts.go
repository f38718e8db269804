// Package tts renders prompts to 8kHz mu-law audio for the phone line.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"callvox/pkg/audioconv"
)

// openAIRate is the sample rate of the "pcm" response format.
const openAIRate = 24000

var ErrEmptyText = errors.New("empty text")

type Synthesizer interface {
	// Synthesize returns 8kHz mu-law audio for text.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Config struct {
	Model        string  `yaml:"model"`
	Voice        string  `yaml:"voice"`
	Instructions string  `yaml:"instructions"`
	Speed        float64 `yaml:"speed"`
}

func DefaultConfig() Config {
	return Config{
		Model:        string(openai.SpeechModelGPT4oMiniTTS),
		Voice:        string(openai.AudioSpeechNewParamsVoiceCoral),
		Instructions: "Speak clearly and warmly, at a relaxed pace, like a helpful scheduling assistant on the phone.",
		Speed:        1.0,
	}
}

type OpenAI struct {
	api openai.Client
	cfg Config
}

func NewOpenAI(api openai.Client, cfg Config) *OpenAI {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = def.Speed
	}
	return &OpenAI{api: api, cfg: cfg}
}

func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(o.cfg.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(o.cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          openai.Float(o.cfg.Speed),
	}
	if o.cfg.Instructions != "" {
		params.Instructions = openai.String(o.cfg.Instructions)
	}

	resp, err := o.api.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}

	pcm := audioconv.Resample(audioconv.PCMFromBytes(raw), openAIRate)
	log.Debug("Synthesized", "chars", len(text), "duration", audioconv.Duration(len(pcm)))
	return audioconv.EncodeMulaw(pcm), nil
}

// Phrasebook serves fixed phrases rendered once at startup and falls back to
// a live synthesizer for everything else. It is read-only after Preload.
type Phrasebook struct {
	next    Synthesizer
	phrases map[string][]byte
}

func NewPhrasebook(next Synthesizer) *Phrasebook {
	return &Phrasebook{next: next, phrases: map[string][]byte{}}
}

// Preload renders texts. Failures are logged and skipped; those phrases are
// synthesized on demand later.
func (p *Phrasebook) Preload(ctx context.Context, texts ...string) {
	for _, t := range texts {
		audio, err := p.next.Synthesize(ctx, t)
		if err != nil {
			log.Warn("Failed to preload phrase", "text", t, "err", err)
			continue
		}
		p.phrases[t] = audio
	}
}

func (p *Phrasebook) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if audio, ok := p.phrases[text]; ok {
		return audio, nil
	}
	return p.next.Synthesize(ctx, text)
}

// EspeakConfig selects the offline voice used when the API cannot render a
// prompt.
type EspeakConfig struct {
	Enabled bool   `yaml:"enabled"`
	Voice   string `yaml:"voice"`
	// Rate is in words per minute; 0 keeps the engine default.
	Rate int `yaml:"rate"`
}

// Fallback tries each synthesizer in order and returns the first audio.
type Fallback []Synthesizer

func (f Fallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var errs []error
	for _, s := range f {
		audio, err := s.Synthesize(ctx, text)
		if err == nil {
			return audio, nil
		}
		if errors.Is(err, ErrEmptyText) || ctx.Err() != nil {
			return nil, err
		}
		log.Warn("Synthesizer failed, trying next", "err", err)
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}
