package stt

import (
	"bytes"
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	openai "github.com/openai/openai-go/v3"

	"callvox/pkg/audioconv"
)

// OpenAI transcribes through the hosted transcription endpoint. Audio is
// uploaded as a 16-bit PCM WAV at 8kHz.
type OpenAI struct {
	api   openai.Client
	model string
}

func NewOpenAI(api openai.Client, model string) *OpenAI {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAI{api: api, model: model}
}

func (o *OpenAI) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	if len(req.Audio) == 0 {
		return Transcript{}, ErrNoAudio
	}

	wavData, err := EncodeWAV(audioconv.DecodeMulaw(req.Audio), audioconv.SampleRate)
	if err != nil {
		return Transcript{}, err
	}

	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(wavData), "turn.wav", "audio/wav"),
		Model:          openai.AudioModel(o.model),
		ResponseFormat: openai.AudioResponseFormatJSON,
		Temperature:    openai.Float(0),
	}
	if req.Hint != "" {
		params.Prompt = openai.String(req.Hint)
	}
	if req.Language != "" {
		params.Language = openai.String(req.Language)
	}

	res, err := o.api.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription: %w", err)
	}

	text := strings.TrimSpace(res.Text)
	log.Debug("Transcribed", "text", text, "bytes", len(req.Audio))
	return Transcript{Text: text}, nil
}

// EncodeWAV wraps mono 16-bit PCM in a WAV container.
func EncodeWAV(pcm []int16, sampleRate int) ([]byte, error) {
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return out.Bytes(), nil
}
