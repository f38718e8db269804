package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

// ErrSchema is returned when the extraction response does not match the
// strict output schema.
var ErrSchema = errors.New("extraction does not match schema")

// Extraction is the only shape the extraction model may return.
type Extraction struct {
	HasDay             bool    `json:"has_day"`
	HasTime            bool    `json:"has_time"`
	DayText            string  `json:"day_text"`
	TimeText           string  `json:"time_text"`
	VagueTime          bool    `json:"vague_time"`
	Confidence         float64 `json:"confidence"`
	NeedsClarification bool    `json:"needs_clarification"`
}

type Extractor interface {
	Extract(ctx context.Context, transcript string) (Extraction, error)
}

type ExtractorFunc func(ctx context.Context, transcript string) (Extraction, error)

func (f ExtractorFunc) Extract(ctx context.Context, transcript string) (Extraction, error) {
	return f(ctx, transcript)
}

const systemPrompt = `
You extract a day and a time of day from a caller's spoken reply on a phone line.
Your ONLY job is to fill the JSON schema you were given.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT answer the caller.
3. Output ONLY JSON. No markdown.
4. Never invent a day or time the caller did not say.

FIELDS:
- has_day: the caller named a day ("Monday", "tomorrow", "March 5th").
- has_time: the caller named a time of day ("two PM", "9:30", "noon").
- day_text: the day exactly as said, lowercase, "" when absent.
- time_text: the time exactly as said, lowercase, "" when absent.
- vague_time: the caller only gave a part of day ("morning", "after lunch", "later").
- confidence: 0..1, how sure you are of the reading.
- needs_clarification: the reply is ambiguous or contradicts itself.

Keep spelled-out numbers as words. Do not convert formats.
`

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"has_day":             map[string]any{"type": "boolean"},
		"has_time":            map[string]any{"type": "boolean"},
		"day_text":            map[string]any{"type": "string"},
		"time_text":           map[string]any{"type": "string"},
		"vague_time":          map[string]any{"type": "boolean"},
		"confidence":          map[string]any{"type": "number"},
		"needs_clarification": map[string]any{"type": "boolean"},
	},
	"required": []string{
		"has_day", "has_time", "day_text", "time_text",
		"vague_time", "confidence", "needs_clarification",
	},
	"additionalProperties": false,
}

// Client extracts day/time fields with an OpenAI chat model constrained by a
// strict JSON schema.
type Client struct {
	api   openai.Client
	model string
}

func NewClient(api openai.Client, model string) *Client {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &Client{api: api, model: model}
}

func (c *Client) Extract(ctx context.Context, transcript string) (Extraction, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(transcript),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "day_time_extraction",
					Description: openai.String("Day and time mentioned by a caller"),
					Schema:      extractionSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Extraction{}, fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return Extraction{}, fmt.Errorf("empty message content")
	}

	log.Debug("Extracted", "data", content)

	return ParseExtraction([]byte(content))
}

// ParseExtraction decodes a model reply and rejects anything outside the schema.
func ParseExtraction(data []byte) (Extraction, error) {
	var raw struct {
		HasDay             *bool    `json:"has_day"`
		HasTime            *bool    `json:"has_time"`
		DayText            *string  `json:"day_text"`
		TimeText           *string  `json:"time_text"`
		VagueTime          *bool    `json:"vague_time"`
		Confidence         *float64 `json:"confidence"`
		NeedsClarification *bool    `json:"needs_clarification"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v (raw: %s)", ErrSchema, err, data)
	}
	if raw.HasDay == nil || raw.HasTime == nil || raw.DayText == nil || raw.TimeText == nil ||
		raw.VagueTime == nil || raw.Confidence == nil || raw.NeedsClarification == nil {
		return Extraction{}, fmt.Errorf("%w: missing field (raw: %s)", ErrSchema, data)
	}

	out := Extraction{
		HasDay:             *raw.HasDay,
		HasTime:            *raw.HasTime,
		DayText:            strings.ToLower(strings.TrimSpace(*raw.DayText)),
		TimeText:           strings.ToLower(strings.TrimSpace(*raw.TimeText)),
		VagueTime:          *raw.VagueTime,
		Confidence:         *raw.Confidence,
		NeedsClarification: *raw.NeedsClarification,
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return Extraction{}, fmt.Errorf("%w: confidence %v out of range", ErrSchema, out.Confidence)
	}
	if out.HasDay && out.DayText == "" {
		return Extraction{}, fmt.Errorf("%w: has_day without day_text", ErrSchema)
	}
	if out.HasTime && out.TimeText == "" {
		return Extraction{}, fmt.Errorf("%w: has_time without time_text", ErrSchema)
	}
	return out, nil
}
