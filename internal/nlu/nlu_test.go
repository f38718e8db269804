package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraction(t *testing.T) {
	ext, err := ParseExtraction([]byte(`{
		"has_day": true, "has_time": true,
		"day_text": " Monday ", "time_text": "two PM",
		"vague_time": false, "confidence": 0.92, "needs_clarification": false
	}`))
	require.NoError(t, err)
	assert.Equal(t, Extraction{
		HasDay:     true,
		HasTime:    true,
		DayText:    "monday",
		TimeText:   "two pm",
		Confidence: 0.92,
	}, ext)
}

func TestParseExtraction_RejectsOffSchema(t *testing.T) {
	cases := map[string]string{
		"not json":      `Monday at two`,
		"unknown field": `{"has_day":true,"has_time":false,"day_text":"monday","time_text":"","vague_time":false,"confidence":1,"needs_clarification":false,"mood":"happy"}`,
		"missing field": `{"has_day":true,"has_time":false,"day_text":"monday","time_text":"","vague_time":false,"confidence":1}`,
		"confidence":    `{"has_day":false,"has_time":false,"day_text":"","time_text":"","vague_time":false,"confidence":7,"needs_clarification":false}`,
		"day no text":   `{"has_day":true,"has_time":false,"day_text":"","time_text":"","vague_time":false,"confidence":1,"needs_clarification":false}`,
		"time no text":  `{"has_day":false,"has_time":true,"day_text":"","time_text":" ","vague_time":false,"confidence":1,"needs_clarification":false}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseExtraction([]byte(raw))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}
