package stt

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-audio/wav"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callvox/pkg/audioconv"
)

func TestEncodeWAV(t *testing.T) {
	pcm := []int16{0, 1000, -1000, 32767, -32768, 42}
	data, err := EncodeWAV(pcm, audioconv.SampleRate)
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, audioconv.SampleRate, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)
	got := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		got[i] = int16(v)
	}
	assert.Equal(t, pcm, got)
}

func TestSeekBuffer(t *testing.T) {
	var b seekBuffer
	_, _ = b.Write([]byte("hello world"))
	pos, err := b.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, pos)
	_, _ = b.Write([]byte("J"))
	_, err = b.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	_, _ = b.Write([]byte("W"))
	assert.Equal(t, "Jello World", string(b.Bytes()))

	_, err = b.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestOpenAI_Transcribe(t *testing.T) {
	var gotPrompt, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotPrompt = r.FormValue("prompt")
		gotModel = r.FormValue("model")
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "turn.wav", hdr.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Monday at two PM "}`))
	}))
	defer srv.Close()

	api := openai.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	tr := NewOpenAI(api, "")

	audio := audioconv.EncodeMulaw(make([]int16, audioconv.FrameSize*10))
	res, err := tr.Transcribe(context.Background(), Request{Audio: audio, Hint: "Monday, Tuesday"})
	require.NoError(t, err)
	assert.Equal(t, "Monday at two PM", res.Text)
	assert.Equal(t, "Monday, Tuesday", gotPrompt)
	assert.Equal(t, "whisper-1", gotModel)
}

func TestOpenAI_NoAudio(t *testing.T) {
	tr := NewOpenAI(openai.NewClient(option.WithAPIKey("test")), "")
	_, err := tr.Transcribe(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoAudio)
}
