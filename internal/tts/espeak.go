//go:build espeak

package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

extern int goCollect(short *wav, int numsamples);

static inline int
collect(short *wav, int numsamples, espeak_EVENT *events)
{
	return goCollect(wav, numsamples);
}

static inline int
espeak_open(const char *voice, int rate)
{
	int sr = espeak_Initialize(AUDIO_OUTPUT_SYNCHRONOUS, 500, NULL, 0);
	if (sr <= 0)
	{ return -1; }

	espeak_SetSynthCallback(collect);
	if (voice && *voice && espeak_SetVoiceByName(voice) != EE_OK)
	{ return -2; }
	if (rate > 0)
	{ espeak_SetParameter(espeakRATE, rate, 0); }

	return sr;
}

static inline int
espeak_render(const char *text)
{
	if (!text)
	{ return -1; }

	espeak_ERROR err = espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	if (err != EE_OK)
	{ return (int)err; }

	return espeak_Synchronize() == EE_OK ? 0 : -1;
}
*/
import "C"

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"unsafe"

	"callvox/pkg/audioconv"
)

// espeak-ng keeps one global engine, so every synthesis takes mu and the
// callback appends to the shared buffer.
var (
	mu      sync.Mutex
	opened  bool
	srcRate int
	pcmBuf  []int16
)

//export goCollect
func goCollect(wav *C.short, n C.int) C.int {
	if wav == nil || n <= 0 {
		return 0
	}
	pcmBuf = append(pcmBuf, unsafe.Slice((*int16)(unsafe.Pointer(wav)), int(n))...)
	return 0
}

// Espeak renders text offline with espeak-ng. Quality is well below the
// API voices; it exists so a prompt is still spoken when the API is down.
type Espeak struct {
	cfg EspeakConfig
}

func NewEspeak(cfg EspeakConfig) (*Espeak, error) {
	mu.Lock()
	defer mu.Unlock()
	if !opened {
		voice := C.CString(cfg.Voice)
		defer C.free(unsafe.Pointer(voice))

		rc := int(C.espeak_open(voice, C.int(cfg.Rate)))
		if rc < 0 {
			return nil, fmt.Errorf("espeak init (voice %q): %d", cfg.Voice, rc)
		}
		srcRate = rc
		opened = true
	}
	return &Espeak{cfg: cfg}, nil
}

func (e *Espeak) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	mu.Lock()
	defer mu.Unlock()
	pcmBuf = pcmBuf[:0]
	if rc := C.espeak_render(ctext); rc != 0 {
		return nil, fmt.Errorf("espeak synth: %d", int(rc))
	}

	pcm := audioconv.Resample(pcmBuf, srcRate)
	log.Debug("Synthesized locally", "chars", len(text), "duration", audioconv.Duration(len(pcm)))
	return audioconv.EncodeMulaw(pcm), nil
}
