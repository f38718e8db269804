package synth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callvox/pkg/audioconv"
)

func TestCueTone_FramesAndEnvelope(t *testing.T) {
	cfg := DefaultTone()
	frames := CueTone(cfg)
	require.Len(t, frames, int(cfg.Duration/audioconv.FrameDuration))
	for _, f := range frames {
		assert.Len(t, f, audioconv.FrameSize)
	}

	pcm := audioconv.DecodeMulaw(audioconv.JoinFrames(frames))
	assert.Less(t, abs(pcm[0]), int16(100), "fade-in starts near silence")
	assert.Less(t, abs(pcm[len(pcm)-1]), int16(400), "fade-out ends near silence")

	mid := pcm[len(pcm)/2-80 : len(pcm)/2+80]
	assert.Greater(t, audioconv.RMS(mid), 5000.0)
}

func TestCueTone_ZeroDuration(t *testing.T) {
	assert.Empty(t, CueTone(ToneConfig{Frequency: 440}))
}

func TestHoldChord_LoopsSmoothly(t *testing.T) {
	cfg := DefaultHold()
	frames := HoldChord(cfg)
	require.Len(t, frames, int(cfg.Duration/audioconv.FrameDuration))

	pcm := audioconv.DecodeMulaw(audioconv.JoinFrames(frames))
	assert.Greater(t, audioconv.RMS(pcm), 1000.0)

	// The jump across the loop point should be no larger than an ordinary
	// sample-to-sample step inside the loop.
	maxStep := int16(0)
	for i := 1; i < len(pcm); i++ {
		if d := abs(pcm[i] - pcm[i-1]); d > maxStep {
			maxStep = d
		}
	}
	seam := abs(pcm[0] - pcm[len(pcm)-1])
	assert.LessOrEqual(t, seam, maxStep+maxStep/4)
}

func TestHoldChord_GainScalesMix(t *testing.T) {
	rms := func(gain float64) float64 {
		cfg := DefaultHold()
		cfg.Gain = gain
		return audioconv.RMS(audioconv.DecodeMulaw(audioconv.JoinFrames(HoldChord(cfg))))
	}

	assert.Zero(t, rms(0))
	base := rms(0.12)
	require.Greater(t, base, 0.0)
	assert.InEpsilon(t, 2.0, rms(0.24)/base, 0.15)
}

func TestSilence(t *testing.T) {
	frames := Silence(100 * time.Millisecond)
	require.Len(t, frames, 5)
	assert.Zero(t, audioconv.MulawRMS(frames[0]))
}

func abs(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}
