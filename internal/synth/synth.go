// Package synth renders the audio the agent plays when no synthesized speech
// is available: the recording cue tone and the hold chord. Everything here is
// a pure function returning 8kHz mu-law frames; timed delivery and looping
// belong to the session player.
package synth

import (
	"math"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"

	"callvox/pkg/audioconv"
)

const sampleRate = beep.SampleRate(audioconv.SampleRate)

type ToneConfig struct {
	Frequency float64       `yaml:"frequency"`
	Duration  time.Duration `yaml:"duration"`
	Fade      time.Duration `yaml:"fade"`
	Gain      float64       `yaml:"gain"`
}

func DefaultTone() ToneConfig {
	return ToneConfig{
		Frequency: 880,
		Duration:  250 * time.Millisecond,
		Fade:      20 * time.Millisecond,
		Gain:      0.35,
	}
}

type HoldConfig struct {
	Chord     [3]float64    `yaml:"chord"`
	Duration  time.Duration `yaml:"duration"`
	Crossfade time.Duration `yaml:"crossfade"`
	Gain      float64       `yaml:"gain"`
}

func DefaultHold() HoldConfig {
	return HoldConfig{
		Chord:     [3]float64{261.63, 329.63, 392.00}, // C major
		Duration:  4 * time.Second,
		Crossfade: 400 * time.Millisecond,
		Gain:      0.12,
	}
}

// CueTone renders a short sine beep with a linear fade in and out.
func CueTone(cfg ToneConfig) [][]byte {
	n := frameAligned(sampleRate.N(cfg.Duration))
	if n == 0 {
		return nil
	}
	samples := render(sine(cfg.Frequency, cfg.Gain), n)

	fade := sampleRate.N(cfg.Fade)
	if fade*2 > n {
		fade = n / 2
	}
	for i := 0; i < fade; i++ {
		g := float64(i) / float64(fade)
		samples[i] *= g
		samples[n-1-i] *= g
	}

	return FromPCM(toPCM(samples))
}

// HoldChord renders one loop of a three-tone chord. The tail is crossfaded
// into the head so the last frame flows into the first when looped.
func HoldChord(cfg HoldConfig) [][]byte {
	n := frameAligned(sampleRate.N(cfg.Duration))
	if n == 0 {
		return nil
	}
	x := sampleRate.N(cfg.Crossfade)
	if x > n/2 {
		x = n / 2
	}

	// effects.Gain scales by 1+Gain.
	mix := &effects.Gain{
		Streamer: beep.Mix(
			sine(cfg.Chord[0], 1),
			sine(cfg.Chord[1], 1),
			sine(cfg.Chord[2], 1),
		),
		Gain: cfg.Gain - 1,
	}
	raw := render(mix, n+x)

	out := make([]float64, n)
	copy(out, raw[:n])
	for i := 0; i < x; i++ {
		a := float64(i) / float64(x)
		out[i] = raw[i]*a + raw[n+i]*(1-a)
	}

	return FromPCM(toPCM(out))
}

// Silence renders d of digital silence.
func Silence(d time.Duration) [][]byte {
	return FromPCM(make([]int16, frameAligned(sampleRate.N(d))))
}

// FromPCM frames an 8kHz PCM asset.
func FromPCM(pcm []int16) [][]byte {
	return audioconv.SliceFrames(audioconv.EncodeMulaw(pcm), audioconv.FrameSize)
}

func sine(freq, gain float64) beep.Streamer {
	step := 2 * math.Pi * freq / float64(sampleRate)
	var t int
	return beep.StreamerFunc(func(samples [][2]float64) (n int, ok bool) {
		for i := range samples {
			v := gain * math.Sin(step*float64(t))
			samples[i][0], samples[i][1] = v, v
			t++
		}
		return len(samples), true
	})
}

// render pulls n mono samples from s.
func render(s beep.Streamer, n int) []float64 {
	out := make([]float64, 0, n)
	buf := make([][2]float64, 512)
	for len(out) < n {
		want := n - len(out)
		if want > len(buf) {
			want = len(buf)
		}
		got, ok := s.Stream(buf[:want])
		for i := 0; i < got; i++ {
			out = append(out, buf[i][0])
		}
		if !ok || got == 0 {
			break
		}
	}
	for len(out) < n {
		out = append(out, 0)
	}
	return out
}

func toPCM(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(math.Round(v * 32767))
	}
	return out
}

func frameAligned(n int) int {
	return n - n%audioconv.FrameSize
}
