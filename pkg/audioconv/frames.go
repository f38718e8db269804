package audioconv

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// SampleRate of the telephony leg.
	SampleRate = 8000
	// FrameDuration is the duration carried by one outbound media message.
	FrameDuration = 20 * time.Millisecond
	// FrameSize is the byte length of one mu-law frame (one byte per sample).
	FrameSize = SampleRate * int(FrameDuration/time.Millisecond) / 1000
)

// SliceFrames cuts b into consecutive frames of exactly size bytes.
// A trailing remainder shorter than size is dropped, not carried over.
func SliceFrames(b []byte, size int) [][]byte {
	if size <= 0 {
		return nil
	}
	n := len(b) / size
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frame := make([]byte, size)
		copy(frame, b[i*size:(i+1)*size])
		frames = append(frames, frame)
	}
	return frames
}

// JoinFrames concatenates frames back into one buffer.
func JoinFrames(frames [][]byte) []byte {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// Duration of n mu-law bytes at 8kHz.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// BytesFor is the inverse of Duration.
func BytesFor(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}

// PCMFromBytes reads little-endian signed 16-bit samples. An odd trailing byte is ignored.
func PCMFromBytes(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// RMS energy of a block of samples.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// MulawRMS decodes a mu-law frame and returns its RMS energy.
func MulawRMS(frame []byte) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, u := range frame {
		v := float64(mulawDecodeTable[u])
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
