package audioconv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFrameConstants(t *testing.T) {
	assert.Equal(t, 160, FrameSize)
	assert.Equal(t, FrameDuration, Duration(FrameSize))
	assert.Equal(t, 8000, BytesFor(time.Second))
}

func TestSliceFrames_DropsRemainder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		buf := rapid.SliceOfN(rapid.Byte(), 0, 4000).Draw(rt, "buf")
		size := rapid.IntRange(1, 400).Draw(rt, "size")

		frames := SliceFrames(buf, size)
		if len(frames) != len(buf)/size {
			rt.Fatalf("got %d frames, want %d", len(frames), len(buf)/size)
		}
		for i, f := range frames {
			if len(f) != size {
				rt.Fatalf("frame %d has %d bytes", i, len(f))
			}
		}
		joined := JoinFrames(frames)
		if string(joined) != string(buf[:len(buf)-len(buf)%size]) {
			rt.Fatalf("frames do not reassemble the input prefix")
		}
	})
}

// The trailing partial frame is dropped rather than carried into the next
// batch; this pins the behavior so a change to carry-over is deliberate.
func TestSliceFrames_TrailingPartialIsLost(t *testing.T) {
	buf := make([]byte, FrameSize*2+37)
	frames := SliceFrames(buf, FrameSize)
	require.Len(t, frames, 2)
	assert.Len(t, JoinFrames(frames), FrameSize*2)
}

func TestSliceFrames_InvalidSize(t *testing.T) {
	assert.Nil(t, SliceFrames([]byte{1, 2, 3}, 0))
}

func TestPCMBytesRoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 12345, -32768, 32767}
	assert.Equal(t, pcm, PCMFromBytes(PCMToBytes(pcm)))
	assert.Len(t, PCMFromBytes([]byte{1, 2, 3}), 1)
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.InDelta(t, 1000.0, RMS([]int16{1000, -1000, 1000, -1000}), 1e-9)

	silence := EncodeMulaw(make([]int16, FrameSize))
	assert.Zero(t, MulawRMS(silence))
}
