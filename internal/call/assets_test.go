package call

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callvox/internal/synth"
	"callvox/pkg/audioconv"
)

func TestLoadAssets(t *testing.T) {
	a, err := LoadAssets(synth.DefaultTone(), synth.DefaultHold(), "")
	require.NoError(t, err)
	require.NotEmpty(t, a.Cue)
	require.NotEmpty(t, a.Hold)
	for _, f := range append(a.Cue, a.Hold...) {
		assert.Len(t, f, audioconv.FrameSize)
	}

	_, err = LoadAssets(synth.DefaultTone(), synth.DefaultHold(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorContains(t, err, "load hold music")
}
