package call

import (
	"fmt"

	"callvox/internal/synth"
	"callvox/pkg/audioconv"
)

// Assets are the pre-rendered frames every call shares.
type Assets struct {
	Cue  [][]byte
	Hold [][]byte
}

// LoadAssets renders the cue tone and the hold loop. holdFile, when set,
// replaces the synthetic hold chord with a recording.
func LoadAssets(tone synth.ToneConfig, hold synth.HoldConfig, holdFile string) (Assets, error) {
	a := Assets{
		Cue:  synth.CueTone(tone),
		Hold: synth.HoldChord(hold),
	}
	if holdFile == "" {
		return a, nil
	}

	pcm, err := audioconv.DecodeFile(holdFile)
	if err != nil {
		return Assets{}, fmt.Errorf("load hold music: %w", err)
	}
	frames := synth.FromPCM(pcm)
	if len(frames) == 0 {
		return Assets{}, fmt.Errorf("load hold music: %s is shorter than one frame", holdFile)
	}
	a.Hold = frames
	return a, nil
}
