package audioconv

import "math"

// Resample converts 16-bit mono PCM at sourceRate to 8kHz.
//
// A 3-point moving average is applied first to reduce aliasing, then every
// output sample is linearly interpolated between the two nearest filtered
// input samples. The output holds floor(len(pcm)*8000/sourceRate) samples.
func Resample(pcm []int16, sourceRate int) []int16 {
	if sourceRate <= 0 || len(pcm) == 0 {
		return nil
	}
	if sourceRate == SampleRate {
		return append([]int16(nil), pcm...)
	}

	filtered := smooth3(pcm)
	ratio := float64(sourceRate) / float64(SampleRate)
	outLen := len(pcm) * SampleRate / sourceRate
	out := make([]int16, outLen)
	last := len(filtered) - 1

	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		i0 := int(math.Floor(pos))
		if i0 > last {
			i0 = last
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		frac := pos - float64(i0)
		v := filtered[i0]*(1-frac) + filtered[i1]*frac
		out[i] = clampInt16(math.Round(v))
	}
	return out
}

func smooth3(pcm []int16) []float64 {
	out := make([]float64, len(pcm))
	for i := range pcm {
		sum := float64(pcm[i])
		n := 1.0
		if i > 0 {
			sum += float64(pcm[i-1])
			n++
		}
		if i+1 < len(pcm) {
			sum += float64(pcm[i+1])
			n++
		}
		out[i] = sum / n
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// UpsampleFloat converts 8kHz PCM into float32 samples in [-1, 1] at outRate,
// the input format local speech models expect.
func UpsampleFloat(pcm []int16, outRate int) []float32 {
	return resampleLinear(int16SliceToFloat32(pcm), SampleRate, outRate)
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}
