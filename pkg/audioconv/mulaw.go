package audioconv

// G.711 mu-law companding as used by telephony media streams.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

var mulawDecodeTable = func() [256]int16 {
	var t [256]int16
	for i := range t {
		u := ^byte(i)
		sign := u & 0x80
		exp := (u >> 4) & 0x07
		mant := u & 0x0F
		v := ((int(mant) << 3) + mulawBias) << exp
		v -= mulawBias
		if sign != 0 {
			v = -v
		}
		t[i] = int16(v)
	}
	return t
}()

// LinearToMulaw compresses one 16-bit sample. Samples beyond the clip
// ceiling saturate to the largest code instead of wrapping.
func LinearToMulaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exp := 7
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (s >> (exp + 3)) & 0x0F

	return ^byte(sign | exp<<4 | mant)
}

// MulawToLinear expands one mu-law byte.
func MulawToLinear(u byte) int16 {
	return mulawDecodeTable[u]
}

// EncodeMulaw produces one byte per input sample.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = LinearToMulaw(s)
	}
	return out
}

func DecodeMulaw(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, u := range b {
		out[i] = mulawDecodeTable[u]
	}
	return out
}
