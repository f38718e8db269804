package audioconv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// DecodeFile loads an audio asset (wav, mp3, ogg vorbis or ogg opus) and
// returns it as mono 16-bit PCM at 8kHz.
func DecodeFile(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return decodeWAV(f)
	case ".mp3":
		return decodeMP3(f)
	case ".ogg", ".oga", ".opus":
		return decodeOgg(f)
	default:
		br := bufio.NewReader(f)
		magic, _ := br.Peek(4)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		switch string(magic) {
		case "RIFF":
			return decodeWAV(f)
		case "OggS":
			return decodeOgg(f)
		default:
			return nil, fmt.Errorf("unsupported format: %s (supported: wav/mp3/ogg-vorbis/ogg-opus)", ext)
		}
	}
}

func decodeOgg(f *os.File) ([]int16, error) {
	if s, err := decodeOggVorbis(f); err == nil {
		return s, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	s, err := decodeOggOpus(f)
	if err != nil {
		return nil, fmt.Errorf("cannot decode ogg as vorbis or opus: %w", err)
	}
	return s, nil
}

func decodeWAV(r io.ReadSeeker) ([]int16, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}

	x := float32ToInt16(downmixInterleaved(intSliceToFloat32(pb.Data, bd), ch))
	return Resample(x, sr), nil
}

func decodeMP3(r io.Reader) ([]int16, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}
	// go-mp3 always decodes to interleaved stereo.
	x := float32ToInt16(downmixInterleaved(int16SliceToFloat32(ints), 2))

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return Resample(x, sr), nil
}

func decodeOggVorbis(r io.Reader) ([]int16, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	x := float32ToInt16(downmixInterleaved(pcm, format.Channels))
	return Resample(x, format.SampleRate), nil
}

func decodeOggOpus(rs io.ReadSeeker) ([]int16, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm48) == 0 {
		return nil, errors.New("empty opus stream")
	}

	x := float32ToInt16(downmixInterleaved(pcm48, ch))
	return Resample(x, 48000), nil
}

// helpers

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func float32ToInt16(data []float32) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		out[i] = clampInt16(float64(v) * 32767)
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
