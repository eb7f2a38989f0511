package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/naturalspeech/naturalspeech/tts"
)

// ErrUnsupportedFormat is returned for audio Convert cannot read.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Convert returns a's samples as signed 16-bit little endian PCM in the
// channel count and sample rate of to. Rates are converted by linear
// interpolation.
func Convert(a tts.Audio, to tts.Format) ([]byte, error) {
	from := a.Format
	if from.BitDepth != 16 || !from.Signed || from.Channels < 1 || from.SampleRate < 1 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, from)
	}
	if to.Channels < 1 || to.Channels > 2 || to.SampleRate < 1 {
		return nil, fmt.Errorf("%w: output %s", ErrUnsupportedFormat, to)
	}

	var order binary.ByteOrder = binary.BigEndian
	if from.LittleEndian {
		order = binary.LittleEndian
	}

	// mono source frames
	frames := len(a.Bytes) / from.FrameSize()
	mono := make([]float64, frames)
	for i := range mono {
		var sum float64
		for c := 0; c < from.Channels; c++ {
			off := (i*from.Channels + c) * 2
			sum += float64(int16(order.Uint16(a.Bytes[off:])))
		}
		mono[i] = sum / float64(from.Channels)
	}

	if from.SampleRate != to.SampleRate && frames > 1 {
		mono = resample(mono, from.SampleRate, to.SampleRate)
	}

	out := make([]byte, len(mono)*to.Channels*2)
	for i, s := range mono {
		v := uint16(int16(clamp(s, -32768, 32767)))
		for c := 0; c < to.Channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*to.Channels+c)*2:], v)
		}
	}
	return out, nil
}

func resample(in []float64, fromRate, toRate int) []float64 {
	n := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	out := make([]float64, n)
	step := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
