package system

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
	"github.com/naturalspeech/naturalspeech/tts"
)

// ErrUnsupportedWAV is returned for WAV data that is not integer PCM.
var ErrUnsupportedWAV = errors.New("unsupported wav data")

const wavPCM = 1

// DecodeAudio converts synthesizer output to 16-bit little endian PCM. Data
// without a RIFF header is taken as raw audio in tts.PiperFormat.
func DecodeAudio(data []byte) (tts.Audio, error) {
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		if len(data)%2 != 0 {
			data = data[:len(data)-1]
		}
		return tts.Audio{Bytes: data, Format: tts.PiperFormat}, nil
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return tts.Audio{}, fmt.Errorf("%w: invalid header", ErrUnsupportedWAV)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return tts.Audio{}, fmt.Errorf("decode wav: %w", err)
	}
	if d.WavAudioFormat != wavPCM {
		return tts.Audio{}, fmt.Errorf("%w: format %d", ErrUnsupportedWAV, d.WavAudioFormat)
	}

	var shift func(int) int
	switch d.BitDepth {
	case 8:
		// unsigned 8-bit
		shift = func(s int) int { return (s - 128) << 8 }
	case 16:
		shift = func(s int) int { return s }
	case 24:
		shift = func(s int) int { return s >> 8 }
	case 32:
		shift = func(s int) int { return s >> 16 }
	default:
		return tts.Audio{}, fmt.Errorf("%w: %d bits", ErrUnsupportedWAV, d.BitDepth)
	}

	out := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(shift(s))))
	}
	return tts.Audio{
		Bytes: out,
		Format: tts.Format{
			SampleRate:   int(d.SampleRate),
			Channels:     int(d.NumChans),
			BitDepth:     16,
			Signed:       true,
			LittleEndian: true,
		},
	}, nil
}
