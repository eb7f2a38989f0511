package tts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrFormatMismatch is returned when joining audio of different formats.
var ErrFormatMismatch = errors.New("audio format mismatch")

// Format describes raw PCM data.
type Format struct {
	SampleRate   int
	Channels     int
	BitDepth     int
	Signed       bool
	LittleEndian bool
}

// PiperFormat is the fixed output format of piper --output-raw.
var PiperFormat = Format{
	SampleRate:   22050,
	Channels:     1,
	BitDepth:     16,
	Signed:       true,
	LittleEndian: true,
}

func (f Format) String() string {
	sign := "u"
	if f.Signed {
		sign = "s"
	}
	endian := "be"
	if f.LittleEndian {
		endian = "le"
	}
	return fmt.Sprintf("%s%d%s/%dHz/%dch", sign, f.BitDepth, endian, f.SampleRate, f.Channels)
}

// FrameSize is the number of bytes per sample across all channels.
func (f Format) FrameSize() int {
	return f.BitDepth / 8 * f.Channels
}

// Audio is an immutable PCM buffer.
type Audio struct {
	Bytes  []byte
	Format Format
}

// Len returns the size of the buffer in bytes.
func (a Audio) Len() int {
	return len(a.Bytes)
}

// Duration estimates the playback length.
func (a Audio) Duration() time.Duration {
	frame := a.Format.FrameSize()
	if frame == 0 || a.Format.SampleRate == 0 {
		return 0
	}
	frames := len(a.Bytes) / frame
	return time.Duration(frames) * time.Second / time.Duration(a.Format.SampleRate)
}

// Reader returns a reader over the PCM bytes.
func (a Audio) Reader() io.Reader {
	return bytes.NewReader(a.Bytes)
}

// Join concatenates audio buffers in argument order. All buffers must share
// the same format.
func Join(parts ...Audio) (Audio, error) {
	if len(parts) == 0 {
		return Audio{}, nil
	}

	format := parts[0].Format
	size := 0
	for i, p := range parts {
		if p.Format != format {
			return Audio{}, fmt.Errorf("%w: part %d is %s, want %s", ErrFormatMismatch, i, p.Format, format)
		}
		size += len(p.Bytes)
	}

	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p.Bytes...)
	}
	return Audio{Bytes: buf, Format: format}, nil
}
