package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/naturalspeech/naturalspeech/tts"
)

// Track is one clip opened on a Device.
type Track interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
}

// Device is an audio output accepting PCM in its Format.
type Device interface {
	Format() tts.Format
	Open(r io.Reader) Track
}

// DeviceConfig contains configuration for the output device.
type DeviceConfig struct {
	SampleRate int
	Channels   int
	BufferSize time.Duration
}

// DefaultDeviceConfig matches the piper output so most speech plays
// without resampling.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate: tts.PiperFormat.SampleRate,
		Channels:   1,
		BufferSize: 100 * time.Millisecond,
	}
}

func (c DeviceConfig) validate() error {
	switch c.SampleRate {
	case 16000, 22050, 44100, 48000:
	default:
		return fmt.Errorf("sample rate must be 16000, 22050, 44100 or 48000 Hz, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}
	if c.BufferSize < 0 {
		return errors.New("buffer size cannot be negative")
	}
	return nil
}

func (c DeviceConfig) format() tts.Format {
	return tts.Format{
		SampleRate:   c.SampleRate,
		Channels:     c.Channels,
		BitDepth:     16,
		Signed:       true,
		LittleEndian: true,
	}
}

// OtoDevice plays through the system audio output. Only one may exist per
// process.
type OtoDevice struct {
	context *oto.Context
	format  tts.Format
}

// NewOtoDevice opens the system audio output.
func NewOtoDevice(cfg DeviceConfig) (*OtoDevice, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	return &OtoDevice{context: ctx, format: cfg.format()}, nil
}

// Format implements Device.
func (d *OtoDevice) Format() tts.Format {
	return d.format
}

// Open implements Device.
func (d *OtoDevice) Open(r io.Reader) Track {
	return d.context.NewPlayer(r)
}
