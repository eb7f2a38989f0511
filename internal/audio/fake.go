package audio

import (
	"io"
	"sync"
	"time"

	"github.com/naturalspeech/naturalspeech/tts"
)

// FakeDevice is a Device that plays nothing. A clip "plays" for its real
// duration scaled by the speed factor.
type FakeDevice struct {
	format tts.Format
	speed  float64

	mu     sync.Mutex
	tracks []*FakeTrack
	opened chan struct{}
}

// NewFakeDevice creates a fake device in format. speed divides clip
// durations; 10 plays a one second clip in 100ms.
func NewFakeDevice(format tts.Format, speed float64) *FakeDevice {
	if speed <= 0 {
		speed = 1
	}
	return &FakeDevice{format: format, speed: speed, opened: make(chan struct{}, 1)}
}

// Format implements Device.
func (d *FakeDevice) Format() tts.Format {
	return d.format
}

// Open implements Device.
func (d *FakeDevice) Open(r io.Reader) Track {
	data, _ := io.ReadAll(r)
	frames := len(data) / d.format.FrameSize()
	length := time.Duration(float64(time.Duration(frames)*time.Second/time.Duration(d.format.SampleRate)) / d.speed)

	t := &FakeTrack{data: data, length: length, stop: make(chan struct{})}
	d.mu.Lock()
	d.tracks = append(d.tracks, t)
	d.mu.Unlock()
	select {
	case d.opened <- struct{}{}:
	default:
	}
	return t
}

// Tracks returns every track opened so far.
func (d *FakeDevice) Tracks() []*FakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeTrack, len(d.tracks))
	copy(out, d.tracks)
	return out
}

// WaitForTracks waits until n tracks were opened.
func (d *FakeDevice) WaitForTracks(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(d.Tracks()) >= n {
			return true
		}
		select {
		case <-d.opened:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return false
		}
	}
}

// FakeTrack records what happened to one clip.
type FakeTrack struct {
	data   []byte
	length time.Duration

	mu        sync.Mutex
	started   time.Time
	playing   bool
	stopped   bool
	completed bool
	volumes   []float64
	stop      chan struct{}
	stopOnce  sync.Once
}

// Play implements Track.
func (t *FakeTrack) Play() {
	t.mu.Lock()
	if t.playing || t.stopped {
		t.mu.Unlock()
		return
	}
	t.playing = true
	t.started = time.Now()
	t.mu.Unlock()

	go func() {
		select {
		case <-time.After(t.length):
			t.mu.Lock()
			t.playing = false
			t.completed = true
			t.mu.Unlock()
		case <-t.stop:
		}
	}()
}

// Pause implements Track. A paused fake track does not resume.
func (t *FakeTrack) Pause() {
	t.mu.Lock()
	t.playing = false
	t.stopped = true
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.stop) })
}

// IsPlaying implements Track.
func (t *FakeTrack) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// SetVolume implements Track.
func (t *FakeTrack) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.volumes); n == 0 || t.volumes[n-1] != v {
		t.volumes = append(t.volumes, v)
	}
}

// Bytes returns the PCM data of the clip.
func (t *FakeTrack) Bytes() []byte {
	return t.data
}

// Volume returns the last volume set.
func (t *FakeTrack) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.volumes) == 0 {
		return 1
	}
	return t.volumes[len(t.volumes)-1]
}

// Volumes returns every distinct volume set, in order.
func (t *FakeTrack) Volumes() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.volumes))
	copy(out, t.volumes)
	return out
}

// Completed reports whether the clip played to its end.
func (t *FakeTrack) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Stopped reports whether the clip was cut off.
func (t *FakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Started returns when Play was called.
func (t *FakeTrack) Started() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}
