package audio

import (
	"bytes"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/naturalspeech/naturalspeech/tts"
)

const defaultPollInterval = 20 * time.Millisecond

// MixerOption configures a Mixer.
type MixerOption func(*Mixer)

// WithLogger sets the mixer logger.
func WithLogger(l *log.Logger) MixerOption {
	return func(m *Mixer) { m.logger = l }
}

// WithPollInterval sets how often playing clips are checked for completion
// and gain changes.
func WithPollInterval(d time.Duration) MixerOption {
	return func(m *Mixer) { m.poll = d }
}

// WithMasterGain sets the initial master gain.
func WithMasterGain(g float64) MixerOption {
	return func(m *Mixer) { m.masterGain = g }
}

// Mixer implements tts.AudioEngine on top of a Device.
type Mixer struct {
	device Device
	logger *log.Logger
	poll   time.Duration

	mu         sync.Mutex
	lines      map[string]*line
	masterGain float64
	muted      bool
	closed     bool
	wg         sync.WaitGroup
}

type clip struct {
	data []byte
	gain tts.GainFunc
}

type line struct {
	name    string
	queue   []clip
	current Track
	gain    tts.GainFunc
}

// NewMixer creates a mixer playing on device.
func NewMixer(device Device, opts ...MixerOption) *Mixer {
	m := &Mixer{
		device:     device,
		poll:       defaultPollInterval,
		lines:      make(map[string]*line),
		masterGain: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.Default().WithPrefix("audio")
	}
	return m
}

// Play implements tts.AudioEngine. Clips on the same line play one after
// another; Play never blocks on playback.
func (m *Mixer) Play(name string, a tts.Audio, gain tts.GainFunc) {
	data, err := Convert(a, m.device.Format())
	if err != nil {
		m.logger.Error("Cannot play audio", "line", name, "err", err)
		return
	}
	if len(data) == 0 {
		return
	}
	if gain == nil {
		gain = tts.ConstantGain(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	l, ok := m.lines[name]
	if !ok {
		l = &line{name: name}
		m.lines[name] = l
		m.wg.Add(1)
		go m.run(l)
	}
	l.queue = append(l.queue, clip{data: data, gain: gain})
}

func (m *Mixer) run(l *line) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(l.queue) == 0 || m.closed {
			delete(m.lines, l.name)
			m.mu.Unlock()
			return
		}
		c := l.queue[0]
		l.queue = l.queue[1:]
		track := m.device.Open(bytes.NewReader(c.data))
		l.current, l.gain = track, c.gain
		track.SetVolume(m.volumeLocked(c.gain))
		m.mu.Unlock()

		track.Play()
		m.wait(l, track)

		m.mu.Lock()
		if l.current == track {
			l.current, l.gain = nil, nil
		}
		m.mu.Unlock()
	}
}

// wait returns once track finished or was closed, following gain changes.
func (m *Mixer) wait(l *line, track Track) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for range ticker.C {
		if !track.IsPlaying() {
			return
		}
		m.mu.Lock()
		if l.current != track {
			m.mu.Unlock()
			return
		}
		track.SetVolume(m.volumeLocked(l.gain))
		m.mu.Unlock()
	}
}

func (m *Mixer) volumeLocked(gain tts.GainFunc) float64 {
	if m.muted {
		return 0
	}
	return clamp(float64(gain())*m.masterGain, 0, 1)
}

// CloseLineConditional implements tts.AudioEngine.
func (m *Mixer) CloseLineConditional(match tts.LineMatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, l := range m.lines {
		if match(name) {
			m.stopLocked(l)
		}
	}
}

// CloseAll implements tts.AudioEngine.
func (m *Mixer) CloseAll() {
	m.CloseLineConditional(tts.MatchAny)
}

func (m *Mixer) stopLocked(l *line) {
	l.queue = nil
	if l.current != nil {
		l.current.Pause()
		l.current, l.gain = nil, nil
	}
}

// SetMasterGain scales every line. The effective volume is capped at 1.
func (m *Mixer) SetMasterGain(g float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterGain = g
	m.applyLocked()
}

// MasterGain returns the master gain.
func (m *Mixer) MasterGain() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterGain
}

// SetMuted mutes or unmutes every line without dropping audio.
func (m *Mixer) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	m.applyLocked()
}

// Muted reports whether output is muted.
func (m *Mixer) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Mixer) applyLocked() {
	for _, l := range m.lines {
		if l.current != nil {
			l.current.SetVolume(m.volumeLocked(l.gain))
		}
	}
}

// Lines returns the names of lines with pending or playing audio.
func (m *Mixer) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.lines))
	for name := range m.lines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close stops all playback and waits for the line goroutines.
func (m *Mixer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, l := range m.lines {
		m.stopLocked(l)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
