package mock

import (
	"slices"
	"sync"
	"time"

	"github.com/naturalspeech/naturalspeech/tts"
)

// Play records one tts.AudioEngine.Play call.
type Play struct {
	Line string
	Text string
	Gain float32
}

// Audio is a tts.AudioEngine that records what it is asked to play.
type Audio struct {
	mu         sync.Mutex
	plays      []Play
	lineCloses int
	allCloses  int
	notify     chan struct{}
}

// NewAudio creates an empty recording audio engine.
func NewAudio() *Audio {
	return &Audio{notify: make(chan struct{}, 1)}
}

func (a *Audio) Play(line string, audio tts.Audio, gain tts.GainFunc) {
	var g float32 = 1
	if gain != nil {
		g = gain()
	}
	a.mu.Lock()
	a.plays = append(a.plays, Play{Line: line, Text: string(audio.Bytes), Gain: g})
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *Audio) CloseLineConditional(tts.LineMatcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lineCloses++
}

func (a *Audio) CloseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allCloses++
}

// Plays returns every recorded play in order.
func (a *Audio) Plays() []Play {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.plays)
}

// WaitForPlays waits until at least n plays were recorded.
func (a *Audio) WaitForPlays(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(a.Plays()) >= n {
			return true
		}
		select {
		case <-a.notify:
		case <-deadline:
			return len(a.Plays()) >= n
		}
	}
}

// Closes returns the number of CloseLineConditional and CloseAll calls.
func (a *Audio) Closes() (lines, all int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lineCloses, a.allCloses
}

// Registry is a tts.VoiceRegistry holding the registered voices.
type Registry struct {
	mu     sync.Mutex
	voices []tts.Voice
}

func (r *Registry) Register(v tts.Voice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.ContainsFunc(r.voices, func(x tts.Voice) bool { return x.ID == v.ID }) {
		r.voices = append(r.voices, v)
	}
}

func (r *Registry) Unregister(id tts.VoiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices = slices.DeleteFunc(r.voices, func(x tts.Voice) bool { return x.ID == id })
}

// IDs returns the registered voice ids in registration order.
func (r *Registry) IDs() []tts.VoiceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]tts.VoiceID, 0, len(r.voices))
	for _, v := range r.voices {
		ids = append(ids, v.ID)
	}
	return ids
}

// Events is a tts.EventSink recording every event.
type Events struct {
	mu     sync.Mutex
	events []tts.Event
}

func (r *Events) Post(e tts.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// All returns the posted events in order.
func (r *Events) All() []tts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// EngineKinds returns the kinds of the engine events posted for engine.
func (r *Events) EngineKinds(engine string) []tts.EngineEventKind {
	var out []tts.EngineEventKind
	for _, e := range r.All() {
		if ee, ok := e.(tts.EngineEvent); ok && ee.Engine == engine {
			out = append(out, ee.Kind)
		}
	}
	return out
}
