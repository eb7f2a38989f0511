// Package mock provides in-memory speech engines, audio engines and voice
// registries for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/naturalspeech/naturalspeech/tts"
)

// Call records one Generate request.
type Call struct {
	VoiceID tts.VoiceID
	Text    string
	Line    string
}

// Attempts records Generate calls across engines in the order they happen,
// rejected ones included.
type Attempts struct {
	mu      sync.Mutex
	engines []string
}

func (a *Attempts) add(engine string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engines = append(a.engines, engine)
}

// Engines returns the name of the engine behind every attempt.
func (a *Attempts) Engines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.engines)
}

// Engine is a tts.Engine that "synthesizes" text by returning its bytes.
type Engine struct {
	name     string
	voices   []tts.Voice
	delay    time.Duration
	startErr error
	attempts *Attempts

	mu         sync.Mutex
	alive      bool
	started    bool
	calls      []Call
	streams    map[*tts.Stream]string
	startCount int
	stopCount  int
	silences   int
}

// New creates a mock engine serving ids.
func New(name string, ids ...tts.VoiceID) *Engine {
	e := &Engine{
		name:    name,
		streams: make(map[*tts.Stream]string),
	}
	for _, id := range ids {
		e.voices = append(e.voices, tts.Voice{ID: id, Name: id.ID, Gender: tts.GenderOther})
	}
	return e
}

// SetDelay sets the simulated generation time.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// SetStartError makes Start fail with err.
func (e *Engine) SetStartError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startErr = err
}

// SetAttempts makes Generate record every call in a.
func (e *Engine) SetAttempts(a *Attempts) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = a
}

// Kill makes the engine dead without a Stop, like a crashed backend.
func (e *Engine) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alive = false
}

func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCount++
	if e.started {
		return tts.NewEngineError(tts.ReasonAlreadyStarted, e.name, tts.ErrAlreadyStarted)
	}
	if e.startErr != nil {
		return tts.AsEngineError(e.name, e.startErr)
	}
	e.started = true
	e.alive = true
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopCount++
	e.started = false
	e.alive = false
	streams := e.takeStreams(tts.MatchAny)
	e.mu.Unlock()

	for _, s := range streams {
		s.Cancel()
	}
}

func (e *Engine) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

func (e *Engine) VoiceIDs() []tts.VoiceID {
	ids := make([]tts.VoiceID, 0, len(e.voices))
	for _, v := range e.voices {
		ids = append(ids, v.ID)
	}
	return ids
}

func (e *Engine) Voices() []tts.Voice {
	return slices.Clone(e.voices)
}

func (e *Engine) Generate(voiceID tts.VoiceID, text string, line string) (*tts.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attempts != nil {
		e.attempts.add(e.name)
	}
	if !e.alive {
		return nil, tts.Dead(e.name)
	}
	if !slices.ContainsFunc(e.voices, func(v tts.Voice) bool { return v.ID == voiceID }) {
		return nil, tts.Reject(e.name)
	}
	e.calls = append(e.calls, Call{VoiceID: voiceID, Text: text, Line: line})

	stream := tts.NewStream(1)
	e.streams[stream] = line
	go e.produce(stream, text, e.delay)
	return stream, nil
}

func (e *Engine) produce(stream *tts.Stream, text string, delay time.Duration) {
	defer func() {
		e.mu.Lock()
		delete(e.streams, stream)
		e.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-stream.Done():
			return
		}
	}
	stream.Push(context.Background(), tts.Audio{Bytes: []byte(text), Format: tts.PiperFormat})
	stream.Finish(nil)
}

func (e *Engine) Silence(match tts.LineMatcher) {
	e.mu.Lock()
	e.silences++
	streams := e.takeStreams(match)
	e.mu.Unlock()

	for _, s := range streams {
		s.Cancel()
	}
}

func (e *Engine) SilenceAll() {
	e.Silence(tts.MatchAny)
}

func (e *Engine) takeStreams(match tts.LineMatcher) []*tts.Stream {
	var out []*tts.Stream
	for s, line := range e.streams {
		if match(line) {
			out = append(out, s)
			delete(e.streams, s)
		}
	}
	return out
}

// Calls returns every accepted Generate request in order.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// StartCount returns how often Start was called.
func (e *Engine) StartCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startCount
}

// StopCount returns how often Stop was called.
func (e *Engine) StopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCount
}

// Silences returns how often Silence or SilenceAll was called.
func (e *Engine) Silences() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.silences
}
