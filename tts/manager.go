package tts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"
)

// Manager holds the ordered list of engines and routes requests to the
// first engine that accepts them.
type Manager struct {
	audio  AudioEngine
	voices VoiceRegistry
	events EventSink
	policy ContentPolicy
	logger *log.Logger

	mu      sync.RWMutex
	engines []Engine

	dialogMu      sync.Mutex
	dialogSession uint64
	pending       map[uint64][]*Stream
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithVoiceRegistry registers started engines' voices with r.
func WithVoiceRegistry(r VoiceRegistry) ManagerOption {
	return func(m *Manager) { m.voices = r }
}

// WithEvents posts lifecycle events to sink.
func WithEvents(sink EventSink) ManagerOption {
	return func(m *Manager) { m.events = sink }
}

// WithContentPolicy filters SpeakAs requests through p.
func WithContentPolicy(p ContentPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithLogger sets the manager logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager that plays through audio.
func NewManager(audio AudioEngine, opts ...ManagerOption) *Manager {
	m := &Manager{
		audio:   audio,
		events:  DiscardEvents,
		logger:  log.Default().WithPrefix("speech"),
		pending: make(map[uint64][]*Stream),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadEngine appends e to the engine list. Registration order decides which
// engine serves a voice when several can.
func (m *Manager) LoadEngine(e Engine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slices.Contains(m.engines, e) {
		return fmt.Errorf("%w: %s", ErrEngineLoaded, e.Name())
	}
	m.engines = append(m.engines, e)
	return nil
}

// UnloadEngine stops e if it is running, unregisters its voices and removes
// it from the engine list.
func (m *Manager) UnloadEngine(e Engine) error {
	m.mu.Lock()
	i := slices.Index(m.engines, e)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEngineNotLoaded, e.Name())
	}
	m.engines = slices.Delete(slices.Clone(m.engines), i, i+1)
	m.mu.Unlock()

	m.stopEngine(e)
	return nil
}

// Engines returns a snapshot of the loaded engines in registration order.
func (m *Manager) Engines() []Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.engines)
}

// StartUp starts every loaded engine concurrently. Failures are logged and
// posted as events but never stop the other engines from starting.
func (m *Manager) StartUp(ctx context.Context) {
	var wg conc.WaitGroup
	for _, e := range m.Engines() {
		wg.Go(func() {
			_ = m.StartEngine(ctx, e)
		})
	}
	wg.Wait()

	if !m.IsAlive() {
		m.logger.Warn("No speech engine started")
	}
}

// StartEngine starts a single loaded engine.
func (m *Manager) StartEngine(ctx context.Context, e Engine) error {
	if !slices.Contains(m.Engines(), e) {
		return fmt.Errorf("%w: %s", ErrEngineNotLoaded, e.Name())
	}

	m.events.Post(EngineEvent{Kind: EngineStarting, Engine: e.Name()})
	if err := e.Start(ctx); err != nil {
		ee := AsEngineError(e.Name(), err)
		m.postError(ee)
		return ee
	}

	for _, v := range e.Voices() {
		if m.voices != nil {
			m.voices.Register(v)
		}
	}
	m.logger.Info("Engine started", "engine", e.Name(), "voices", len(e.VoiceIDs()))
	m.events.Post(EngineEvent{Kind: EngineStarted, Engine: e.Name()})
	return nil
}

// ShutDown stops every engine.
func (m *Manager) ShutDown() {
	for _, e := range m.Engines() {
		m.stopEngine(e)
	}
	m.skipDialog()
}

func (m *Manager) stopEngine(e Engine) {
	ids := e.VoiceIDs()
	// a crashed engine is not alive but still has to be reset before it can
	// start again
	alive := e.IsAlive()
	e.Stop()
	if alive {
		m.events.Post(EngineEvent{Kind: EngineStopped, Engine: e.Name()})
	}
	if m.voices != nil {
		for _, id := range ids {
			m.voices.Unregister(id)
		}
	}
}

func (m *Manager) postError(err *EngineError) {
	switch err.Reason {
	case ReasonNoRuntime, ReasonDisabled:
		m.logger.Debug("Engine not started", "engine", err.Engine, "reason", err.Reason, "err", err.Err)
	case ReasonAlreadyStarted:
		m.logger.Debug("Engine already started", "engine", err.Engine)
	case ReasonMultipleReasons:
	default:
		m.logger.Error("Engine failed to start", "engine", err.Engine, "reason", err.Reason, "err", err.Err)
	}

	switch err.Reason {
	case ReasonNoRuntime:
		m.events.Post(EngineEvent{Kind: EngineStartNoRuntime, Engine: err.Engine})
	case ReasonNoModel:
		m.events.Post(EngineEvent{Kind: EngineStartNoModel, Engine: err.Engine})
	case ReasonDisabled:
		m.events.Post(EngineEvent{Kind: EngineStartDisabled, Engine: err.Engine})
	case ReasonUnexpectedFail:
		m.events.Post(EngineEvent{Kind: EngineStartCrashed, Engine: err.Engine, Error: err.Error()})
	case ReasonAlreadyStarted:
	case ReasonMultipleReasons:
		for _, c := range err.Children {
			m.postError(c)
		}
	default:
		m.logger.Error("Unhandled engine error", "reason", err.Reason)
	}
}

// IsAlive reports whether any engine is alive.
func (m *Manager) IsAlive() bool {
	for _, e := range m.Engines() {
		if e.IsAlive() {
			return true
		}
	}
	return false
}

// CanSpeak reports whether any engine serves id.
func (m *Manager) CanSpeak(id VoiceID) bool {
	for _, e := range m.Engines() {
		if slices.Contains(e.VoiceIDs(), id) {
			return true
		}
	}
	return false
}

// Voices returns the voices of every engine in engine order.
func (m *Manager) Voices() []Voice {
	var out []Voice
	for _, e := range m.Engines() {
		out = append(out, e.Voices()...)
	}
	return out
}

// VoiceIDs returns the voice ids of every engine in engine order without
// duplicates.
func (m *Manager) VoiceIDs() []VoiceID {
	seen := make(map[VoiceID]struct{})
	var out []VoiceID
	for _, e := range m.Engines() {
		for _, id := range e.VoiceIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Generate asks each engine in registration order and returns the first
// stream. When every engine refuses, the error is a MULTIPLE Rejection with
// one child per engine.
func (m *Manager) Generate(voiceID VoiceID, text, line string) (*Stream, error) {
	engines := m.Engines()
	rejections := make([]*Rejection, 0, len(engines))
	for _, e := range engines {
		stream, err := e.Generate(voiceID, text, line)
		if err == nil {
			return stream, nil
		}
		rej, ok := AsRejection(err)
		if !ok {
			m.logger.Error("Engine returned an unexpected error", "engine", e.Name(), "err", err)
			rej = Dead(e.Name())
		}
		rejections = append(rejections, rej)
	}
	return nil, Multiple(rejections...)
}

// Speak generates text with voiceID and plays every segment on line. A
// refused request is logged and dropped; it reports whether audio is coming.
func (m *Manager) Speak(voiceID VoiceID, text string, gain GainFunc, line string) bool {
	var session uint64
	if line == DialogLine {
		session = m.skipDialog()
	}

	stream, err := m.Generate(voiceID, text, line)
	if err != nil {
		m.logRejection(voiceID, err)
		return false
	}

	if line == DialogLine {
		m.trackDialog(session, stream)
	}

	stream.Listen(func(a Audio) {
		if line == DialogLine && !m.isCurrentDialog(session) {
			return
		}
		m.audio.Play(line, a, gain)
	}, func(err error) {
		if line == DialogLine {
			m.untrackDialog(session, stream)
		}
		if err != nil && !errors.Is(err, ErrStreamCanceled) {
			m.logger.Error("Failed to generate audio", "voice", voiceID, "line", line, "err", err)
		}
	})
	return true
}

// SpeakAs is Speak for a chat message from username. Messages the content
// policy flags as spam are dropped.
func (m *Manager) SpeakAs(username string, voiceID VoiceID, text string, gain GainFunc, line string) bool {
	if m.policy != nil && m.policy.IsSpam(username, text) {
		m.logger.Debug("Dropped spam", "user", username, "line", line)
		return false
	}
	return m.Speak(voiceID, text, gain, line)
}

func (m *Manager) logRejection(voiceID VoiceID, err error) {
	rej, ok := AsRejection(err)
	if !ok {
		m.logger.Error("Speak failed", "voice", voiceID, "err", err)
		return
	}
	switch rej.Reason {
	case RejectDead, RejectVoice:
		m.logger.Warn("Request rejected", "voice", voiceID, "engine", rej.Engine, "reason", rej.Reason)
	case RejectMultiple:
		if len(rej.Children) == 0 {
			m.logger.Warn("No engine available", "voice", voiceID)
		}
		for _, c := range rej.Children {
			m.logRejection(voiceID, c)
		}
	}
}

// Silence stops pending and playing audio on lines accepted by match.
func (m *Manager) Silence(match LineMatcher) {
	if match(DialogLine) {
		m.skipDialog()
	}
	for _, e := range m.Engines() {
		e.Silence(match)
	}
	m.audio.CloseLineConditional(match)
}

// SilenceAll stops all pending and playing audio.
func (m *Manager) SilenceAll() {
	m.skipDialog()
	for _, e := range m.Engines() {
		e.SilenceAll()
	}
	m.audio.CloseAll()
}

func (m *Manager) isCurrentDialog(session uint64) bool {
	m.dialogMu.Lock()
	defer m.dialogMu.Unlock()
	return session == m.dialogSession
}

func (m *Manager) trackDialog(session uint64, s *Stream) {
	m.dialogMu.Lock()
	defer m.dialogMu.Unlock()
	if session != m.dialogSession {
		go s.Cancel()
		return
	}
	m.pending[session] = append(m.pending[session], s)
}

func (m *Manager) untrackDialog(session uint64, s *Stream) {
	m.dialogMu.Lock()
	defer m.dialogMu.Unlock()
	streams := slices.DeleteFunc(m.pending[session], func(p *Stream) bool { return p == s })
	if len(streams) == 0 {
		delete(m.pending, session)
		return
	}
	m.pending[session] = streams
}

// skipDialog starts a new dialog session and cancels the streams of every
// older one.
func (m *Manager) skipDialog() uint64 {
	m.dialogMu.Lock()
	m.dialogSession++
	session := m.dialogSession
	var stale []*Stream
	for id, streams := range m.pending {
		if id != m.dialogSession {
			stale = append(stale, streams...)
			delete(m.pending, id)
		}
	}
	m.dialogMu.Unlock()

	for _, s := range stale {
		s.Cancel()
	}
	return session
}
