package piper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/naturalspeech/naturalspeech/internal/repository"
	"github.com/naturalspeech/naturalspeech/tts"
	"github.com/sourcegraph/conc"
)

// EngineName identifies the piper engine.
const EngineName = "piper"

// ErrModelNotLoaded is returned when stopping a model that is not running.
var ErrModelNotLoaded = errors.New("model not loaded")

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineWorkers sets the worker pool shared by every model.
func WithEngineWorkers(w *tts.WorkerPool) EngineOption {
	return func(e *Engine) { e.workers = w }
}

// WithEngineEvents sets where engine and process events are posted.
func WithEngineEvents(sink tts.EventSink) EngineOption {
	return func(e *Engine) { e.events = sink }
}

// WithVoiceRegistry unregisters the voices of models that crash.
func WithVoiceRegistry(r tts.VoiceRegistry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// Engine serves every installed, enabled piper model through one Pool each.
type Engine struct {
	cfg      tts.PiperConfig
	workers  *tts.WorkerPool
	events   tts.EventSink
	registry tts.VoiceRegistry
	logger   *log.Logger

	mu      sync.RWMutex
	started bool
	repo    *repository.Repository
	binary  string
	pools   map[string]*Pool
	order   []string
}

// NewEngine creates a piper engine from cfg.
func NewEngine(cfg tts.PiperConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:    cfg,
		events: tts.DiscardEvents,
		pools:  make(map[string]*Pool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Default().WithPrefix(EngineName)
	}
	if e.workers == nil {
		e.workers = tts.NewWorkerPool(tts.DefaultWorkers)
	}
	return e
}

// Name implements tts.Engine.
func (e *Engine) Name() string {
	return EngineName
}

// Start implements tts.Engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return tts.NewEngineError(tts.ReasonAlreadyStarted, EngineName, tts.ErrAlreadyStarted)
	}
	if !e.cfg.Enabled {
		return tts.NewEngineError(tts.ReasonDisabled, EngineName, tts.ErrDisabled)
	}

	binary, err := ResolveBinary(e.cfg.Binary)
	if err != nil {
		return tts.NewEngineError(tts.ReasonNoRuntime, EngineName, err)
	}

	repo, err := repository.Open(e.cfg.ResolvedRepository(), e.cfg.ResolvedModelsDir())
	if err != nil {
		return tts.NewEngineError(tts.ReasonNoModel, EngineName, err)
	}

	var models []repository.Model
	for _, m := range repo.LocalModels() {
		if !e.cfg.ModelEnabled(m.Name) {
			e.logger.Debug("Model disabled", "model", m.Name)
			continue
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return tts.NewEngineError(tts.ReasonNoModel, EngineName,
			fmt.Errorf("%w in %s", tts.ErrNoModel, repo.Dir()))
	}

	e.repo = repo
	e.binary = binary

	var (
		wg       conc.WaitGroup
		resultMu sync.Mutex
		failures []*tts.EngineError
		started  = make(map[string]*Pool)
	)
	for _, m := range models {
		wg.Go(func() {
			pool, err := e.startPool(ctx, m)
			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				failures = append(failures, tts.NewEngineError(tts.ReasonUnexpectedFail, EngineName,
					fmt.Errorf("model %s: %w", m.Name, err)))
				return
			}
			started[m.Name] = pool
		})
	}
	wg.Wait()

	if len(started) == 0 {
		if len(failures) == 1 {
			return failures[0]
		}
		return tts.MultipleEngineErrors(EngineName, failures...)
	}
	for _, f := range failures {
		e.logger.Error("Model failed to start", "err", f.Err)
	}

	// keep repository order
	for _, m := range models {
		if pool, ok := started[m.Name]; ok {
			e.pools[m.Name] = pool
			e.order = append(e.order, m.Name)
		}
	}
	e.started = true
	return nil
}

func (e *Engine) startPool(ctx context.Context, m repository.Model) (*Pool, error) {
	pool := NewPool(m, PoolConfig{
		Binary:          e.binary,
		GenerateTimeout: e.cfg.GenerateTimeout,
		SplitThreshold:  e.cfg.SplitThreshold,
	},
		WithWorkers(e.workers),
		WithEvents(e.events),
		WithLogger(e.logger.With("model", m.Name)),
		OnDead(e.handleDeadPool),
	)
	if err := pool.Start(ctx, e.cfg.Processes); err != nil {
		return nil, err
	}
	return pool, nil
}

// StartModel starts a single model of a running engine, for example after it
// was re-enabled.
func (e *Engine) StartModel(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return tts.ErrDead
	}
	if _, ok := e.pools[name]; ok {
		return nil
	}
	m, err := e.repo.Load(name)
	if err != nil {
		return err
	}
	pool, err := e.startPool(ctx, m)
	if err != nil {
		return err
	}
	e.pools[name] = pool
	e.order = append(e.order, name)
	if e.registry != nil {
		for _, v := range m.Voices {
			e.registry.Register(v)
		}
	}
	return nil
}

// SetDisabledModels replaces the disabled model list read by later starts.
func (e *Engine) SetDisabledModels(names []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.DisabledModels = slices.Clone(names)
}

// StopModel stops a single model and unregisters its voices.
func (e *Engine) StopModel(name string) error {
	pool := e.removePool(name)
	if pool == nil {
		return fmt.Errorf("%w: %s", ErrModelNotLoaded, name)
	}
	pool.Stop()
	return nil
}

func (e *Engine) removePool(name string) *Pool {
	e.mu.Lock()
	pool, ok := e.pools[name]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.pools, name)
	e.order = slices.DeleteFunc(e.order, func(n string) bool { return n == name })
	e.mu.Unlock()

	if e.registry != nil {
		for _, id := range pool.Model().VoiceIDs() {
			e.registry.Unregister(id)
		}
	}
	return pool
}

// handleDeadPool drops a model whose processes all died.
func (e *Engine) handleDeadPool(pool *Pool) {
	name := pool.Model().Name
	if e.removePool(name) == nil {
		return
	}
	e.logger.Error("Model crashed", "model", name)
	go pool.Stop()

	e.mu.Lock()
	remaining := len(e.pools)
	if remaining == 0 {
		e.started = false
	}
	e.mu.Unlock()
	if remaining == 0 {
		e.events.Post(tts.EngineEvent{Kind: tts.EngineCrashed, Engine: EngineName, Error: "all models crashed"})
	}
}

// Stop implements tts.Engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	pools := make([]*Pool, 0, len(e.pools))
	for _, name := range e.order {
		pools = append(pools, e.pools[name])
	}
	e.pools = make(map[string]*Pool)
	e.order = nil
	e.started = false
	e.mu.Unlock()

	var wg conc.WaitGroup
	for _, pool := range pools {
		wg.Go(pool.Stop)
	}
	wg.Wait()
}

// IsAlive implements tts.Engine.
func (e *Engine) IsAlive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return false
	}
	for _, pool := range e.pools {
		if pool.IsAlive() {
			return true
		}
	}
	return false
}

func (e *Engine) snapshot() []*Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pools := make([]*Pool, 0, len(e.order))
	for _, name := range e.order {
		pools = append(pools, e.pools[name])
	}
	return pools
}

// Models returns the names of the running models.
func (e *Engine) Models() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.order)
}

// Voices implements tts.Engine.
func (e *Engine) Voices() []tts.Voice {
	var out []tts.Voice
	for _, pool := range e.snapshot() {
		out = append(out, pool.Model().Voices...)
	}
	return out
}

// VoiceIDs implements tts.Engine.
func (e *Engine) VoiceIDs() []tts.VoiceID {
	var out []tts.VoiceID
	for _, pool := range e.snapshot() {
		out = append(out, pool.Model().VoiceIDs()...)
	}
	return out
}

// Generate implements tts.Engine.
func (e *Engine) Generate(voiceID tts.VoiceID, text string, line string) (*tts.Stream, error) {
	if !e.IsAlive() {
		return nil, tts.Dead(EngineName)
	}

	e.mu.RLock()
	pool, ok := e.pools[voiceID.Model]
	e.mu.RUnlock()
	if !ok || !slices.Contains(pool.Model().VoiceIDs(), voiceID) {
		return nil, tts.Reject(EngineName)
	}

	stream, ok := pool.Generate(voiceID, text, line)
	if !ok {
		return nil, tts.Dead(EngineName)
	}
	return stream, nil
}

// Silence implements tts.Engine.
func (e *Engine) Silence(match tts.LineMatcher) {
	for _, pool := range e.snapshot() {
		pool.CancelConditional(match)
	}
}

// SilenceAll implements tts.Engine.
func (e *Engine) SilenceAll() {
	for _, pool := range e.snapshot() {
		pool.CancelAll()
	}
}

// ResolveBinary finds an executable piper binary. Names without a path
// separator are looked up in PATH.
func ResolveBinary(binary string) (string, error) {
	if binary == "" {
		return "", fmt.Errorf("%w: no piper binary configured", tts.ErrNoRuntime)
	}
	binary = tts.ExpandPath(binary)

	if !strings.ContainsRune(binary, filepath.Separator) && !strings.Contains(binary, "/") {
		path, err := exec.LookPath(binary)
		if err != nil {
			return "", fmt.Errorf("%w: %v", tts.ErrNoRuntime, err)
		}
		return path, nil
	}

	fi, err := os.Stat(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %v", tts.ErrNoRuntime, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", tts.ErrNoRuntime, binary)
	}
	if !isExecutable(fi) {
		return "", fmt.Errorf("%w: %s is not executable", tts.ErrNoRuntime, binary)
	}
	return binary, nil
}
