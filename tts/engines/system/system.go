// Package system speaks through the synthesizer that ships with the
// operating system, running one command per request.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"
	"github.com/naturalspeech/naturalspeech/internal/queue"
	"github.com/naturalspeech/naturalspeech/tts"
)

const (
	// EngineName identifies the system engine; it is also the model of
	// every voice it serves.
	EngineName = "system"

	voicePlaceholder  = "{voice}"
	outputPlaceholder = "{output}"

	defaultTimeout = 10 * time.Second
)

// ErrEmptyCommand is returned when the command template has no program.
var ErrEmptyCommand = errors.New("empty synthesizer command")

// AudioCache remembers generated audio across requests.
type AudioCache interface {
	Get(voice tts.VoiceID, text string) (tts.Audio, bool)
	Put(voice tts.VoiceID, text string, audio tts.Audio) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the worker pool requests run on.
func WithWorkers(w *tts.WorkerPool) Option {
	return func(e *Engine) { e.workers = w }
}

// WithCache serves repeated requests from c.
func WithCache(c AudioCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine runs the configured command for every request.
type Engine struct {
	cfg     tts.SystemConfig
	workers *tts.WorkerPool
	cache   AudioCache
	logger  *log.Logger

	mu       sync.Mutex
	started  bool
	binary   string
	args     []string
	voices   []tts.Voice
	inflight map[*tts.Stream]string
	jobs     *queue.Queue[*job]
}

// job is one request waiting for a worker.
type job struct {
	voice  tts.VoiceID
	text   string
	stream *tts.Stream
}

// NewEngine creates a system engine from cfg.
func NewEngine(cfg tts.SystemConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		inflight: make(map[*tts.Stream]string),
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
	if e.cfg.Timeout <= 0 {
		e.cfg.Timeout = defaultTimeout
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

	argv, err := ParseCommand(e.cfg.Command)
	if err != nil {
		return tts.NewEngineError(tts.ReasonNoRuntime, EngineName, fmt.Errorf("%w: %v", tts.ErrNoRuntime, err))
	}
	binary, err := exec.LookPath(tts.ExpandPath(argv[0]))
	if err != nil {
		return tts.NewEngineError(tts.ReasonNoRuntime, EngineName, fmt.Errorf("%w: %v", tts.ErrNoRuntime, err))
	}

	voices := configuredVoices(e.cfg.Voices)
	if len(voices) == 0 {
		return tts.NewEngineError(tts.ReasonNoModel, EngineName,
			fmt.Errorf("%w: no system voices configured", tts.ErrNoModel))
	}

	e.binary = binary
	e.args = argv[1:]
	e.voices = voices
	e.jobs = queue.New[*job](0)
	e.started = true
	go e.dispatchLoop(e.jobs)
	e.logger.Info("Using system synthesizer", "binary", binary, "voices", len(voices))
	return nil
}

// ParseCommand splits a command template into program and arguments.
func ParseCommand(command string) ([]string, error) {
	argv, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

func configuredVoices(names []string) []tts.Voice {
	var voices []tts.Voice
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		id := tts.VoiceID{Model: EngineName, ID: name}
		if slices.ContainsFunc(voices, func(v tts.Voice) bool { return v.ID == id }) {
			continue
		}
		voices = append(voices, tts.Voice{ID: id, Name: name, Gender: tts.GenderOther})
	}
	return voices
}

// Stop implements tts.Engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.started = false
	jobs := e.jobs
	e.jobs = nil
	streams := e.takeStreams(tts.MatchAny)
	e.mu.Unlock()

	if jobs != nil {
		jobs.Close()
	}
	for _, s := range streams {
		s.Cancel()
	}
}

// IsAlive implements tts.Engine.
func (e *Engine) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Voices implements tts.Engine.
func (e *Engine) Voices() []tts.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.voices)
}

// VoiceIDs implements tts.Engine.
func (e *Engine) VoiceIDs() []tts.VoiceID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]tts.VoiceID, len(e.voices))
	for i, v := range e.voices {
		ids[i] = v.ID
	}
	return ids
}

// Generate implements tts.Engine.
func (e *Engine) Generate(voiceID tts.VoiceID, text string, line string) (*tts.Stream, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, tts.Dead(EngineName)
	}
	if !slices.ContainsFunc(e.voices, func(v tts.Voice) bool { return v.ID == voiceID }) {
		e.mu.Unlock()
		return nil, tts.Reject(EngineName)
	}
	stream := tts.NewStream(1)
	e.inflight[stream] = line
	jobs := e.jobs
	e.mu.Unlock()

	if e.cache != nil {
		if audio, ok := e.cache.Get(voiceID, text); ok {
			e.logger.Debug("Cache hit", "voice", voiceID)
			e.deliver(stream, audio, nil)
			return stream, nil
		}
	}

	if err := jobs.Enqueue(&job{voice: voiceID, text: text, stream: stream}); err != nil {
		e.untrack(stream)
		return nil, tts.Dead(EngineName)
	}
	return stream, nil
}

// dispatchLoop hands queued requests to the worker pool, so Generate never
// waits for a free worker.
func (e *Engine) dispatchLoop(jobs *queue.Queue[*job]) {
	for {
		j, err := jobs.Dequeue()
		if err != nil {
			return
		}
		if j.stream.Canceled() {
			e.untrack(j.stream)
			continue
		}
		if !e.workers.Go(func() { e.run(j) }) {
			e.deliver(j.stream, tts.Audio{}, tts.Dead(EngineName))
		}
	}
}

func (e *Engine) run(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()
	j.stream.OnCancel(cancel)

	audio, err := e.synthesize(ctx, j.voice.ID, j.text)
	if err == nil && e.cache != nil {
		if cerr := e.cache.Put(j.voice, j.text, audio); cerr != nil {
			e.logger.Warn("Failed to cache audio", "voice", j.voice, "err", cerr)
		}
	}
	e.deliver(j.stream, audio, err)
}

func (e *Engine) deliver(stream *tts.Stream, audio tts.Audio, err error) {
	defer e.untrack(stream)
	if err != nil {
		if !stream.Canceled() {
			e.logger.Error("Synthesis failed", "err", err)
		}
		stream.Finish(err)
		return
	}
	stream.Push(context.Background(), audio)
	stream.Finish(nil)
}

func (e *Engine) untrack(stream *tts.Stream) {
	e.mu.Lock()
	delete(e.inflight, stream)
	e.mu.Unlock()
}

// synthesize runs the command once for voice and text.
func (e *Engine) synthesize(ctx context.Context, voice, text string) (tts.Audio, error) {
	e.mu.Lock()
	binary, template := e.binary, e.args
	e.mu.Unlock()

	var output string
	if slices.ContainsFunc(template, func(a string) bool { return strings.Contains(a, outputPlaceholder) }) {
		f, err := os.CreateTemp("", "naturalspeech-*.wav")
		if err != nil {
			return tts.Audio{}, fmt.Errorf("create output file: %w", err)
		}
		output = f.Name()
		f.Close()
		defer os.Remove(output)
	}

	args := make([]string, len(template))
	for i, a := range template {
		a = strings.ReplaceAll(a, voicePlaceholder, voice)
		args[i] = strings.ReplaceAll(a, outputPlaceholder, output)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return tts.Audio{}, fmt.Errorf("synthesizer %s: %w", voice, ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return tts.Audio{}, fmt.Errorf("synthesizer %s: %w", voice, err)
		}
		return tts.Audio{}, fmt.Errorf("synthesizer %s: %w: %s", voice, err, msg)
	}

	data := stdout.Bytes()
	if output != "" {
		var err error
		if data, err = os.ReadFile(output); err != nil {
			return tts.Audio{}, fmt.Errorf("read output: %w", err)
		}
	}
	audio, err := DecodeAudio(data)
	if err != nil {
		return tts.Audio{}, err
	}
	e.logger.Debug("Synthesized", "voice", voice, "took", time.Since(start), "audio", audio.Duration())
	return audio, nil
}

// Silence implements tts.Engine.
func (e *Engine) Silence(match tts.LineMatcher) {
	e.mu.Lock()
	streams := e.takeStreams(match)
	e.mu.Unlock()
	for _, s := range streams {
		s.Cancel()
	}
}

// SilenceAll implements tts.Engine.
func (e *Engine) SilenceAll() {
	e.Silence(tts.MatchAny)
}

// takeStreams must be called with e.mu held.
func (e *Engine) takeStreams(match tts.LineMatcher) []*tts.Stream {
	var out []*tts.Stream
	for s, line := range e.inflight {
		if match(line) {
			out = append(out, s)
			delete(e.inflight, s)
		}
	}
	return out
}
