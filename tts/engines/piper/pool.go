package piper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/naturalspeech/naturalspeech/internal/queue"
	"github.com/naturalspeech/naturalspeech/internal/repository"
	"github.com/naturalspeech/naturalspeech/tts"
	"github.com/naturalspeech/naturalspeech/tts/sentence"
	"github.com/sourcegraph/conc"
)

var (
	// ErrNoProcesses is returned by Start when no process could be spawned.
	ErrNoProcesses = errors.New("no piper process started")

	// ErrPoolStarted is returned when Start is called twice.
	ErrPoolStarted = errors.New("pool already started")

	// ErrPoolDead is reported to tasks left behind when the last process
	// died.
	ErrPoolDead = errors.New("all piper processes died")

	// ErrPoolStopped is reported to tasks dropped by Stop.
	ErrPoolStopped = errors.New("pool stopped")
)

// PoolConfig holds the settings shared by the processes of a pool.
type PoolConfig struct {
	Binary          string
	GenerateTimeout time.Duration

	// SplitThreshold is the text length above which an utterance is split
	// into sentences. Negative uses sentence.DefaultThreshold.
	SplitThreshold int
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithAudio sets the audio engine Speak plays through.
func WithAudio(a tts.AudioEngine) PoolOption {
	return func(p *Pool) { p.audio = a }
}

// WithWorkers sets the worker pool generation runs on.
func WithWorkers(w *tts.WorkerPool) PoolOption {
	return func(p *Pool) { p.workers = w }
}

// WithEvents sets where process events are posted.
func WithEvents(sink tts.EventSink) PoolOption {
	return func(p *Pool) { p.events = sink }
}

// WithLogger sets the pool logger.
func WithLogger(l *log.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// OnDead registers fn to run once the pool has lost its last process.
func OnDead(fn func(*Pool)) PoolOption {
	return func(p *Pool) { p.onDead = fn }
}

// Pool supervises the piper processes of one model and feeds them tasks.
type Pool struct {
	model   repository.Model
	cfg     PoolConfig
	parser  *sentence.Parser
	audio   tts.AudioEngine
	workers *tts.WorkerPool
	events  tts.EventSink
	logger  *log.Logger
	onDead  func(*Pool)

	ownsWorkers bool

	mu         sync.Mutex
	processes  map[int]*Process
	dispatched map[*Task]struct{}
	started    bool
	stopped    bool

	idle  chan *Process
	tasks *queue.Queue[*Task]

	stopCh       chan struct{}
	deadCh       chan struct{}
	dispatchDone chan struct{}
	stopOnce     sync.Once
	deadOnce     sync.Once
}

// NewPool creates a pool for model. Start must be called before use.
func NewPool(model repository.Model, cfg PoolConfig, opts ...PoolOption) *Pool {
	p := &Pool{
		model:        model,
		cfg:          cfg,
		parser:       sentence.NewParser(cfg.SplitThreshold),
		events:       tts.DiscardEvents,
		processes:    make(map[int]*Process),
		dispatched:   make(map[*Task]struct{}),
		tasks:        queue.New[*Task](0),
		stopCh:       make(chan struct{}),
		deadCh:       make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.Default().WithPrefix("piper").With("model", model.Name)
	}
	if p.workers == nil {
		p.workers = tts.NewWorkerPool(tts.DefaultWorkers)
		p.ownsWorkers = true
	}
	return p
}

// Model returns the model served by the pool.
func (p *Pool) Model() repository.Model {
	return p.model
}

// Start spawns processCount processes and starts dispatching. Processes that
// fail to spawn are logged and skipped; if none start the pool is unusable.
func (p *Pool) Start(ctx context.Context, processCount int) error {
	if processCount < 1 {
		return fmt.Errorf("%w: asked for %d processes", ErrNoProcesses, processCount)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrPoolStarted
	}
	p.started = true
	p.mu.Unlock()

	p.idle = make(chan *Process, processCount)

	var lastErr error
	for i := 0; i < processCount; i++ {
		proc, err := StartProcess(ctx, ProcessConfig{
			Binary:          p.cfg.Binary,
			Model:           p.model.ONNX,
			GenerateTimeout: p.cfg.GenerateTimeout,
			Logger:          p.logger,
		})
		if err != nil {
			p.logger.Error("Failed to start process", "err", err)
			lastErr = err
			continue
		}

		p.mu.Lock()
		p.processes[proc.PID()] = proc
		p.mu.Unlock()
		p.idle <- proc
		p.events.Post(tts.ProcessEvent{Kind: tts.ProcessSpawned, Model: p.model.Name, PID: proc.PID()})

		proc.OnExit(p.handleExit)
	}

	if p.CountAlive() == 0 {
		close(p.dispatchDone)
		p.tasks.Close()
		if lastErr == nil {
			return ErrNoProcesses
		}
		return fmt.Errorf("%w: %w", ErrNoProcesses, lastErr)
	}

	go p.dispatchLoop()
	p.logger.Info("Model started", "processes", p.CountAlive())
	return nil
}

// Speak splits text into segments and queues them for playback on line.
// It reports false when no process is alive.
func (p *Pool) Speak(voiceID tts.VoiceID, text string, gain tts.GainFunc, line string) bool {
	if p.audio == nil {
		p.logger.Error("No audio engine, cannot speak", "voice", voiceID, "line", line)
		return false
	}
	req := &request{
		sink: func(a tts.Audio) { p.audio.Play(line, a, gain) },
	}
	_, ok := p.enqueue(voiceID, p.parser.Segment(text), line, req)
	return ok
}

// Generate is Speak delivering the segments to the returned stream instead
// of the audio engine.
func (p *Pool) Generate(voiceID tts.VoiceID, text string, line string) (*tts.Stream, bool) {
	segments := p.parser.Segment(text)
	stream := tts.NewStream(len(segments))
	req := &request{
		sink:   func(a tts.Audio) { stream.Push(context.Background(), a) },
		onDone: stream.Finish,
	}
	tasks, ok := p.enqueue(voiceID, segments, line, req)
	if !ok {
		return nil, false
	}
	stream.OnCancel(func() {
		for _, t := range tasks {
			t.Skip()
		}
	})
	return stream, true
}

func (p *Pool) enqueue(voiceID tts.VoiceID, segments []string, line string, req *request) ([]*Task, bool) {
	if !p.IsAlive() {
		p.logger.Error("No active processes", "voice", voiceID, "line", line)
		return nil, false
	}
	if len(segments) == 0 {
		return nil, false
	}

	speakerID, ok := voiceID.Index()
	if !ok {
		speakerID = -1
	}

	tasks := newChain(voiceID, speakerID, line, segments, req)
	if len(tasks) > 1 {
		p.logger.Debug("Speech segmentation", "utterance", tasks[0].ID, "segments", prettySegments(segments))
	}
	if err := p.tasks.EnqueueBatch(tasks); err != nil {
		p.logger.Error("Failed to queue tasks", "err", err)
		return nil, false
	}
	return tasks, true
}

func prettySegments(segments []string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString("[" + s + "]")
	}
	return b.String()
}

func (p *Pool) dispatchLoop() {
	defer close(p.dispatchDone)
	for {
		task, err := p.tasks.Dequeue()
		if err != nil {
			return
		}

		if task.Skipped() {
			p.logger.Debug("Skipped task before dispatching", "task", task.ID, "text", task.Text)
			task.finish(nil)
			continue
		}

		proc, ok := p.acquire()
		if !ok {
			task.finish(p.failure())
			continue
		}

		if task.Skipped() {
			p.release(proc)
			task.finish(nil)
			continue
		}
		p.dispatch(proc, task)
	}
}

func (p *Pool) failure() error {
	select {
	case <-p.stopCh:
		return ErrPoolStopped
	default:
		return ErrPoolDead
	}
}

// acquire takes the next idle process, dropping any that died while idle.
func (p *Pool) acquire() (*Process, bool) {
	for {
		select {
		case proc := <-p.idle:
			if !proc.Alive() {
				p.removeProcess(proc, proc.Crashed())
				continue
			}
			return proc, true
		case <-p.stopCh:
			return nil, false
		case <-p.deadCh:
			return nil, false
		}
	}
}

func (p *Pool) release(proc *Process) {
	if !proc.Alive() {
		return
	}
	select {
	case p.idle <- proc:
	default:
		p.logger.Error("Idle queue full, process lost", "pid", proc.PID())
	}
}

func (p *Pool) dispatch(proc *Process, task *Task) {
	p.mu.Lock()
	p.dispatched[task] = struct{}{}
	p.mu.Unlock()

	p.logger.Debug("Dispatching task", "pid", proc.PID(), "task", task.ID, "after", task.ParentID(), "text", task.Text)
	ok := p.workers.Go(func() {
		p.run(proc, task)
	})
	if !ok {
		p.release(proc)
		p.untrack(task)
		task.finish(ErrPoolStopped)
	}
}

func (p *Pool) run(proc *Process, task *Task) {
	defer p.untrack(task)

	audio, err := proc.Generate(context.Background(), task.speakerID, task.Text)
	// the process is free again before the task waits on its parent
	p.release(proc)
	if err != nil {
		p.logger.Error("Generation failed", "pid", proc.PID(), "task", task.ID, "text", task.Text, "err", err)
		task.finish(err)
		return
	}

	if task.Skipped() {
		p.logger.Debug("Skipped task after completion, discarded result", "task", task.ID, "text", task.Text)
	}
	task.deliver(audio)
}

func (p *Pool) untrack(task *Task) {
	p.mu.Lock()
	delete(p.dispatched, task)
	p.mu.Unlock()
}

func (p *Pool) handleExit(proc *Process, crashed bool) {
	p.removeProcess(proc, crashed)
}

func (p *Pool) removeProcess(proc *Process, crashed bool) {
	p.mu.Lock()
	_, known := p.processes[proc.PID()]
	delete(p.processes, proc.PID())
	remaining := len(p.processes)
	stopped := p.stopped
	p.mu.Unlock()

	if !known {
		return
	}

	kind := tts.ProcessDied
	if crashed {
		kind = tts.ProcessCrashed
	}
	p.events.Post(tts.ProcessEvent{Kind: kind, Model: p.model.Name, PID: proc.PID()})

	if stopped {
		return
	}
	if crashed {
		p.logger.Error("Process crashed", "pid", proc.PID(), "remaining", remaining)
	}
	if remaining == 0 {
		p.markDead()
	}
}

func (p *Pool) markDead() {
	p.deadOnce.Do(func() {
		p.logger.Error("All processes died, model unavailable")
		close(p.deadCh)
		p.tasks.Close()
		for _, t := range p.tasks.Clear() {
			t.finish(ErrPoolDead)
		}
		if p.onDead != nil {
			p.onDead(p)
		}
	})
}

// IsAlive reports whether the pool can accept work.
func (p *Pool) IsAlive() bool {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	return !stopped && p.CountAlive() > 0
}

// CountAlive returns the number of running processes.
func (p *Pool) CountAlive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, proc := range p.processes {
		if proc.Alive() {
			n++
		}
	}
	return n
}

// QueueSize returns the number of tasks waiting for a process.
func (p *Pool) QueueSize() int {
	return p.tasks.Size()
}

// CancelLine skips every pending and in-flight task on line.
func (p *Pool) CancelLine(line string) {
	p.CancelConditional(tts.MatchLine(line))
}

// CancelConditional skips every pending and in-flight task whose line
// matches. Processes keep running.
func (p *Pool) CancelConditional(match tts.LineMatcher) {
	p.tasks.Each(func(t *Task) {
		if match(t.Line) {
			t.Skip()
		}
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	for t := range p.dispatched {
		if match(t.Line) {
			t.Skip()
		}
	}
}

// CancelAll skips every pending and in-flight task.
func (p *Pool) CancelAll() {
	p.CancelConditional(tts.MatchAny)
}

// Stop destroys every process and drops all tasks. It is safe to call more
// than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		started := p.started
		procs := make([]*Process, 0, len(p.processes))
		for _, proc := range p.processes {
			procs = append(procs, proc)
		}
		p.mu.Unlock()

		close(p.stopCh)
		p.CancelAll()
		p.tasks.Close()
		for _, t := range p.tasks.Clear() {
			t.Skip()
			t.finish(ErrPoolStopped)
		}

		var wg conc.WaitGroup
		for _, proc := range procs {
			wg.Go(proc.Destroy)
		}
		wg.Wait()

		if started {
			<-p.dispatchDone
		}
		if p.ownsWorkers {
			p.workers.Close()
		}
		p.logger.Info("Model stopped")
	})
}

func (p *Pool) String() string {
	return fmt.Sprintf("PiperModel(model:%s active-processes:%d)", p.model.Name, p.CountAlive())
}
