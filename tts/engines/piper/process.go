// Package piper runs Piper voice models as pools of long-lived worker
// processes.
package piper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/naturalspeech/naturalspeech/tts"
	"github.com/naturalspeech/naturalspeech/tts/text"
)

var (
	// ErrProcessBusy is returned when a process is already generating.
	ErrProcessBusy = errors.New("piper process busy")

	// ErrProcessExited is returned when the process is gone.
	ErrProcessExited = errors.New("piper process exited")

	// ErrGenerateTimeout is returned when piper did not finish in time.
	ErrGenerateTimeout = errors.New("piper generate timed out")
)

const (
	// DefaultGenerateTimeout bounds a single generation.
	DefaultGenerateTimeout = 30 * time.Second

	// time stdout must stay quiet after the completion marker
	settleQuiet = 15 * time.Millisecond
	settleMax   = 250 * time.Millisecond

	killGrace = 2 * time.Second
)

var (
	logLinePattern = regexp.MustCompile(`\[.+\] \[piper\] \[info\] (.+)`)
	logPrefix      = regexp.MustCompile(`^\[[^\]]+\] \[piper\] \[(\w+)\] `)
)

// ProcessState is the lifecycle state of a Process.
type ProcessState int32

const (
	StateStarting ProcessState = iota
	StateIdle
	StateBusy
	StateDead
)

func (s ProcessState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ProcessConfig configures a piper worker process.
type ProcessConfig struct {
	Binary string
	Model  string // path to the .onnx file

	// GenerateTimeout bounds Generate. Zero disables the bound.
	GenerateTimeout time.Duration

	Logger *log.Logger
}

// Process is one running `piper --json-input --output-raw` process. It
// serves one Generate call at a time.
type Process struct {
	cfg    ProcessConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *log.Logger

	genMu sync.Mutex
	state atomic.Int32

	outMu     sync.Mutex
	out       bytes.Buffer
	lastWrite atomic.Int64

	marker chan struct{}
	exited chan struct{}

	stopping atomic.Bool
	failed   atomic.Bool
	crashed  atomic.Bool
	killOnce sync.Once

	hookMu   sync.Mutex
	hooks    []func(*Process, bool)
	hookDone bool
}

// StartProcess spawns piper for cfg.Model.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("piper")
	}

	p := &Process{
		cfg:    cfg,
		logger: cfg.Logger,
		marker: make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	p.state.Store(int32(StateStarting))

	p.cmd = exec.Command(cfg.Binary, "--model", cfg.Model, "--output-raw", "--json-input")
	setProcessGroup(p.cmd)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	p.stdin = stdin

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start piper: %w", err)
	}
	p.logger = p.logger.With("pid", p.cmd.Process.Pid)
	p.logger.Debug("Process started", "model", cfg.Model)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readOutput(stdout)
	}()
	go func() {
		defer readers.Done()
		p.readDiagnostics(stderr)
	}()
	go p.wait(&readers)

	p.state.CompareAndSwap(int32(StateStarting), int32(StateIdle))
	return p, nil
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (p *Process) State() ProcessState {
	return ProcessState(p.state.Load())
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return p.State() != StateDead
	}
}

// Crashed reports whether the process died without Destroy being called.
// A process destroyed after a timed-out generation also counts as crashed.
func (p *Process) Crashed() bool {
	return p.crashed.Load()
}

// Exited is closed once the process has exited and its pipes are drained.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// OnExit registers fn to run once when the process exits. fn runs
// immediately on a new goroutine if the process is already gone.
func (p *Process) OnExit(fn func(p *Process, crashed bool)) {
	p.hookMu.Lock()
	if !p.hookDone {
		p.hooks = append(p.hooks, fn)
		p.hookMu.Unlock()
		return
	}
	p.hookMu.Unlock()
	go fn(p, p.Crashed())
}

func (p *Process) String() string {
	return fmt.Sprintf("PiperProcess(pid:%d state:%s)", p.PID(), p.State())
}

// Generate synthesizes text with speaker speakerID. A negative speakerID
// uses the model default. Only one call may run at a time; a concurrent call
// fails with ErrProcessBusy.
func (p *Process) Generate(ctx context.Context, speakerID int, txt string) (tts.Audio, error) {
	if !p.genMu.TryLock() {
		return tts.Audio{}, ErrProcessBusy
	}
	defer p.genMu.Unlock()

	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateBusy)) {
		if !p.Alive() {
			return tts.Audio{}, ErrProcessExited
		}
		return tts.Audio{}, ErrProcessBusy
	}
	defer p.state.CompareAndSwap(int32(StateBusy), int32(StateIdle))

	p.outMu.Lock()
	p.out.Reset()
	p.outMu.Unlock()
	select {
	case <-p.marker:
	default:
	}

	request := text.RequestJSON(txt, speakerID) + "\n"
	if _, err := io.WriteString(p.stdin, request); err != nil {
		return tts.Audio{}, fmt.Errorf("%w: write request: %v", ErrProcessExited, err)
	}

	var timeout <-chan time.Time
	if p.cfg.GenerateTimeout > 0 {
		timer := time.NewTimer(p.cfg.GenerateTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-p.marker:
	case <-p.exited:
		return tts.Audio{}, ErrProcessExited
	case <-timeout:
		p.logger.Warn("Generation timed out, destroying process", "timeout", p.cfg.GenerateTimeout)
		// output of an abandoned request would corrupt the next one
		p.kill(true)
		return tts.Audio{}, ErrGenerateTimeout
	case <-ctx.Done():
		p.kill(true)
		return tts.Audio{}, ctx.Err()
	}

	p.settle()

	p.outMu.Lock()
	data := bytes.Clone(p.out.Bytes())
	p.out.Reset()
	p.outMu.Unlock()

	return tts.Audio{Bytes: data, Format: tts.PiperFormat}, nil
}

// settle waits until stdout has been quiet for a moment, because piper logs
// completion on stderr before the last audio bytes may have been read.
func (p *Process) settle() {
	start := time.Now()
	deadline := start.Add(settleMax)
	for {
		time.Sleep(settleQuiet / 3)
		now := time.Now()
		last := time.Unix(0, p.lastWrite.Load())
		if now.Sub(start) >= settleQuiet && now.Sub(last) >= settleQuiet {
			return
		}
		if now.After(deadline) {
			return
		}
	}
}

// Destroy closes stdin and terminates the process. It waits for the exit
// and is safe to call more than once.
func (p *Process) Destroy() {
	p.kill(false)
	<-p.exited
}

func (p *Process) kill(failed bool) {
	p.killOnce.Do(func() {
		p.failed.Store(failed)
		p.stopping.Store(true)
		p.state.Store(int32(StateDead))

		_ = p.stdin.Close()
		if err := terminateProcess(p.cmd); err != nil {
			p.logger.Debug("Terminate failed", "err", err)
		}

		go func() {
			select {
			case <-p.exited:
			case <-time.After(killGrace):
				p.logger.Warn("Force killing process")
				if err := killProcess(p.cmd); err != nil {
					p.logger.Debug("Kill failed", "err", err)
				}
			}
		}()
	})
}

func (p *Process) wait(readers *sync.WaitGroup) {
	readers.Wait()
	err := p.cmd.Wait()

	crashed := !p.stopping.Load() || p.failed.Load()
	p.crashed.Store(crashed)
	p.state.Store(int32(StateDead))
	close(p.exited)

	if crashed {
		p.logger.Warn("Process crashed", "err", err)
	} else {
		p.logger.Debug("Process exited")
	}

	p.hookMu.Lock()
	hooks := p.hooks
	p.hooks = nil
	p.hookDone = true
	p.hookMu.Unlock()

	for _, fn := range hooks {
		fn(p, crashed)
	}
}

func (p *Process) readOutput(r io.Reader) {
	buffer := make([]byte, 32*1024)
	for {
		n, err := r.Read(buffer)
		if n > 0 {
			p.outMu.Lock()
			p.out.Write(buffer[:n])
			p.outMu.Unlock()
			p.lastWrite.Store(time.Now().UnixNano())
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debug("stdout read error", "err", err)
			}
			return
		}
	}
}

func (p *Process) readDiagnostics(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if m := logLinePattern.FindStringSubmatch(line); m != nil && strings.HasSuffix(m[1], " sec)") {
			select {
			case p.marker <- struct{}{}:
			default:
			}
			continue
		}

		if m := logPrefix.FindStringSubmatch(line); m != nil {
			p.logger.Debug(line[len(m[0]):], "level", m[1])
			continue
		}
		p.logger.Debug(line)
	}

	if err := scanner.Err(); err != nil {
		p.logger.Debug("stderr scanner", "err", err)
	}
}
