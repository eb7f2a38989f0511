package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/naturalspeech/naturalspeech/tts"
	"github.com/naturalspeech/naturalspeech/tts/text"
)

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "naturalspeech.yml")
	if err := os.WriteFile(path, []byte("workers: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		loads int
		fail  bool
	)
	changes := make(chan tts.Config, 4)
	load := func() (tts.Config, error) {
		mu.Lock()
		defer mu.Unlock()
		loads++
		if fail {
			return tts.Config{}, errors.New("bad yaml")
		}
		cfg := tts.DefaultConfig()
		cfg.Workers = loads
		return cfg, nil
	}

	w := New(path, load, func(c tts.Config) { changes <- c }, WithDebounce(20*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()
	if err := w.Start(context.Background()); !errors.Is(err, ErrWatching) {
		t.Errorf("second Start() error = %v, want ErrWatching", err)
	}

	// a burst of writes is one reload
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("workers: 2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case cfg := <-changes:
		if cfg.Workers != 1 {
			t.Errorf("first reload Workers = %d, want 1", cfg.Workers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}

	// other files in the directory are ignored
	if err := os.WriteFile(filepath.Join(dir, "other.yml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// invalid config is skipped
	mu.Lock()
	fail = true
	mu.Unlock()
	if err := os.WriteFile(path, []byte("workers: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-changes:
		t.Errorf("unexpected reload %+v", cfg)
	case <-time.After(200 * time.Millisecond):
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWatcherMissingDir(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing", "config.yml"), nil, nil)
	if err := w.Start(context.Background()); err == nil {
		w.Close()
		t.Fatal("Start() on a missing directory succeeded")
	}
}

type fakeOutput struct {
	gain  float64
	muted bool
}

func (o *fakeOutput) SetMasterGain(g float64) { o.gain = g }
func (o *fakeOutput) SetMuted(m bool)         { o.muted = m }

type fakeSilencer struct{ lines [][]bool }

// Silence records which of the local player and an NPC line matched.
func (s *fakeSilencer) Silence(match tts.LineMatcher) {
	s.lines = append(s.lines, []bool{match(tts.LocalPlayerLine), match("npc_1")})
}

func TestLiveApply(t *testing.T) {
	out := &fakeOutput{}
	sil := &fakeSilencer{}
	proc := text.NewProcessor(nil, false)

	cfg := tts.DefaultConfig()
	cfg.Audio.MasterGain = 0.5
	live := NewLive(cfg, out, sil, proc)

	if out.gain != 0.5 || out.muted {
		t.Errorf("output = %+v", out)
	}
	if len(sil.lines) != 0 {
		t.Errorf("nothing muted yet, silenced %v", sil.lines)
	}
	if live.Muted(tts.LocalPlayerLine) || live.Muted("npc_1") {
		t.Error("lines muted by default")
	}

	cfg.Mute.Self = true
	cfg.Audio.Mute = true
	cfg.Text.Replacements = map[string]string{"lol": "laughing"}
	live.Apply(cfg)

	if !out.muted {
		t.Error("audio not muted")
	}
	if len(sil.lines) != 1 || !sil.lines[0][0] || sil.lines[0][1] {
		t.Errorf("mute self silenced %v, want only the local player", sil.lines)
	}
	if !live.Muted(tts.LocalPlayerLine) || live.Muted("npc_1") {
		t.Error("Muted() does not follow mute.self")
	}
	if got := proc.Process("lol ok"); got != "laughing ok" {
		t.Errorf("Process() = %q, want replacements applied", got)
	}

	// unchanged mute settings do not silence again
	live.Apply(cfg)
	cfg.Mute.Others = true
	live.Apply(cfg)
	if len(sil.lines) != 2 || sil.lines[1][0] || !sil.lines[1][1] {
		t.Errorf("mute others silenced %v, want only other lines", sil.lines)
	}
	if !live.Muted("npc_1") {
		t.Error("Muted(npc) = false with mute.others")
	}

	// nil targets are allowed
	NewLive(cfg, nil, nil, nil).Apply(cfg)
}

type fakeModels struct {
	disabled []string
	started  []string
	stopped  []string
	startErr error
}

func (m *fakeModels) SetDisabledModels(names []string) { m.disabled = names }

func (m *fakeModels) StartModel(_ context.Context, name string) error {
	m.started = append(m.started, name)
	return m.startErr
}

func (m *fakeModels) StopModel(name string) error {
	m.stopped = append(m.stopped, name)
	return errors.New("model not loaded")
}

func TestLiveModels(t *testing.T) {
	cfg := tts.DefaultConfig()
	cfg.Piper.DisabledModels = []string{"amy"}
	live := NewLive(cfg, nil, nil, nil)
	models := &fakeModels{}
	live.SetModels(context.Background(), models)

	tests := []struct {
		name     string
		disabled []string
		started  []string
		stopped  []string
	}{
		{name: "unchanged", disabled: []string{" AMY "}},
		{name: "disable libritts", disabled: []string{"amy", "libritts"}, stopped: []string{"libritts"}},
		{name: "enable both", disabled: nil, started: []string{"amy", "libritts"}},
		{name: "disable again", disabled: []string{"amy"}, stopped: []string{"amy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models.started, models.stopped = nil, nil
			cfg.Piper.DisabledModels = tt.disabled
			live.Apply(cfg)

			if !slices.Equal(models.disabled, tt.disabled) {
				t.Errorf("disabled = %v, want %v", models.disabled, tt.disabled)
			}
			if !slices.Equal(models.started, tt.started) {
				t.Errorf("started = %v, want %v", models.started, tt.started)
			}
			if !slices.Equal(models.stopped, tt.stopped) {
				t.Errorf("stopped = %v, want %v", models.stopped, tt.stopped)
			}
		})
	}

	// start failures are logged and do not stop the reload
	models.startErr = errors.New("boom")
	cfg.Piper.DisabledModels = nil
	live.Apply(cfg)
	if !slices.Equal(models.started, []string{"amy"}) {
		t.Errorf("started = %v, want [amy]", models.started)
	}
}
