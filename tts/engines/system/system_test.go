package system

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/naturalspeech/naturalspeech/tts"
)

const (
	fakeSynthEnv = "NATURALSPEECH_FAKE_SYNTH"
	fakeRate     = 16000
)

// TestMain lets the test binary stand in for a synthesizer. It reads text
// from stdin and answers with a WAV holding one sample per byte of text.
func TestMain(m *testing.M) {
	if os.Getenv(fakeSynthEnv) == "1" {
		os.Exit(fakeSynth(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeSynth(args []string) int {
	var voice, output string
	raw := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-v":
			i++
			voice = args[i]
		case "-o":
			i++
			output = args[i]
		case "--raw":
			raw = true
		}
	}
	text, _ := io.ReadAll(os.Stdin)

	switch {
	case voice == "broken":
		fmt.Fprintln(os.Stderr, "unknown voice broken")
		return 1
	case strings.Contains(string(text), "sleep"):
		time.Sleep(time.Hour)
	}

	if raw {
		out := make([]byte, 2*len(text))
		for i, c := range text {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(c))
		}
		os.Stdout.Write(out)
		return 0
	}

	target := output
	if target == "" {
		f, err := os.CreateTemp("", "fake-synth-*.wav")
		if err != nil {
			return 2
		}
		target = f.Name()
		f.Close()
		defer os.Remove(target)
	}
	if err := writeWAV(target, text); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if output == "" {
		data, err := os.ReadFile(target)
		if err != nil {
			return 2
		}
		os.Stdout.Write(data)
	}
	return 0
}

func writeWAV(path string, text []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	samples := make([]int, len(text))
	for i, c := range text {
		samples[i] = int(c)
	}
	enc := wav.NewEncoder(f, fakeRate, 16, 1, wavPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: fakeRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func fakeCommand(t *testing.T, extra string) string {
	t.Helper()
	t.Setenv(fakeSynthEnv, "1")
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	return fmt.Sprintf("'%s' -v {voice} %s", exe, extra)
}

func startEngine(t *testing.T, cfg tts.SystemConfig, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(cfg, opts...)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func testConfig(command string) tts.SystemConfig {
	return tts.SystemConfig{
		Enabled: true,
		Command: command,
		Voices:  []string{"en", "de", "en", " ", "broken"},
		Timeout: 5 * time.Second,
	}
}

func voice(name string) tts.VoiceID {
	return tts.VoiceID{Model: EngineName, ID: name}
}

func TestEngineStartReasons(t *testing.T) {
	cmd := fakeCommand(t, "")
	tests := []struct {
		name string
		cfg  tts.SystemConfig
		want error
	}{
		{"disabled", tts.SystemConfig{Command: cmd, Voices: []string{"en"}}, tts.ErrDisabled},
		{"empty command", tts.SystemConfig{Enabled: true, Command: "  ", Voices: []string{"en"}}, tts.ErrNoRuntime},
		{"unterminated quote", tts.SystemConfig{Enabled: true, Command: "say 'hello", Voices: []string{"en"}}, tts.ErrNoRuntime},
		{"missing binary", tts.SystemConfig{Enabled: true, Command: "naturalspeech-no-such-synth -v {voice}", Voices: []string{"en"}}, tts.ErrNoRuntime},
		{"no voices", tts.SystemConfig{Enabled: true, Command: cmd, Voices: []string{"", " "}}, tts.ErrNoModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.cfg)
			if err := e.Start(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("Start() error = %v, want %v", err, tt.want)
			}
			if e.IsAlive() {
				t.Error("engine alive after failed start")
			}
			if _, err := e.Generate(voice("en"), "hi", "x"); !errors.Is(err, tts.ErrDead) {
				t.Errorf("Generate() error = %v, want ErrDead", err)
			}
		})
	}

	e := startEngine(t, testConfig(cmd))
	if err := e.Start(context.Background()); !errors.Is(err, tts.ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestEngineVoices(t *testing.T) {
	e := startEngine(t, testConfig(fakeCommand(t, "")))

	want := []tts.VoiceID{voice("en"), voice("de"), voice("broken")}
	got := e.VoiceIDs()
	if len(got) != len(want) {
		t.Fatalf("VoiceIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("VoiceIDs()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if _, err := e.Generate(tts.VoiceID{Model: "piper", ID: "en"}, "hi", "x"); !errors.Is(err, tts.ErrReject) {
		t.Errorf("Generate(other model) error = %v, want ErrReject", err)
	}
	if _, err := e.Generate(voice("fr"), "hi", "x"); !errors.Is(err, tts.ErrReject) {
		t.Errorf("Generate(unknown voice) error = %v, want ErrReject", err)
	}
}

func TestEngineGenerate(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		format  tts.Format
		samples int
	}{
		{"wav on stdout", "", tts.Format{SampleRate: fakeRate, Channels: 1, BitDepth: 16, Signed: true, LittleEndian: true}, 5},
		{"wav output file", "-o {output}", tts.Format{SampleRate: fakeRate, Channels: 1, BitDepth: 16, Signed: true, LittleEndian: true}, 5},
		{"raw", "--raw", tts.PiperFormat, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := startEngine(t, testConfig(fakeCommand(t, tt.extra)))

			stream, err := e.Generate(voice("en"), "Hello", "npc")
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			a, err := stream.Wait(context.Background())
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
			if a.Format != tt.format {
				t.Errorf("format = %s, want %s", a.Format, tt.format)
			}
			if a.Len() != 2*tt.samples {
				t.Fatalf("len = %d, want %d", a.Len(), 2*tt.samples)
			}
			if first := int16(binary.LittleEndian.Uint16(a.Bytes)); first != 'H' {
				t.Errorf("first sample = %d, want %d", first, 'H')
			}
		})
	}
}

func TestEngineSynthesizerFailure(t *testing.T) {
	e := startEngine(t, testConfig(fakeCommand(t, "")))

	stream, err := e.Generate(voice("broken"), "Hello", "npc")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	_, err = stream.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unknown voice broken") {
		t.Errorf("Wait() error = %v, want synthesizer stderr", err)
	}
	if !e.IsAlive() {
		t.Error("a failed request must not stop the engine")
	}
}

func TestEngineTimeout(t *testing.T) {
	cfg := testConfig(fakeCommand(t, ""))
	cfg.Timeout = 200 * time.Millisecond
	e := startEngine(t, cfg)

	stream, err := e.Generate(voice("en"), "please sleep", "npc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Wait(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestEngineSilence(t *testing.T) {
	e := startEngine(t, testConfig(fakeCommand(t, "")))

	a, _ := e.Generate(voice("en"), "sleep a", "a")
	b, _ := e.Generate(voice("en"), "sleep b", "b")

	e.Silence(tts.MatchLine("a"))
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("silenced stream did not finish")
	}
	if !errors.Is(a.Err(), tts.ErrStreamCanceled) {
		t.Errorf("a.Err() = %v, want ErrStreamCanceled", a.Err())
	}
	if b.Canceled() {
		t.Error("stream on another line canceled")
	}

	e.SilenceAll()
	if !b.Canceled() {
		t.Error("SilenceAll left a stream running")
	}
	e.SilenceAll()
}

func TestEngineGenerateDoesNotWaitForWorkers(t *testing.T) {
	workers := tts.NewWorkerPool(1)
	t.Cleanup(workers.Close)
	e := startEngine(t, testConfig(fakeCommand(t, "")), WithWorkers(workers))

	busy, err := e.Generate(voice("en"), "sleep", "a")
	if err != nil {
		t.Fatal(err)
	}

	queued := make(chan *tts.Stream, 3)
	go func() {
		for _, text := range []string{"one", "two", "three"} {
			s, err := e.Generate(voice("en"), text, "b")
			if err != nil {
				t.Error(err)
				return
			}
			queued <- s
		}
		close(queued)
	}()

	var streams []*tts.Stream
	timeout := time.After(2 * time.Second)
	for len(streams) < 3 {
		select {
		case s, ok := <-queued:
			if !ok {
				t.Fatal("Generate failed")
			}
			streams = append(streams, s)
		case <-timeout:
			t.Fatal("Generate blocked while every worker was busy")
		}
	}

	// the busy worker frees up and the queued requests run
	busy.Cancel()
	for i, s := range streams {
		a, err := s.Wait(context.Background())
		if err != nil {
			t.Fatalf("request %d: Wait() error = %v", i, err)
		}
		if a.Len() == 0 {
			t.Errorf("request %d returned no audio", i)
		}
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]tts.Audio
	hits int
}

func (c *mapCache) Get(v tts.VoiceID, text string) (tts.Audio, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.data[v.String()+text]
	if ok {
		c.hits++
	}
	return a, ok
}

func (c *mapCache) Put(v tts.VoiceID, text string, a tts.Audio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[v.String()+text] = a
	return nil
}

func TestEngineCache(t *testing.T) {
	cache := &mapCache{data: make(map[string]tts.Audio)}
	e := startEngine(t, testConfig(fakeCommand(t, "")), WithCache(cache))

	for i := 0; i < 2; i++ {
		stream, err := e.Generate(voice("en"), "Hi", "npc")
		if err != nil {
			t.Fatal(err)
		}
		a, err := stream.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if a.Len() != 4 {
			t.Errorf("len = %d, want 4", a.Len())
		}
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", cache.hits)
	}

	// failures are not cached
	stream, _ := e.Generate(voice("broken"), "Hi", "npc")
	stream.Wait(context.Background())
	if _, ok := cache.Get(voice("broken"), "Hi"); ok {
		t.Error("failed synthesis was cached")
	}
}

func TestEngineStopCancels(t *testing.T) {
	e := NewEngine(testConfig(fakeCommand(t, "")))
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	stream, _ := e.Generate(voice("en"), "sleep", "npc")
	e.Stop()
	e.Stop()
	if !stream.Canceled() {
		t.Error("Stop left a request running")
	}
	if _, err := e.Generate(voice("en"), "hi", "npc"); !errors.Is(err, tts.ErrDead) {
		t.Errorf("Generate() after Stop error = %v, want ErrDead", err)
	}
}

func TestDecodeAudio(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
		err  bool
	}{
		{"raw", []byte{1, 0, 2, 0}, 4, false},
		{"raw odd length", []byte{1, 0, 2}, 2, false},
		{"bad riff", []byte("RIFFxxxxWAVEjunk"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := DecodeAudio(tt.data)
			if (err != nil) != tt.err {
				t.Fatalf("DecodeAudio() error = %v, want error %v", err, tt.err)
			}
			if a.Len() != tt.want {
				t.Errorf("len = %d, want %d", a.Len(), tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	argv, err := ParseCommand(`say -v {voice} -o "{output}" --file-format=WAVE`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"say", "-v", "{voice}", "-o", "{output}", "--file-format=WAVE"}
	if strings.Join(argv, "|") != strings.Join(want, "|") {
		t.Errorf("ParseCommand() = %q, want %q", argv, want)
	}
	if _, err := ParseCommand(""); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("ParseCommand(\"\") error = %v, want ErrEmptyCommand", err)
	}
}
