package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"go.uber.org/multierr"

	"github.com/naturalspeech/naturalspeech/internal/audio"
	"github.com/naturalspeech/naturalspeech/internal/cache"
	"github.com/naturalspeech/naturalspeech/internal/events"
	"github.com/naturalspeech/naturalspeech/internal/policy"
	"github.com/naturalspeech/naturalspeech/internal/voices"
	"github.com/naturalspeech/naturalspeech/tts"
	"github.com/naturalspeech/naturalspeech/tts/engines/piper"
	"github.com/naturalspeech/naturalspeech/tts/engines/system"
	"github.com/naturalspeech/naturalspeech/tts/text"
)

// app holds everything a command needs to speak.
type app struct {
	cfg     tts.Config
	workers *tts.WorkerPool
	cache   *cache.AudioCache
	bus     *events.Bus
	nats    *events.NATSSink
	mixer   *audio.Mixer
	voices  *voices.Registry
	text    *text.Processor
	piper   *piper.Engine
	system  *system.Engine
	manager *tts.Manager
}

type appOptions struct {
	// silent replaces the sound card with a device that plays nothing
	silent bool
}

func newApp(cfg tts.Config, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		workers: tts.NewWorkerPool(cfg.Workers),
		bus:     events.NewBus(),
		voices:  voices.NewRegistry(),
		text:    text.NewProcessor(text.ReplacementsFromMap(cfg.Text.Replacements), cfg.Text.LargeNumbers),
	}
	a.bus.Subscribe(events.LogHandler(log.Default().WithPrefix("events")))

	if cfg.Events.NATSURL != "" {
		sink, err := events.DialNATS(cfg.Events.NATSURL, cfg.Events.Subject, log.Default().WithPrefix("nats"))
		if err != nil {
			// events are informational; speech works without them
			log.Warn("Could not connect to NATS", "url", cfg.Events.NATSURL, "err", err)
		} else {
			a.nats = sink
			a.bus.Subscribe(sink.Handler())
		}
	}

	if cfg.Cache.Enabled {
		dir, err := defaultCacheDir()
		if err != nil {
			return nil, a.closeWith(err)
		}
		c, err := cache.New(cache.FromSettings(cfg.Cache, dir))
		if err != nil {
			log.Warn("Audio cache disabled", "err", err)
		} else {
			a.cache = c
		}
	}

	var device audio.Device
	if opts.silent {
		device = audio.NewFakeDevice(tts.PiperFormat, 1000)
	} else {
		d, err := audio.NewOtoDevice(audio.DefaultDeviceConfig())
		if err != nil {
			return nil, a.closeWith(fmt.Errorf("unable to open audio device: %w", err))
		}
		device = d
	}
	a.mixer = audio.NewMixer(device, audio.WithMasterGain(cfg.Audio.MasterGain))
	a.mixer.SetMuted(cfg.Audio.Mute)

	a.piper = piper.NewEngine(cfg.Piper,
		piper.WithEngineWorkers(a.workers),
		piper.WithEngineEvents(a.bus),
		piper.WithVoiceRegistry(a.voices),
	)
	systemOpts := []system.Option{system.WithWorkers(a.workers)}
	if a.cache != nil {
		systemOpts = append(systemOpts, system.WithCache(a.cache))
	}
	a.system = system.NewEngine(cfg.System, systemOpts...)

	a.manager = tts.NewManager(a.mixer,
		tts.WithVoiceRegistry(a.voices),
		tts.WithEvents(a.bus),
		tts.WithContentPolicy(policy.New(cfg.Policy)),
	)
	for _, e := range []tts.Engine{a.piper, a.system} {
		if err := a.manager.LoadEngine(e); err != nil {
			return nil, a.closeWith(err)
		}
	}
	return a, nil
}

func defaultCacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, appName).CacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to find cache directory: %w", err)
	}
	return filepath.Join(dir, "audio"), nil
}

// start starts every engine and fails when none can speak.
func (a *app) start(ctx context.Context) error {
	a.manager.StartUp(ctx)
	if !a.manager.IsAlive() {
		return errors.New("no speech engine could start, run with --debug for details")
	}
	return nil
}

// pipermodels lets live reloads start and stop piper models. It starts the
// whole engine again when every model had crashed.
type pipermodels struct {
	engine  *piper.Engine
	manager *tts.Manager
}

func (m pipermodels) SetDisabledModels(names []string) {
	m.engine.SetDisabledModels(names)
}

func (m pipermodels) StartModel(ctx context.Context, name string) error {
	err := m.engine.StartModel(ctx, name)
	if errors.Is(err, tts.ErrDead) {
		return m.manager.StartEngine(ctx, m.engine)
	}
	return err
}

func (m pipermodels) StopModel(name string) error {
	return m.engine.StopModel(name)
}

// say processes text and returns an error when nothing is left to say.
func (a *app) say(s string) (string, error) {
	s = a.text.Process(s)
	if s == "" {
		return "", errors.New("nothing to say")
	}
	return s, nil
}

// voice resolves a voice flag. An empty flag picks a voice for speaker.
func (a *app) voice(id string, gender tts.Gender, speaker string) (tts.VoiceID, error) {
	if id != "" {
		v, err := tts.ParseVoiceID(id)
		if err != nil {
			return v, err
		}
		if !a.manager.CanSpeak(v) {
			return v, fmt.Errorf("voice %s is not available", v)
		}
		return v, nil
	}
	v, ok := a.voices.Pick(gender, speaker)
	if !ok {
		return tts.VoiceID{}, errors.New("no voice available")
	}
	return v.ID, nil
}

// drain waits until every mixer line finished playing.
func (a *app) drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for len(a.mixer.Lines()) > 0 {
		select {
		case <-ctx.Done():
			a.mixer.CloseAll()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (a *app) close() error {
	return a.closeWith(nil)
}

func (a *app) closeWith(err error) error {
	if a.manager != nil {
		a.manager.ShutDown()
	}
	if a.mixer != nil {
		a.mixer.Close()
	}
	a.workers.Close()
	a.bus.Close()
	if a.nats != nil {
		err = multierr.Append(err, a.nats.Close())
	}
	if a.cache != nil {
		err = multierr.Append(err, a.cache.Close())
	}
	return err
}
