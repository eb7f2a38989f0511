package watch

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/naturalspeech/naturalspeech/tts"
	"github.com/naturalspeech/naturalspeech/tts/text"
)

// Output is the part of the audio mixer live settings touch.
type Output interface {
	SetMasterGain(g float64)
	SetMuted(muted bool)
}

// Silencer drops speech on matching lines.
type Silencer interface {
	Silence(match tts.LineMatcher)
}

// Models starts and stops piper models as they leave and join
// piper.disabled_models.
type Models interface {
	SetDisabledModels(names []string)
	StartModel(ctx context.Context, name string) error
	StopModel(name string) error
}

// Live holds the settings that follow the configuration file: master gain,
// mute, line muting, text replacements and disabled models.
type Live struct {
	output   Output
	silencer Silencer
	text     *text.Processor
	logger   *log.Logger

	mu       sync.RWMutex
	mute     tts.MuteConfig
	disabled []string
	models   Models
	ctx      context.Context
}

// NewLive applies cfg to the targets. Any target may be nil.
func NewLive(cfg tts.Config, output Output, silencer Silencer, processor *text.Processor) *Live {
	l := &Live{
		output:   output,
		silencer: silencer,
		text:     processor,
		logger:   log.Default().WithPrefix("live"),
	}
	l.Apply(cfg)
	return l
}

// SetModels makes later reloads start re-enabled models and stop disabled
// ones. Models are started with ctx.
func (l *Live) SetModels(ctx context.Context, models Models) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctx, l.models = ctx, models
}

// Apply switches to cfg. Lines that become muted are silenced right away.
func (l *Live) Apply(cfg tts.Config) {
	l.mu.Lock()
	old, oldDisabled := l.mute, l.disabled
	l.mute = cfg.Mute
	l.disabled = slices.Clone(cfg.Piper.DisabledModels)
	ctx, models := l.ctx, l.models
	l.mu.Unlock()

	if l.output != nil {
		l.output.SetMasterGain(cfg.Audio.MasterGain)
		l.output.SetMuted(cfg.Audio.Mute)
	}
	if l.text != nil {
		l.text.SetReplacements(text.ReplacementsFromMap(cfg.Text.Replacements))
		l.text.SetLargeNumbers(cfg.Text.LargeNumbers)
	}
	if l.silencer != nil {
		if cfg.Mute.Self && !old.Self {
			l.silencer.Silence(tts.MatchLine(tts.LocalPlayerLine))
		}
		if cfg.Mute.Others && !old.Others {
			l.silencer.Silence(tts.MatchLine(tts.LocalPlayerLine).Not())
		}
	}
	if models != nil {
		l.applyModels(ctx, models, oldDisabled, cfg.Piper.DisabledModels)
	}
}

func (l *Live) applyModels(ctx context.Context, models Models, old, disabled []string) {
	models.SetDisabledModels(disabled)
	for _, name := range disabled {
		if listed(old, name) {
			continue
		}
		name = strings.TrimSpace(name)
		if err := models.StopModel(name); err != nil {
			l.logger.Debug("Model not stopped", "model", name, "err", err)
			continue
		}
		l.logger.Info("Model disabled", "model", name)
	}
	for _, name := range old {
		if listed(disabled, name) {
			continue
		}
		name = strings.TrimSpace(name)
		if err := models.StartModel(ctx, name); err != nil {
			l.logger.Error("Model not started", "model", name, "err", err)
			continue
		}
		l.logger.Info("Model enabled", "model", name)
	}
}

func listed(names []string, name string) bool {
	return slices.ContainsFunc(names, func(n string) bool {
		return strings.EqualFold(strings.TrimSpace(n), strings.TrimSpace(name))
	})
}

// Muted reports whether speech on line is currently muted.
func (l *Live) Muted(line string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if line == tts.LocalPlayerLine {
		return l.mute.Self
	}
	return l.mute.Others
}
