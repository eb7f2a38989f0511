package tts

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// LoadConfig reads the environment first and then applies the keys set in
// the Viper configuration on top.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("error parsing environment: %w", err)
	}
	applyPlatformDefaults(&cfg)
	return LoadConfigFromViper(cfg)
}

// LoadConfigFromViper overlays the keys set in Viper onto base.
func LoadConfigFromViper(base Config) (Config, error) {
	cfg := base

	if viper.IsSet("workers") {
		cfg.Workers = viper.GetInt("workers")
	}

	loadPiperConfig(&cfg.Piper)
	loadSystemConfig(&cfg.System)

	if viper.IsSet("audio.master_gain") {
		cfg.Audio.MasterGain = viper.GetFloat64("audio.master_gain")
	}
	if viper.IsSet("audio.mute") {
		cfg.Audio.Mute = viper.GetBool("audio.mute")
	}

	if viper.IsSet("cache.enabled") {
		cfg.Cache.Enabled = viper.GetBool("cache.enabled")
	}
	if viper.IsSet("cache.dir") {
		cfg.Cache.Dir = viper.GetString("cache.dir")
	}
	if viper.IsSet("cache.max_size") {
		cfg.Cache.MaxSize = viper.GetInt("cache.max_size")
	}
	if viper.IsSet("cache.compression_level") {
		cfg.Cache.CompressionLevel = viper.GetInt("cache.compression_level")
	}

	if viper.IsSet("events.nats_url") {
		cfg.Events.NATSURL = viper.GetString("events.nats_url")
	}
	if viper.IsSet("events.subject") {
		cfg.Events.Subject = viper.GetString("events.subject")
	}

	if viper.IsSet("policy.enabled") {
		cfg.Policy.Enabled = viper.GetBool("policy.enabled")
	}
	if viper.IsSet("policy.messages_per_minute") {
		cfg.Policy.MessagesPerMinute = viper.GetFloat64("policy.messages_per_minute")
	}
	if viper.IsSet("policy.burst") {
		cfg.Policy.Burst = viper.GetInt("policy.burst")
	}
	if viper.IsSet("policy.repeat_window") {
		cfg.Policy.RepeatWindow = viper.GetDuration("policy.repeat_window")
	}

	if viper.IsSet("mute.self") {
		cfg.Mute.Self = viper.GetBool("mute.self")
	}
	if viper.IsSet("mute.others") {
		cfg.Mute.Others = viper.GetBool("mute.others")
	}

	if viper.IsSet("text.large_numbers") {
		cfg.Text.LargeNumbers = viper.GetBool("text.large_numbers")
	}
	if viper.IsSet("text.replacements") {
		cfg.Text.Replacements = viper.GetStringMapString("text.replacements")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadPiperConfig(cfg *PiperConfig) {
	if viper.IsSet("piper.enabled") {
		cfg.Enabled = viper.GetBool("piper.enabled")
	}
	if viper.IsSet("piper.binary") {
		cfg.Binary = viper.GetString("piper.binary")
	}
	if viper.IsSet("piper.models_dir") {
		cfg.ModelsDir = viper.GetString("piper.models_dir")
	}
	if viper.IsSet("piper.repository") {
		cfg.Repository = viper.GetString("piper.repository")
	}
	if viper.IsSet("piper.processes") {
		cfg.Processes = viper.GetInt("piper.processes")
	}
	if viper.IsSet("piper.generate_timeout") {
		cfg.GenerateTimeout = viper.GetDuration("piper.generate_timeout")
	}
	if viper.IsSet("piper.split_threshold") {
		cfg.SplitThreshold = viper.GetInt("piper.split_threshold")
	}
	if viper.IsSet("piper.disabled_models") {
		cfg.DisabledModels = viper.GetStringSlice("piper.disabled_models")
	}
}

func loadSystemConfig(cfg *SystemConfig) {
	if viper.IsSet("system.enabled") {
		cfg.Enabled = viper.GetBool("system.enabled")
	}
	if viper.IsSet("system.command") {
		cfg.Command = viper.GetString("system.command")
	}
	if viper.IsSet("system.voices") {
		cfg.Voices = viper.GetStringSlice("system.voices")
	}
	if viper.IsSet("system.timeout") {
		cfg.Timeout = viper.GetDuration("system.timeout")
	}
}

// applyPlatformDefaults fills settings whose defaults depend on the
// operating system and therefore have no envDefault tag.
func applyPlatformDefaults(cfg *Config) {
	def := DefaultSystemConfig()
	if cfg.System.Command == "" {
		cfg.System.Command = def.Command
	}
	if len(cfg.System.Voices) == 0 {
		cfg.System.Voices = def.Voices
	}
}

// SetDefaults registers default values with Viper.
func SetDefaults() {
	defaults := DefaultConfig()

	viper.SetDefault("workers", defaults.Workers)

	viper.SetDefault("piper.enabled", defaults.Piper.Enabled)
	viper.SetDefault("piper.binary", defaults.Piper.Binary)
	viper.SetDefault("piper.processes", defaults.Piper.Processes)
	viper.SetDefault("piper.generate_timeout", defaults.Piper.GenerateTimeout.String())
	viper.SetDefault("piper.split_threshold", defaults.Piper.SplitThreshold)

	viper.SetDefault("system.enabled", defaults.System.Enabled)
	viper.SetDefault("system.command", defaults.System.Command)
	viper.SetDefault("system.voices", defaults.System.Voices)
	viper.SetDefault("system.timeout", defaults.System.Timeout.String())

	viper.SetDefault("audio.master_gain", defaults.Audio.MasterGain)
	viper.SetDefault("cache.enabled", defaults.Cache.Enabled)
	viper.SetDefault("cache.max_size", defaults.Cache.MaxSize)
	viper.SetDefault("cache.compression_level", defaults.Cache.CompressionLevel)
	viper.SetDefault("events.subject", defaults.Events.Subject)

	viper.SetDefault("policy.enabled", defaults.Policy.Enabled)
	viper.SetDefault("policy.messages_per_minute", defaults.Policy.MessagesPerMinute)
	viper.SetDefault("policy.burst", defaults.Policy.Burst)
	viper.SetDefault("policy.repeat_window", defaults.Policy.RepeatWindow.String())

	viper.SetDefault("text.large_numbers", defaults.Text.LargeNumbers)
}
