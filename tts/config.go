package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

// Config contains all speech configuration options.
type Config struct {
	// Size of the worker pool shared by all engines
	Workers int `yaml:"workers" env:"NATURALSPEECH_WORKERS" envDefault:"8"`

	Piper  PiperConfig  `yaml:"piper"`
	System SystemConfig `yaml:"system"`
	Audio  AudioConfig  `yaml:"audio"`
	Cache  CacheConfig  `yaml:"cache"`
	Events EventsConfig `yaml:"events"`
	Policy PolicyConfig `yaml:"policy"`
	Mute   MuteConfig   `yaml:"mute"`
	Text   TextConfig   `yaml:"text"`
}

// PiperConfig contains Piper engine settings.
type PiperConfig struct {
	Enabled bool   `yaml:"enabled" env:"NATURALSPEECH_PIPER_ENABLED" envDefault:"true"`
	Binary  string `yaml:"binary" env:"NATURALSPEECH_PIPER_BINARY" envDefault:"piper"`
	// Directory holding one folder per model; defaults to a "models" folder
	// next to the binary
	ModelsDir string `yaml:"models_dir" env:"NATURALSPEECH_PIPER_MODELS_DIR"`
	// model_repository.json; defaults to ModelsDir/model_repository.json
	Repository      string        `yaml:"repository" env:"NATURALSPEECH_PIPER_REPOSITORY"`
	Processes       int           `yaml:"processes" env:"NATURALSPEECH_PIPER_PROCESSES" envDefault:"2"`
	GenerateTimeout time.Duration `yaml:"generate_timeout" env:"NATURALSPEECH_PIPER_GENERATE_TIMEOUT" envDefault:"30s"`
	DisabledModels  []string      `yaml:"disabled_models" env:"NATURALSPEECH_PIPER_DISABLED_MODELS" envSeparator:","`
	// Utterances longer than this are split into sentences; 0 always splits
	SplitThreshold int `yaml:"split_threshold" env:"NATURALSPEECH_PIPER_SPLIT_THRESHOLD" envDefault:"50"`
}

// SystemConfig contains settings for the operating system synthesizer.
type SystemConfig struct {
	Enabled bool `yaml:"enabled" env:"NATURALSPEECH_SYSTEM_ENABLED" envDefault:"true"`
	// Command line with a {voice} placeholder; text is written to stdin and
	// audio read from stdout, or from the {output} file when present
	Command string        `yaml:"command" env:"NATURALSPEECH_SYSTEM_COMMAND"`
	Voices  []string      `yaml:"voices" env:"NATURALSPEECH_SYSTEM_VOICES" envSeparator:","`
	Timeout time.Duration `yaml:"timeout" env:"NATURALSPEECH_SYSTEM_TIMEOUT" envDefault:"10s"`
}

// AudioConfig contains playback settings.
type AudioConfig struct {
	MasterGain float64 `yaml:"master_gain" env:"NATURALSPEECH_AUDIO_MASTER_GAIN" envDefault:"1.0"`
	Mute       bool    `yaml:"mute" env:"NATURALSPEECH_AUDIO_MUTE" envDefault:"false"`
}

// CacheConfig contains settings for the generated audio cache.
type CacheConfig struct {
	Enabled          bool   `yaml:"enabled" env:"NATURALSPEECH_CACHE_ENABLED" envDefault:"true"`
	Dir              string `yaml:"dir" env:"NATURALSPEECH_CACHE_DIR"`
	MaxSize          int    `yaml:"max_size" env:"NATURALSPEECH_CACHE_MAX_SIZE" envDefault:"100"` // MB
	CompressionLevel int    `yaml:"compression_level" env:"NATURALSPEECH_CACHE_COMPRESSION_LEVEL" envDefault:"3"`
}

// EventsConfig controls where status events are published.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" env:"NATURALSPEECH_EVENTS_NATS_URL"`
	Subject string `yaml:"subject" env:"NATURALSPEECH_EVENTS_SUBJECT" envDefault:"naturalspeech.events"`
}

// PolicyConfig configures chat spam filtering.
type PolicyConfig struct {
	Enabled           bool          `yaml:"enabled" env:"NATURALSPEECH_POLICY_ENABLED" envDefault:"true"`
	MessagesPerMinute float64       `yaml:"messages_per_minute" env:"NATURALSPEECH_POLICY_MESSAGES_PER_MINUTE" envDefault:"20"`
	Burst             int           `yaml:"burst" env:"NATURALSPEECH_POLICY_BURST" envDefault:"5"`
	RepeatWindow      time.Duration `yaml:"repeat_window" env:"NATURALSPEECH_POLICY_REPEAT_WINDOW" envDefault:"10s"`
}

// MuteConfig silences whole groups of lines.
type MuteConfig struct {
	Self   bool `yaml:"self" env:"NATURALSPEECH_MUTE_SELF" envDefault:"false"`
	Others bool `yaml:"others" env:"NATURALSPEECH_MUTE_OTHERS" envDefault:"false"`
}

// TextConfig controls text preprocessing before synthesis.
type TextConfig struct {
	LargeNumbers bool              `yaml:"large_numbers" env:"NATURALSPEECH_TEXT_LARGE_NUMBERS" envDefault:"true"`
	Replacements map[string]string `yaml:"replacements" env:"NATURALSPEECH_TEXT_REPLACEMENTS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers: DefaultWorkers,
		Piper:   DefaultPiperConfig(),
		System:  DefaultSystemConfig(),
		Audio: AudioConfig{
			MasterGain: 1.0,
		},
		Cache: CacheConfig{
			Enabled:          true,
			MaxSize:          100,
			CompressionLevel: 3,
		},
		Events: EventsConfig{
			Subject: "naturalspeech.events",
		},
		Policy: PolicyConfig{
			Enabled:           true,
			MessagesPerMinute: 20,
			Burst:             5,
			RepeatWindow:      10 * time.Second,
		},
		Text: TextConfig{
			LargeNumbers: true,
		},
	}
}

// DefaultPiperConfig returns default Piper configuration.
func DefaultPiperConfig() PiperConfig {
	return PiperConfig{
		Enabled:         true,
		Binary:          "piper",
		Processes:       2,
		GenerateTimeout: 30 * time.Second,
		SplitThreshold:  50,
	}
}

// DefaultSystemConfig returns the synthesizer command for the current
// platform.
func DefaultSystemConfig() SystemConfig {
	cfg := SystemConfig{
		Enabled: true,
		Timeout: 10 * time.Second,
	}
	switch runtime.GOOS {
	case "darwin":
		cfg.Command = "say -v {voice} -o {output} --file-format=WAVE --data-format=LEI16@22050 -f -"
		cfg.Voices = []string{"Samantha", "Daniel"}
	default:
		cfg.Command = "espeak-ng --stdout -v {voice} --stdin"
		cfg.Voices = []string{"en-us", "en-gb"}
	}
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Workers < 1 || c.Workers > 256 {
		return fmt.Errorf("workers must be between 1 and 256, got %d", c.Workers)
	}
	if err := c.Piper.Validate(); err != nil {
		return fmt.Errorf("piper config: %w", err)
	}
	if err := c.System.Validate(); err != nil {
		return fmt.Errorf("system config: %w", err)
	}
	if c.Audio.MasterGain < 0.0 || c.Audio.MasterGain > 2.0 {
		return fmt.Errorf("master_gain must be between 0.0 and 2.0, got %f", c.Audio.MasterGain)
	}
	if c.Cache.Enabled && (c.Cache.MaxSize < 1 || c.Cache.MaxSize > 10000) {
		return fmt.Errorf("cache max_size must be between 1 and 10000 MB, got %d", c.Cache.MaxSize)
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		return fmt.Errorf("cache compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel)
	}
	if c.Policy.Enabled {
		if c.Policy.MessagesPerMinute <= 0 {
			return fmt.Errorf("policy messages_per_minute must be positive, got %f", c.Policy.MessagesPerMinute)
		}
		if c.Policy.Burst < 1 {
			return fmt.Errorf("policy burst must be at least 1, got %d", c.Policy.Burst)
		}
	}
	if c.Events.NATSURL != "" && c.Events.Subject == "" {
		return fmt.Errorf("events subject cannot be empty when nats_url is set")
	}
	return nil
}

// Validate checks if the Piper configuration is valid.
func (c *PiperConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Binary == "" {
		return fmt.Errorf("piper binary path cannot be empty")
	}
	if c.Processes < 1 || c.Processes > 16 {
		return fmt.Errorf("processes must be between 1 and 16, got %d", c.Processes)
	}
	if c.GenerateTimeout < 0 {
		return fmt.Errorf("generate_timeout cannot be negative, got %v", c.GenerateTimeout)
	}
	if c.SplitThreshold < 0 {
		return fmt.Errorf("split_threshold cannot be negative, got %d", c.SplitThreshold)
	}
	return nil
}

// Validate checks if the system synthesizer configuration is valid.
func (c *SystemConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("system command cannot be empty")
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second, got %v", c.Timeout)
	}
	return nil
}

// ResolvedModelsDir resolves the models directory.
func (c *PiperConfig) ResolvedModelsDir() string {
	if c.ModelsDir != "" {
		return ExpandPath(c.ModelsDir)
	}
	return filepath.Join(filepath.Dir(ExpandPath(c.Binary)), "models")
}

// ResolvedRepository resolves the repository file path.
func (c *PiperConfig) ResolvedRepository() string {
	if c.Repository != "" {
		return ExpandPath(c.Repository)
	}
	return filepath.Join(c.ResolvedModelsDir(), "model_repository.json")
}

// ModelEnabled reports whether name is not listed in DisabledModels.
func (c *PiperConfig) ModelEnabled(name string) bool {
	for _, m := range c.DisabledModels {
		if strings.EqualFold(strings.TrimSpace(m), name) {
			return false
		}
	}
	return true
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		expanded = path
	}
	return filepath.Clean(os.ExpandEnv(expanded))
}
