package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/naturalspeech/naturalspeech/tts"
)

const defaultConfig = `# size of the worker pool shared by all engines
workers: 8

piper:
  enabled: true
  # path or name of the piper executable
  binary: "piper"
  # folder with one directory per model (default: "models" next to binary)
  # models_dir: "~/piper/models"
  # model_repository.json (default: inside models_dir)
  # repository: "~/piper/models/model_repository.json"
  # processes started per model
  processes: 2
  generate_timeout: "30s"
  # utterances longer than this are split into sentences
  split_threshold: 50
  # disabled_models: ["en_US-lessac-medium"]

# operating system synthesizer, used for voices piper does not have
system:
  enabled: true
  # {voice} is replaced with the voice name, {output} with a temporary file
  # command: "espeak-ng -v {voice} --stdout"
  # voices: ["en-us", "de"]
  timeout: "10s"

audio:
  master_gain: 1.0
  mute: false

cache:
  enabled: true
  # dir: "~/.cache/naturalspeech/audio"
  # MB on disk
  max_size: 100
  compression_level: 3

events:
  # publish engine events to NATS
  # nats_url: "nats://127.0.0.1:4222"
  subject: "naturalspeech.events"

# drop chat messages that arrive too fast or repeat
policy:
  enabled: true
  messages_per_minute: 20
  burst: 5
  repeat_window: "10s"

mute:
  self: false
  others: false

text:
  # read 1500000 as "1.5 million"
  large_numbers: true
  replacements:
    brb: "be right back"
`

var (
	configPrint bool

	configCmd = &cobra.Command{
		Use:     "config",
		Hidden:  false,
		Short:   "Edit the naturalspeech config file",
		Long:    paragraph(fmt.Sprintf("\n%s the naturalspeech config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
		Example: paragraph("naturalspeech config\nnaturalspeech config --print\nnaturalspeech config --config path/to/config.yml"),
		Args:    cobra.NoArgs,
		RunE:    editConfig,
	}
)

func init() {
	configCmd.Flags().BoolVarP(&configPrint, "print", "p", false, "print the effective configuration instead of editing")
}

func editConfig(cmd *cobra.Command, _ []string) error {
	if configPrint {
		return printConfig(cmd.OutOrStdout())
	}
	if err := ensureConfigFile(); err != nil {
		return err
	}

	c, err := editor.Cmd("naturalspeech", configFile)
	if err != nil {
		return fmt.Errorf("unable to set config file: %w", err)
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("unable to run command: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Wrote config file to:", configFile)
	return nil
}

// printConfig writes the configuration after environment and file are
// applied.
func printConfig(w io.Writer) error {
	cfg, err := tts.LoadConfig()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("unable to encode config: %w", err)
	}
	return enc.Close()
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
