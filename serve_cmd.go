package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/naturalspeech/naturalspeech/internal/server"
	"github.com/naturalspeech/naturalspeech/internal/watch"
	"github.com/naturalspeech/naturalspeech/tts"
)

var (
	serveNoWatch bool
	serveEvents  bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Speak requests read as JSON lines from stdin",
		Long: paragraph(fmt.Sprintf("\n%s requests written one JSON object per line to standard input. Responses and, with --events, engine events are written to standard output. The config file is reloaded when it changes.",
			keyword("Serve"))),
		Example: paragraph(`echo '{"op":"speak","voice":"libritts:360","text":"hi"}' | naturalspeech serve`),
		Args:    cobra.NoArgs,
		RunE:    serve,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not reload the config file when it changes")
	serveCmd.Flags().BoolVar(&serveEvents, "events", false, "write engine and process events to stdout")
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := tts.LoadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := watch.NewLive(cfg, a.mixer, a.manager, a.text)
	srv := server.New(a.manager, cmd.OutOrStdout(),
		server.WithPicker(a.voices),
		server.WithMute(live.Muted),
		server.WithTextFilter(a.text.Process),
	)
	if serveEvents {
		unsubscribe := a.bus.Subscribe(srv.Post)
		defer unsubscribe()
	}

	if path := viper.ConfigFileUsed(); path != "" && !serveNoWatch {
		w := watch.New(path, reloadConfig, live.Apply)
		if err := w.Start(ctx); err != nil {
			log.Warn("Not watching config file", "file", path, "err", err)
		} else {
			defer w.Close() //nolint:errcheck
		}
	}

	if err := a.start(ctx); err != nil {
		return err
	}
	live.SetModels(ctx, pipermodels{engine: a.piper, manager: a.manager})
	log.Info("Serving", "voices", len(a.manager.VoiceIDs()))

	err = srv.Serve(ctx, os.Stdin)
	if errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func reloadConfig() (tts.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return tts.Config{}, err
	}
	return tts.LoadConfig()
}
