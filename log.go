package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, appName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".log"), nil
}

// setupLog sends logs to a file in the user cache dir. Commands that run in
// the foreground add stderr on top with --debug.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	log.SetLevel(log.InfoLevel)
	logOutput = f
	return f.Close, nil
}

var logOutput io.Writer = io.Discard

// enableDebugLog raises the level and mirrors logs to stderr.
func enableDebugLog() {
	log.SetOutput(io.MultiWriter(logOutput, os.Stderr))
	log.SetLevel(log.DebugLevel)
	log.SetReportTimestamp(true)
}
