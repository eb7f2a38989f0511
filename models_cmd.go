package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/naturalspeech/naturalspeech/internal/repository"
	"github.com/naturalspeech/naturalspeech/tts"
)

var (
	modelsInstalled bool

	modelsCmd = &cobra.Command{
		Use:     "models",
		Short:   "List the piper models of the model repository",
		Long:    paragraph(fmt.Sprintf("\n%s the models in model_repository.json and whether they are installed.", keyword("List"))),
		Example: paragraph("naturalspeech models\nnaturalspeech models --installed"),
		Args:    cobra.NoArgs,
		RunE:    listModels,
	}
)

func init() {
	modelsCmd.Flags().BoolVarP(&modelsInstalled, "installed", "i", false, "only list installed models")
}

func listModels(cmd *cobra.Command, _ []string) error {
	cfg, err := tts.LoadConfig()
	if err != nil {
		return err
	}
	repo, err := repository.Open(cfg.Piper.ResolvedRepository(), cfg.Piper.ResolvedModelsDir())
	if err != nil {
		return err
	}
	printModels(cmd.OutOrStdout(), repo, cfg.Piper, modelsInstalled, term.IsTerminal(int(os.Stdout.Fd())))
	return nil
}

func printModels(w io.Writer, repo *repository.Repository, cfg tts.PiperConfig, installedOnly, styled bool) {
	for _, e := range repo.Entries() {
		installed := repo.IsLocal(e.ModelName)
		if installedOnly && !installed {
			continue
		}

		state := "available"
		switch {
		case installed && !cfg.ModelEnabled(e.ModelName):
			state = "disabled"
		case installed:
			state = "installed"
			if size := installedSize(repo, e.ModelName); size > 0 {
				state += ", " + humanize.Bytes(size)
			}
		}

		mem := e.MemorySize
		if n, err := humanize.ParseBytes(e.MemorySize); err == nil {
			mem = humanize.Bytes(n)
		}

		name := e.ModelName
		if styled {
			name = keyword(name)
			state = faint(state)
			if !installed {
				name = faint(e.ModelName)
			}
		}
		fmt.Fprintf(w, "%s (%s)\n", name, state)
		if e.Description != "" {
			fmt.Fprintf(w, "  %s\n", e.Description)
		}
		if mem != "" {
			fmt.Fprintf(w, "  memory: %s\n", mem)
		}
	}
}

func installedSize(repo *repository.Repository, name string) uint64 {
	onnx, onnxMetadata, metadata := repo.Paths(name)
	var total uint64
	for _, p := range []string{onnx, onnxMetadata, metadata} {
		if st, err := os.Stat(p); err == nil {
			total += uint64(st.Size()) //nolint:gosec
		}
	}
	return total
}
