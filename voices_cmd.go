package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/naturalspeech/naturalspeech/internal/voices"
	"github.com/naturalspeech/naturalspeech/tts"
)

var (
	voicesSearch string
	voicesGender string

	voicesCmd = &cobra.Command{
		Use:     "voices",
		Short:   "List the voices the installed engines can speak with",
		Long:    paragraph(fmt.Sprintf("\n%s the voices of every engine that starts. Starting engines may take a moment.", keyword("List"))),
		Example: paragraph("naturalspeech voices --search libri\nnaturalspeech voices --gender f"),
		Args:    cobra.NoArgs,
		RunE:    listVoices,
	}
)

func init() {
	voicesCmd.Flags().StringVarP(&voicesSearch, "search", "s", "", "fuzzy search voice ids and names")
	voicesCmd.Flags().StringVar(&voicesGender, "gender", "", "only list voices of this gender (m/f)")
}

func listVoices(cmd *cobra.Command, _ []string) error {
	cfg, err := tts.LoadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{silent: true})
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	if err := a.start(cmd.Context()); err != nil {
		return err
	}

	list := a.voices.Voices()
	if voicesGender != "" {
		list = a.voices.ByGender(tts.ParseGender(voicesGender))
	}
	if voicesSearch != "" {
		list = voices.Search(list, voicesSearch)
	}
	if len(list) == 0 {
		return errors.New("no voices match")
	}

	printVoices(cmd.OutOrStdout(), list, term.IsTerminal(int(os.Stdout.Fd())))
	return nil
}

func printVoices(w io.Writer, list []tts.Voice, styled bool) {
	width := 0
	for _, v := range list {
		width = max(width, runewidth.StringWidth(v.ID.String()))
	}
	id := lipgloss.NewStyle().Width(width + 2)
	gender := lipgloss.NewStyle().Width(7)
	for _, v := range list {
		line := id.Render(v.ID.String()) + gender.Render(string(v.Gender)) + v.Name
		if styled {
			line = id.Render(keyword(v.ID.String())) + gender.Render(faint(string(v.Gender))) + v.Name
		}
		fmt.Fprintln(w, line)
	}
}
