package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/atotto/clipboard"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/naturalspeech/naturalspeech/internal/audio"
	"github.com/naturalspeech/naturalspeech/tts"
)

var (
	speakVoice     string
	speakGender    string
	speakSpeaker   string
	speakLine      string
	speakGain      float32
	speakOutput    string
	speakClipboard bool

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT...]",
		Short: "Speak text or write it to a WAV file",
		Long: paragraph(fmt.Sprintf("\n%s the arguments, standard input or the clipboard. Without --voice a voice is picked for --speaker.",
			keyword("Speak"))),
		Example: paragraph("naturalspeech speak --voice libritts:360 Hello there\necho hello | naturalspeech speak -o hello.wav"),
		RunE:    speak,
	}
)

func init() {
	speakCmd.Flags().StringVar(&speakVoice, "voice", "", "voice id as model:id")
	speakCmd.Flags().StringVar(&speakGender, "gender", "", "gender to pick a voice by (m/f)")
	speakCmd.Flags().StringVar(&speakSpeaker, "speaker", "", "name to pick a stable voice for")
	speakCmd.Flags().StringVarP(&speakLine, "line", "l", tts.LocalPlayerLine, "audio line to play on")
	speakCmd.Flags().Float32VarP(&speakGain, "gain", "g", 1, "volume of this utterance")
	speakCmd.Flags().StringVarP(&speakOutput, "output", "o", "", "write a WAV file instead of playing")
	speakCmd.Flags().BoolVarP(&speakClipboard, "clipboard", "c", false, "speak the clipboard contents")
}

func readSpeakText(args []string) (string, error) {
	if speakClipboard {
		s, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		return s, nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if yes, err := stdinIsPipe(); err != nil {
		return "", err
	} else if yes {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), nil
	}
	return "", errors.New("no text given")
}

func speak(cmd *cobra.Command, args []string) error {
	input, err := readSpeakText(args)
	if err != nil {
		return err
	}

	cfg, err := tts.LoadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, appOptions{silent: speakOutput != ""})
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := a.start(ctx); err != nil {
		return err
	}
	text, err := a.say(input)
	if err != nil {
		return err
	}
	voice, err := a.voice(speakVoice, tts.ParseGender(speakGender), speakSpeaker)
	if err != nil {
		return err
	}

	stream, err := a.manager.Generate(voice, text, speakLine)
	if err != nil {
		return err
	}
	defer stream.Cancel()

	if speakOutput != "" {
		clip, err := stream.Wait(ctx)
		if err != nil {
			return err
		}
		if err := writeWAV(speakOutput, clip); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote", speakOutput)
		return nil
	}

	gain := tts.ConstantGain(speakGain)
	for {
		select {
		case seg, ok := <-stream.Segments():
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return a.drain(ctx)
			}
			a.mixer.Play(speakLine, seg, gain)
		case <-ctx.Done():
			a.mixer.CloseAll()
			return ctx.Err()
		}
	}
}

// writeWAV writes a as a mono 16-bit WAV file.
func writeWAV(path string, a tts.Audio) error {
	mono := tts.Format{SampleRate: a.Format.SampleRate, Channels: 1, BitDepth: 16, Signed: true, LittleEndian: true}
	data, err := audio.Convert(a, mono)
	if err != nil {
		return err
	}

	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create output file: %w", err)
	}
	enc := wav.NewEncoder(f, mono.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: mono.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("unable to write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("unable to write wav: %w", err)
	}
	return f.Close()
}
