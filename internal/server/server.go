// Package server speaks requests read as JSON lines, the way a game mod or
// chat bridge talks to the service over a pipe.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/naturalspeech/naturalspeech/tts"
)

// Ops understood by Handle.
const (
	OpSpeak      = "speak"
	OpSilence    = "silence"
	OpSilenceAll = "silence_all"
	OpVoices     = "voices"
	OpPing       = "ping"
)

// ErrUnknownOp is returned for requests with an unsupported op.
var ErrUnknownOp = errors.New("unknown op")

// maxLine bounds a single request.
const maxLine = 1 << 20

// Request is one input line.
type Request struct {
	ID      string   `json:"id,omitempty"`
	Op      string   `json:"op"`
	Voice   string   `json:"voice,omitempty"`
	Text    string   `json:"text,omitempty"`
	Line    string   `json:"line,omitempty"`
	User    string   `json:"user,omitempty"`
	Gain    *float32 `json:"gain,omitempty"`
	Gender  string   `json:"gender,omitempty"`
	Speaker string   `json:"speaker,omitempty"`
}

// Response is one output line. Events are written as responses of type
// "event".
type Response struct {
	ID     string      `json:"id,omitempty"`
	Type   string      `json:"type"`
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	Voices []VoiceInfo `json:"voices,omitempty"`
	Event  tts.Event   `json:"event,omitempty"`
	Topic  string      `json:"topic,omitempty"`
}

// VoiceInfo describes a voice in a voices response.
type VoiceInfo struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Gender tts.Gender `json:"gender"`
}

// Speaker is the part of tts.Manager the server drives.
type Speaker interface {
	Speak(voiceID tts.VoiceID, text string, gain tts.GainFunc, line string) bool
	SpeakAs(username string, voiceID tts.VoiceID, text string, gain tts.GainFunc, line string) bool
	Silence(match tts.LineMatcher)
	SilenceAll()
	Voices() []tts.Voice
}

// VoicePicker chooses a voice for a speaker when a request names none.
type VoicePicker interface {
	Pick(g tts.Gender, speaker string) (tts.Voice, bool)
}

// Option configures a Server.
type Option func(*Server)

// WithPicker lets requests without a voice pick one by gender and speaker.
func WithPicker(p VoicePicker) Option {
	return func(s *Server) { s.picker = p }
}

// WithMute drops speech on lines for which muted returns true.
func WithMute(muted func(line string) bool) Option {
	return func(s *Server) { s.muted = muted }
}

// WithTextFilter rewrites text before it is spoken; an empty result drops
// the request.
func WithTextFilter(f func(string) string) Option {
	return func(s *Server) { s.filter = f }
}

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server reads requests and writes responses. Writes are serialized so
// events may be posted from other goroutines.
type Server struct {
	speaker Speaker
	picker  VoicePicker
	muted   func(string) bool
	filter  func(string) string
	logger  *log.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

// New creates a server writing to out.
func New(speaker Speaker, out io.Writer, opts ...Option) *Server {
	s := &Server{
		speaker: speaker,
		muted:   func(string) bool { return false },
		filter:  func(s string) string { return s },
		enc:     json.NewEncoder(out),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("server")
	}
	return s
}

// Serve handles requests from r until it is exhausted or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			if len(line) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				s.write(Response{Type: "error", Error: fmt.Sprintf("invalid request: %v", err)})
				continue
			}
			s.write(s.Handle(req))
		}
	}
}

// Handle runs one request.
func (s *Server) Handle(req Request) Response {
	resp := Response{ID: req.ID, Type: req.Op}
	var err error
	switch req.Op {
	case OpSpeak:
		err = s.speak(req)
	case OpSilence:
		if req.Line == "" {
			err = errors.New("silence needs a line")
			break
		}
		s.speaker.Silence(tts.MatchLine(req.Line))
	case OpSilenceAll:
		s.speaker.SilenceAll()
	case OpVoices:
		for _, v := range s.speaker.Voices() {
			resp.Voices = append(resp.Voices, VoiceInfo{ID: v.ID.String(), Name: v.Name, Gender: v.Gender})
		}
	case OpPing:
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	return resp
}

func (s *Server) speak(req Request) error {
	if req.Line == "" {
		req.Line = tts.DialogLine
	}
	if s.muted(req.Line) {
		s.logger.Debug("Line muted", "line", req.Line)
		return nil
	}
	text := s.filter(req.Text)
	if text == "" {
		return errors.New("nothing to say")
	}

	voice, err := s.voice(req)
	if err != nil {
		return err
	}

	gain := tts.ConstantGain(1)
	if req.Gain != nil {
		gain = tts.ConstantGain(*req.Gain)
	}

	var ok bool
	if req.User != "" {
		ok = s.speaker.SpeakAs(req.User, voice, text, gain, req.Line)
	} else {
		ok = s.speaker.Speak(voice, text, gain, req.Line)
	}
	if !ok {
		return fmt.Errorf("voice %s cannot speak", voice)
	}
	return nil
}

func (s *Server) voice(req Request) (tts.VoiceID, error) {
	if req.Voice != "" {
		return tts.ParseVoiceID(req.Voice)
	}
	if s.picker == nil {
		return tts.VoiceID{}, errors.New("no voice given")
	}
	v, ok := s.picker.Pick(tts.ParseGender(req.Gender), req.Speaker)
	if !ok {
		return tts.VoiceID{}, errors.New("no voice available")
	}
	return v.ID, nil
}

// Post implements tts.EventSink by writing the event as a response line.
func (s *Server) Post(e tts.Event) {
	s.write(Response{Type: "event", OK: true, Topic: e.Topic(), Event: e})
}

func (s *Server) write(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(resp); err != nil {
		s.logger.Error("Cannot write response", "err", err)
	}
}
