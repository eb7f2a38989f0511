package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/naturalspeech/naturalspeech/tts"
)

type spoken struct {
	user  string
	voice tts.VoiceID
	text  string
	gain  float32
	line  string
}

type fakeSpeaker struct {
	mu       sync.Mutex
	said     []spoken
	silenced []string
	all      int
	refuse   bool
}

func (f *fakeSpeaker) Speak(v tts.VoiceID, text string, gain tts.GainFunc, line string) bool {
	return f.SpeakAs("", v, text, gain, line)
}

func (f *fakeSpeaker) SpeakAs(user string, v tts.VoiceID, text string, gain tts.GainFunc, line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.said = append(f.said, spoken{user, v, text, gain(), line})
	return true
}

func (f *fakeSpeaker) Silence(match tts.LineMatcher) {
	for _, l := range []string{tts.DialogLine, tts.LocalPlayerLine, "npc_1"} {
		if match(l) {
			f.silenced = append(f.silenced, l)
		}
	}
}

func (f *fakeSpeaker) SilenceAll() { f.all++ }

func (f *fakeSpeaker) Voices() []tts.Voice {
	return []tts.Voice{{ID: tts.VoiceID{Model: "amy", ID: "0"}, Name: "amy", Gender: tts.GenderFemale}}
}

type fixedPicker struct{ gender tts.Gender }

func (p *fixedPicker) Pick(g tts.Gender, speaker string) (tts.Voice, bool) {
	p.gender = g
	if speaker == "nobody" {
		return tts.Voice{}, false
	}
	return tts.Voice{ID: tts.VoiceID{Model: "libritts", ID: "7"}}, true
}

func gain(g float32) *float32 { return &g }

func TestHandle(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		wantOK bool
		want   []spoken
	}{
		{
			name:   "speak defaults to dialog line",
			req:    Request{Op: OpSpeak, Voice: "amy:0", Text: "hello"},
			wantOK: true,
			want:   []spoken{{"", tts.VoiceID{Model: "amy", ID: "0"}, "hello", 1, tts.DialogLine}},
		},
		{
			name:   "speak as user with gain",
			req:    Request{Op: OpSpeak, Voice: "amy:0", Text: "hi", User: "bob", Line: "npc_1", Gain: gain(0.5)},
			wantOK: true,
			want:   []spoken{{"bob", tts.VoiceID{Model: "amy", ID: "0"}, "hi", 0.5, "npc_1"}},
		},
		{
			name:   "picked voice",
			req:    Request{Op: OpSpeak, Text: "hi", Gender: "female", Speaker: "Guard"},
			wantOK: true,
			want:   []spoken{{"", tts.VoiceID{Model: "libritts", ID: "7"}, "hi", 1, tts.DialogLine}},
		},
		{"no voice to pick", Request{Op: OpSpeak, Text: "hi", Speaker: "nobody"}, false, nil},
		{"bad voice id", Request{Op: OpSpeak, Voice: "amy", Text: "hi"}, false, nil},
		{"filtered to nothing", Request{Op: OpSpeak, Voice: "amy:0", Text: "   "}, false, nil},
		{"muted line", Request{Op: OpSpeak, Voice: "amy:0", Text: "hi", Line: tts.LocalPlayerLine}, true, nil},
		{"ping", Request{Op: OpPing}, true, nil},
		{"unknown op", Request{Op: "dance"}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &fakeSpeaker{}
			picker := &fixedPicker{}
			s := New(sp, &bytes.Buffer{},
				WithPicker(picker),
				WithMute(func(line string) bool { return line == tts.LocalPlayerLine }),
				WithTextFilter(strings.TrimSpace),
			)
			resp := s.Handle(tt.req)
			if resp.OK != tt.wantOK {
				t.Fatalf("Handle() = %+v, want ok %v", resp, tt.wantOK)
			}
			if !resp.OK && resp.Error == "" {
				t.Error("failed response without error")
			}
			if len(sp.said) != len(tt.want) {
				t.Fatalf("spoke %+v, want %+v", sp.said, tt.want)
			}
			for i := range tt.want {
				if sp.said[i] != tt.want[i] {
					t.Errorf("spoke %+v, want %+v", sp.said[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandleRefused(t *testing.T) {
	s := New(&fakeSpeaker{refuse: true}, &bytes.Buffer{})
	resp := s.Handle(Request{ID: "7", Op: OpSpeak, Voice: "amy:0", Text: "hi"})
	if resp.OK || resp.ID != "7" || !strings.Contains(resp.Error, "amy:0") {
		t.Errorf("Handle() = %+v", resp)
	}
}

func TestServe(t *testing.T) {
	sp := &fakeSpeaker{}
	var out bytes.Buffer
	s := New(sp, &out)

	in := strings.Join([]string{
		`{"id":"1","op":"speak","voice":"amy:0","text":"hello"}`,
		``,
		`not json`,
		`{"id":"2","op":"silence","line":"npc_1"}`,
		`{"id":"3","op":"silence"}`,
		`{"id":"4","op":"silence_all"}`,
		`{"id":"5","op":"voices"}`,
	}, "\n")
	if err := s.Serve(context.Background(), strings.NewReader(in)); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	s.Post(tts.EngineEvent{Kind: tts.EngineStarted, Engine: "piper"})

	raw := out.String()
	var got []Response
	dec := json.NewDecoder(strings.NewReader(raw))
	for dec.More() {
		var r map[string]any
		if err := dec.Decode(&r); err != nil {
			t.Fatal(err)
		}
		ok, _ := r["ok"].(bool)
		id, _ := r["id"].(string)
		typ, _ := r["type"].(string)
		topic, _ := r["topic"].(string)
		got = append(got, Response{ID: id, Type: typ, OK: ok, Topic: topic})
	}

	want := []Response{
		{ID: "1", Type: OpSpeak, OK: true},
		{Type: "error"},
		{ID: "2", Type: OpSilence, OK: true},
		{ID: "3", Type: OpSilence},
		{ID: "4", Type: OpSilenceAll, OK: true},
		{ID: "5", Type: OpVoices, OK: true},
		{Type: "event", OK: true, Topic: "engine"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d responses %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Type != want[i].Type || got[i].OK != want[i].OK || got[i].Topic != want[i].Topic {
			t.Errorf("response %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(sp.silenced) != 1 || sp.silenced[0] != "npc_1" || sp.all != 1 {
		t.Errorf("silenced %v, all %d", sp.silenced, sp.all)
	}
	if !strings.Contains(raw, `"id":"amy:0"`) {
		t.Errorf("voices response does not carry voice ids: %s", raw)
	}
}

func TestServeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer w.Close()
	if err := New(&fakeSpeaker{}, &bytes.Buffer{}).Serve(ctx, r); err != context.Canceled {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}
