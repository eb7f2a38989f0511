package text

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"quote", `say "hi"`, `say \"hi\"`},
		{"backslash", `a\b`, `a\\b`},
		{"newline and tab", "a\nb\tc", `a\nb\tc`},
		{"carriage return", "a\r", `a\r`},
		{"backspace and form feed", "\b\f", `\b\f`},
		{"other control", "a\x01b", `a\u0001b`},
		{"unicode", "héllo ☃", "héllo ☃"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.input); got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestJSON(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		speakerID int
		want      string
	}{
		{"with speaker", "Hello.", 42, `{"text":"Hello.", "speaker_id":42}`},
		{"default speaker", "Hello.", -1, `{"text":"Hello."}`},
		{"zero speaker", "Hi", 0, `{"text":"Hi", "speaker_id":0}`},
		{"escaped", "a \"b\"\n", 3, `{"text":"a \"b\"\n", "speaker_id":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequestJSON(tt.text, tt.speakerID)
			if got != tt.want {
				t.Errorf("RequestJSON() = %s, want %s", got, tt.want)
			}

			var req struct {
				Text      string `json:"text"`
				SpeakerID *int   `json:"speaker_id"`
			}
			if err := json.Unmarshal([]byte(got), &req); err != nil {
				t.Fatalf("request is not valid JSON: %v", err)
			}
			if req.Text != tt.text {
				t.Errorf("decoded text = %q, want %q", req.Text, tt.text)
			}
			if tt.speakerID < 0 && req.SpeakerID != nil {
				t.Errorf("speaker_id present for default speaker")
			}
		})
	}
}

func TestRenderLargeNumbers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"buying 1,500 coins", "buying 1500 coins"},
		{"1,000,000 gp", "1000000 gp"},
		{"selling for 5k", "selling for 5 thousand"},
		{"selling for 5 K each", "selling for 5 thousand each"},
		{"3m cash", "3 million cash"},
		{"2b", "2 billion"},
		{"1t", "1 trillion"},
		{"1,234.56", "1234.56"},
		{"5kg", "5kg"},
		{"no numbers", "no numbers"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := RenderLargeNumbers(tt.input); got != tt.want {
				t.Errorf("RenderLargeNumbers(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestContainsAlphaNumeric(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"hello", true},
		{"123", true},
		{"_", true},
		{"...", false},
		{"", false},
		{"  !? ", false},
		{"ñ", true},
	}

	for _, tt := range tests {
		if got := ContainsAlphaNumeric(tt.input); got != tt.want {
			t.Errorf("ContainsAlphaNumeric(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	decomposed := "cafe\u0301"
	if got := Normalize(decomposed); got != "caf\u00e9" {
		t.Errorf("Normalize(%q) = %q, want NFC form", decomposed, got)
	}
	if got := Normalize("  a \n\t b  "); got != "a b" {
		t.Errorf("Normalize collapsed whitespace to %q", got)
	}
}

func TestParseReplacements(t *testing.T) {
	input := "gz=congratulations\n=_==squint face\nbroken line\n =empty match\nlol=\n"
	want := []Replacement{
		{Match: "gz", Replacement: "congratulations"},
		{Match: "=_=", Replacement: "squint face"},
		{Match: "lol", Replacement: ""},
	}

	got := ParseReplacements(input)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseReplacements() = %+v, want %+v", got, want)
	}
}

func TestReplacementsFromMap(t *testing.T) {
	got := ReplacementsFromMap(map[string]string{
		"ty":      "thank you",
		"ty very": "thank you very",
		"brb":     "be right back",
		"   ":     "ignored",
		"idk":     "I don't know",
	})
	want := []Replacement{
		{Match: "ty very", Replacement: "thank you very"},
		{Match: "brb", Replacement: "be right back"},
		{Match: "idk", Replacement: "I don't know"},
		{Match: "ty", Replacement: "thank you"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReplacementsFromMap() = %+v, want %+v", got, want)
	}
}

func TestRenderReplacements(t *testing.T) {
	rules := []Replacement{
		{Match: "gz", Replacement: "congratulations"},
		{Match: "replace me", Replacement: "OK"},
		{Match: "<3", Replacement: "heart"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"gz", "congratulations"},
		{"GZ on 99", "congratulations on 99"},
		{"big gz!", "big congratulations!"},
		{"gzz", "gzz"},
		{"agz", "agz"},
		{"replace me", "OK"},
		{"filler replace me", "filler OK"},
		{"dont_replace me", "dont_replace me"},
		{"i <3 you", "i heart you"},
		{"  gz  ", "congratulations"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := RenderReplacements(tt.input, rules); got != tt.want {
				t.Errorf("RenderReplacements(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestProcessor(t *testing.T) {
	p := NewProcessor([]Replacement{{Match: "gp", Replacement: "gold"}}, true)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"replacement and number", "selling  for 5k gp", "selling for 5 thousand gold"},
		{"nothing speakable", " ... ", ""},
		{"plain", "hello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Process(tt.input); got != tt.want {
				t.Errorf("Process(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	p.SetLargeNumbers(false)
	p.SetReplacements(nil)
	if got := p.Process("5k gp"); got != "5k gp" {
		t.Errorf("Process after reset = %q, want %q", got, "5k gp")
	}
}
