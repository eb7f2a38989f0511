package tts

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseVoiceID(t *testing.T) {
	tests := []struct {
		in      string
		want    VoiceID
		wantErr bool
	}{
		{in: "libritts:360", want: VoiceID{Model: "libritts", ID: "360"}},
		{in: "system:en-us", want: VoiceID{Model: "system", ID: "en-us"}},
		{in: "libritts", wantErr: true},
		{in: "a:b:c", wantErr: true},
		{in: ":1", wantErr: true},
		{in: "amy: ", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseVoiceID(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidVoiceID) {
				t.Errorf("ParseVoiceID(%q) error = %v, want ErrInvalidVoiceID", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseVoiceID(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestVoiceIDIndex(t *testing.T) {
	if i, ok := MustParseVoiceID("libritts:12").Index(); !ok || i != 12 {
		t.Errorf("Index() = %d, %v", i, ok)
	}
	if _, ok := MustParseVoiceID("system:en").Index(); ok {
		t.Error("Index() of a named voice ok")
	}
	if !(VoiceID{}).IsZero() || MustParseVoiceID("a:b").IsZero() {
		t.Error("IsZero() wrong")
	}
}

func TestVoiceIDJSON(t *testing.T) {
	data, err := json.Marshal(VoiceID{Model: "amy", ID: "0"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"modelName":"amy","id":"0","version":1}` {
		t.Errorf("Marshal() = %s", data)
	}

	tests := []struct {
		name    string
		in      string
		want    VoiceID
		wantErr bool
	}{
		{"version 1", `{"modelName":"libritts","id":"360","version":1}`, VoiceID{"libritts", "360"}, false},
		{"version 0 number", `{"modelName":"libritts","piperVoiceID":360}`, VoiceID{"libritts", "360"}, false},
		{"version 0 string", `{"modelName":"libritts","piperVoiceID":"360"}`, VoiceID{"libritts", "360"}, false},
		{"version 0 without id", `{"modelName":"libritts"}`, VoiceID{}, true},
		{"version 1 without id", `{"modelName":"libritts","version":1}`, VoiceID{}, true},
		{"future version", `{"modelName":"libritts","id":"1","version":9}`, VoiceID{}, true},
		{"not an object", `"libritts:360"`, VoiceID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got VoiceID
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Unmarshal() = %v, want error", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Unmarshal() = %v, %v, want %v", got, err, tt.want)
			}
		})
	}
}

func TestParseGender(t *testing.T) {
	tests := map[string]Gender{
		"M":       GenderMale,
		"male":    GenderMale,
		" f ":     GenderFemale,
		"Female":  GenderFemale,
		"":        GenderOther,
		"unknown": GenderOther,
	}
	for in, want := range tests {
		if got := ParseGender(in); got != want {
			t.Errorf("ParseGender(%q) = %q, want %q", in, got, want)
		}
	}
}
