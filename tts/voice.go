package tts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// voiceIDVersion is written into serialized voice ids. Version 0 documents
// stored the speaker index under "piperVoiceID".
const voiceIDVersion = 1

// ErrInvalidVoiceID is returned when a voice id string is not "model:id".
var ErrInvalidVoiceID = errors.New("invalid voice id")

// VoiceID identifies one speaker of one model, e.g. libritts:360.
type VoiceID struct {
	Model string
	ID    string
}

// ParseVoiceID parses the "model:id" form. Both parts must be non-blank.
func ParseVoiceID(s string) (VoiceID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return VoiceID{}, fmt.Errorf("%w: %q", ErrInvalidVoiceID, s)
	}
	if strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return VoiceID{}, fmt.Errorf("%w: %q", ErrInvalidVoiceID, s)
	}
	return VoiceID{Model: parts[0], ID: parts[1]}, nil
}

// MustParseVoiceID is like ParseVoiceID but panics on error.
func MustParseVoiceID(s string) VoiceID {
	id, err := ParseVoiceID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (v VoiceID) String() string {
	return v.Model + ":" + v.ID
}

// IsZero reports whether v is the zero VoiceID.
func (v VoiceID) IsZero() bool {
	return v.Model == "" && v.ID == ""
}

// Index returns the numeric speaker index used by Piper models.
func (v VoiceID) Index() (int, bool) {
	i, err := strconv.Atoi(v.ID)
	if err != nil {
		return 0, false
	}
	return i, true
}

type voiceIDJSON struct {
	ModelName    string          `json:"modelName"`
	ID           *string         `json:"id,omitempty"`
	PiperVoiceID json.RawMessage `json:"piperVoiceID,omitempty"`
	Version      int             `json:"version"`
}

// MarshalJSON writes the versioned object form.
func (v VoiceID) MarshalJSON() ([]byte, error) {
	id := v.ID
	return json.Marshal(voiceIDJSON{ModelName: v.Model, ID: &id, Version: voiceIDVersion})
}

// UnmarshalJSON accepts the current and the version 0 object forms.
func (v *VoiceID) UnmarshalJSON(data []byte) error {
	var raw voiceIDJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Version {
	case 0:
		if len(raw.PiperVoiceID) == 0 {
			return fmt.Errorf("%w: missing piperVoiceID in version 0 voice id", ErrInvalidVoiceID)
		}
		v.Model = raw.ModelName
		v.ID = strings.Trim(string(raw.PiperVoiceID), `"`)
	case voiceIDVersion:
		if raw.ID == nil {
			return fmt.Errorf("%w: missing id in version 1 voice id", ErrInvalidVoiceID)
		}
		v.Model = raw.ModelName
		v.ID = *raw.ID
	default:
		return fmt.Errorf("%w: unknown version %d", ErrInvalidVoiceID, raw.Version)
	}
	return nil
}

// Gender of a voice as declared by model metadata.
type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
	GenderOther  Gender = "OTHER"
)

// ParseGender maps metadata values like "M", "female" or "" to a Gender.
func ParseGender(s string) Gender {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M", "MALE":
		return GenderMale
	case "F", "FEMALE":
		return GenderFemale
	default:
		return GenderOther
	}
}

// Voice describes a speakable voice.
type Voice struct {
	ID     VoiceID
	Name   string
	Gender Gender
}

func (v Voice) String() string {
	return fmt.Sprintf("%s (%s, %s)", v.ID, v.Name, v.Gender)
}
