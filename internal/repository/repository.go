// Package repository reads the piper model repository index and the models
// installed next to it.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/naturalspeech/naturalspeech/tts"
)

// File name conventions of an installed model.
const (
	ModelExtension         = ".onnx"
	ModelMetadataExtension = ".onnx.json"
	MetadataExtension      = ".metadata.json"
	RepositoryFileName     = "model_repository.json"
)

var (
	// ErrUnknownModel is returned for a model missing from the index.
	ErrUnknownModel = errors.New("model not in repository")

	// ErrNotInstalled is returned when a model's files are missing.
	ErrNotInstalled = errors.New("model not installed")
)

// Entry is one model listed in model_repository.json.
type Entry struct {
	ModelName       string `json:"modelName" yaml:"modelName"`
	ONNXURL         string `json:"onnxURL" yaml:"onnxURL"`
	ONNXMetadataURL string `json:"onnxMetadataURL" yaml:"onnxMetadataURL"`
	MetadataURL     string `json:"metadataURL" yaml:"metadataURL"`
	Description     string `json:"description" yaml:"description"`
	MemorySize      string `json:"memorySize" yaml:"memorySize"`
}

// VoiceMetadata is one speaker in a model's .metadata.json.
type VoiceMetadata struct {
	Name         string `json:"name"`
	Gender       string `json:"gender"`
	PiperVoiceID int    `json:"piperVoiceID"`
}

// Model is an installed model ready to be started.
type Model struct {
	Name         string
	ONNX         string
	ONNXMetadata string
	Voices       []tts.Voice
}

func (m Model) String() string {
	return fmt.Sprintf("PiperModel(%s)", m.Name)
}

// VoiceIDs returns the ids of the model's voices.
func (m Model) VoiceIDs() []tts.VoiceID {
	ids := make([]tts.VoiceID, len(m.Voices))
	for i, v := range m.Voices {
		ids[i] = v.ID
	}
	return ids
}

// Repository is the parsed index plus the directory models are installed in.
type Repository struct {
	dir     string
	entries []Entry
	logger  *log.Logger
}

// Open parses the index at file. Installed models are looked up in dir.
func Open(file, dir string) (*Repository, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read model repository: %w", err)
	}
	return Parse(data, dir)
}

// Parse builds a repository from index JSON.
func Parse(data []byte, dir string) (*Repository, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse model repository: %w", err)
	}

	r := &Repository{
		dir:     dir,
		entries: entries,
		logger:  log.Default().WithPrefix("repository"),
	}
	r.logger.Debug("Loaded model repository", "models", len(entries), "dir", dir)
	return r, nil
}

// Dir returns the directory models are installed in.
func (r *Repository) Dir() string {
	return r.dir
}

// Entries returns every indexed model in index order.
func (r *Repository) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Find returns the entry named name.
func (r *Repository) Find(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.ModelName == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Paths returns the three files of model name.
func (r *Repository) Paths(name string) (onnx, onnxMetadata, metadata string) {
	folder := filepath.Join(r.dir, name)
	return filepath.Join(folder, name+ModelExtension),
		filepath.Join(folder, name+ModelMetadataExtension),
		filepath.Join(folder, name+MetadataExtension)
}

// IsLocal reports whether all files of model name are installed.
func (r *Repository) IsLocal(name string) bool {
	onnx, onnxMetadata, metadata := r.Paths(name)
	for _, p := range []string{onnx, onnxMetadata, metadata} {
		if fi, err := os.Stat(p); err != nil || fi.IsDir() {
			return false
		}
	}
	return true
}

// Load reads the installed model name.
func (r *Repository) Load(name string) (Model, error) {
	if _, ok := r.Find(name); !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if !r.IsLocal(name) {
		return Model{}, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	onnx, onnxMetadata, metadata := r.Paths(name)
	data, err := os.ReadFile(metadata)
	if err != nil {
		return Model{}, fmt.Errorf("read voice metadata: %w", err)
	}
	var speakers []VoiceMetadata
	if err := json.Unmarshal(data, &speakers); err != nil {
		return Model{}, fmt.Errorf("parse voice metadata %s: %w", metadata, err)
	}

	voices := make([]tts.Voice, 0, len(speakers))
	for _, s := range speakers {
		voices = append(voices, tts.Voice{
			ID:     tts.VoiceID{Model: name, ID: strconv.Itoa(s.PiperVoiceID)},
			Name:   s.Name,
			Gender: tts.ParseGender(s.Gender),
		})
	}

	return Model{
		Name:         name,
		ONNX:         onnx,
		ONNXMetadata: onnxMetadata,
		Voices:       voices,
	}, nil
}

// LocalModels loads every installed model in index order. Models that fail
// to load are logged and skipped.
func (r *Repository) LocalModels() []Model {
	var out []Model
	for _, e := range r.entries {
		if !r.IsLocal(e.ModelName) {
			continue
		}
		m, err := r.Load(e.ModelName)
		if err != nil {
			r.logger.Error("Failed to load local model", "model", e.ModelName, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out
}
