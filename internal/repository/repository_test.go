package repository

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/naturalspeech/naturalspeech/tts"
)

const testIndex = `[
  {"modelName":"libritts","onnxURL":"https://example.invalid/libritts.onnx","onnxMetadataURL":"https://example.invalid/libritts.onnx.json","metadataURL":"https://example.invalid/libritts.metadata.json","description":"Multi speaker","memorySize":"60MB"},
  {"modelName":"amy","onnxURL":"","onnxMetadataURL":"","metadataURL":"","description":"Single speaker","memorySize":"20MB"}
]`

func install(t *testing.T, dir, name, metadata string) {
	t.Helper()
	folder := filepath.Join(dir, name)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		name + ModelExtension:         "onnx",
		name + ModelMetadataExtension: "{}",
		name + MetadataExtension:      metadata,
	}
	for f, content := range files {
		if err := os.WriteFile(filepath.Join(folder, f), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, RepositoryFileName)
	if err := os.WriteFile(file, []byte(testIndex), 0o644); err != nil {
		t.Fatal(err)
	}

	repo, err := Open(file, dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	entries := repo.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].ModelName != "libritts" || entries[0].MemorySize != "60MB" {
		t.Errorf("Unexpected first entry %+v", entries[0])
	}
	if _, ok := repo.Find("amy"); !ok {
		t.Error("Find(amy) = false")
	}
	if _, ok := repo.Find("nobody"); ok {
		t.Error("Find(nobody) = true")
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "missing.json"), dir); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := Parse([]byte("{not json"), dir); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestIsLocal(t *testing.T) {
	dir := t.TempDir()
	repo, err := Parse([]byte(testIndex), dir)
	if err != nil {
		t.Fatal(err)
	}

	if repo.IsLocal("libritts") {
		t.Error("IsLocal before install = true")
	}

	install(t, dir, "libritts", "[]")
	if !repo.IsLocal("libritts") {
		t.Error("IsLocal after install = false")
	}

	_, _, metadata := repo.Paths("libritts")
	if err := os.Remove(metadata); err != nil {
		t.Fatal(err)
	}
	if repo.IsLocal("libritts") {
		t.Error("IsLocal with missing metadata = true")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	repo, err := Parse([]byte(testIndex), dir)
	if err != nil {
		t.Fatal(err)
	}
	install(t, dir, "libritts", `[
		{"name":"Alice","gender":"F","piperVoiceID":42},
		{"name":"Bob","gender":"M","piperVoiceID":7},
		{"name":"Sam","gender":"","piperVoiceID":0}
	]`)

	model, err := repo.Load("libritts")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []tts.Voice{
		{ID: tts.VoiceID{Model: "libritts", ID: "42"}, Name: "Alice", Gender: tts.GenderFemale},
		{ID: tts.VoiceID{Model: "libritts", ID: "7"}, Name: "Bob", Gender: tts.GenderMale},
		{ID: tts.VoiceID{Model: "libritts", ID: "0"}, Name: "Sam", Gender: tts.GenderOther},
	}
	if len(model.Voices) != len(want) {
		t.Fatalf("Expected %d voices, got %d", len(want), len(model.Voices))
	}
	for i := range want {
		if model.Voices[i] != want[i] {
			t.Errorf("voice %d = %+v, want %+v", i, model.Voices[i], want[i])
		}
	}
	if filepath.Base(model.ONNX) != "libritts.onnx" {
		t.Errorf("Unexpected onnx path %s", model.ONNX)
	}
	if got := model.String(); got != "PiperModel(libritts)" {
		t.Errorf("String() = %s", got)
	}
	if ids := model.VoiceIDs(); len(ids) != 3 || ids[0].String() != "libritts:42" {
		t.Errorf("VoiceIDs() = %v", ids)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	repo, err := Parse([]byte(testIndex), dir)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := repo.Load("nobody"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Expected ErrUnknownModel, got %v", err)
	}
	if _, err := repo.Load("amy"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Expected ErrNotInstalled, got %v", err)
	}

	install(t, dir, "amy", "not json")
	if _, err := repo.Load("amy"); err == nil {
		t.Error("Expected error for bad metadata")
	}
}

func TestLocalModels(t *testing.T) {
	dir := t.TempDir()
	repo, err := Parse([]byte(testIndex), dir)
	if err != nil {
		t.Fatal(err)
	}
	install(t, dir, "amy", `[{"name":"Amy","gender":"F","piperVoiceID":0}]`)
	install(t, dir, "libritts", "broken")

	models := repo.LocalModels()
	if len(models) != 1 || models[0].Name != "amy" {
		t.Errorf("LocalModels() = %v", models)
	}
}
