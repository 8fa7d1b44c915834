package whisper

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadSidecarParsesAndRemoves(t *testing.T) {
	wavPath := filepath.Join(t.TempDir(), "clip.wav")
	sidecar := wavPath + ".json"
	payload := `{"transcription":[{"text":" Hello"},{"text":" there."}]}`
	if err := os.WriteFile(sidecar, []byte(payload), 0644); err != nil {
		t.Fatal(err)
	}

	text, ok := readSidecar(wavPath)
	if !ok {
		t.Fatal("sidecar was not read")
	}
	if text != "Hello there." {
		t.Errorf("text = %q", text)
	}
	if _, err := os.Stat(sidecar); !os.IsNotExist(err) {
		t.Error("sidecar file was left behind")
	}
}

func TestReadSidecarMissing(t *testing.T) {
	wavPath := filepath.Join(t.TempDir(), "clip.wav")
	if _, ok := readSidecar(wavPath); ok {
		t.Fatal("expected no sidecar")
	}
}

func TestReadSidecarGarbageRemoved(t *testing.T) {
	wavPath := filepath.Join(t.TempDir(), "clip.wav")
	sidecar := wavPath + ".json"
	if err := os.WriteFile(sidecar, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, ok := readSidecar(wavPath); ok {
		t.Fatal("garbage sidecar parsed")
	}
	if _, err := os.Stat(sidecar); !os.IsNotExist(err) {
		t.Error("garbage sidecar was left behind")
	}
}

func TestModelFile(t *testing.T) {
	cases := map[string]string{
		"tiny":  "ggml-tiny.bin",
		"base":  "ggml-base.bin",
		"large": "ggml-large-v3.bin",
	}
	for size, want := range cases {
		if got := ModelFile(size); got != want {
			t.Errorf("ModelFile(%q) = %q, want %q", size, got, want)
		}
	}
}

func TestLoadRejectsUnknownSize(t *testing.T) {
	if _, err := Load(Params{Size: "huge"}); err == nil {
		t.Fatal("expected error for unknown size")
	}
}
