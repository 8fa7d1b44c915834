// Package whisper runs a local whisper.cpp install for speech transcription.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Sizes is the fixed set of model presets, smallest first.
var Sizes = []string{"tiny", "base", "small", "medium", "large"}

// Params fix the transcription-model construction parameters.
type Params struct {
	Size     string // one of Sizes
	ModelDir string // empty resolves to the default cache location
}

// Model is a loaded transcription-model handle.
type Model struct {
	binPath   string
	modelPath string
}

// DefaultModelDir returns where ggml model files are looked up.
func DefaultModelDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mimir", "models"), nil
}

// ModelFile returns the expected ggml file name for a size preset.
func ModelFile(size string) string {
	if size == "large" {
		return "ggml-large-v3.bin"
	}
	return fmt.Sprintf("ggml-%s.bin", size)
}

func validSize(size string) bool {
	for _, s := range Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// Load verifies the whisper.cpp binary and the model file for the requested
// size and returns a handle.
func Load(p Params) (*Model, error) {
	if !validSize(p.Size) {
		return nil, fmt.Errorf("invalid transcription model size %q", p.Size)
	}
	dir := p.ModelDir
	if dir == "" {
		var err error
		dir, err = DefaultModelDir()
		if err != nil {
			return nil, fmt.Errorf("resolve model dir: %w", err)
		}
	}
	modelPath := filepath.Join(dir, ModelFile(p.Size))
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("transcription model file: %w (download ggml-%s to %s)", err, p.Size, dir)
	}
	bin := findBinary()
	if bin == "" {
		return nil, fmt.Errorf("whisper.cpp binary not found in PATH (install whisper.cpp, e.g. brew install whisper-cpp)")
	}
	return &Model{binPath: bin, modelPath: modelPath}, nil
}

// TranscribeFile transcribes a 16-bit PCM WAV file and returns the text.
// An empty string means no speech was recognized.
func (m *Model) TranscribeFile(ctx context.Context, wavPath string) (string, error) {
	args := []string{
		"-m", m.modelPath,
		"-f", wavPath,
		"-oj",
		"--no-prints",
	}
	cmd := exec.CommandContext(ctx, m.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper-cli: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if text, ok := readSidecar(wavPath); ok {
		return text, nil
	}
	// Older builds print plain text instead of writing the JSON sidecar.
	return strings.TrimSpace(stdout.String()), nil
}

// readSidecar parses the JSON file whisper.cpp -oj writes next to the input
// and removes it, so nothing outlives the capture artifact.
func readSidecar(wavPath string) (string, bool) {
	sidecar := wavPath + ".json"
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return "", false
	}
	os.Remove(sidecar)

	var out cliOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return "", false
	}
	var sb strings.Builder
	for _, seg := range out.Transcription {
		sb.WriteString(seg.Text)
	}
	return strings.TrimSpace(sb.String()), true
}

// Close releases the handle.
func (m *Model) Close() error { return nil }

type cliOutput struct {
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

func findBinary() string {
	names := []string{"whisper-cli", "whisper-cpp", "whisper", "main"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	home, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "whisper.cpp"),
	}
	for _, loc := range locations {
		for _, name := range names {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
