// Package llama runs a local llama.cpp install against a GGUF model file.
package llama

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Params fix the model construction parameters. They are snapshotted at load
// time; changing settings requires a reload.
type Params struct {
	ModelPath     string
	ContextLength int
	Threads       int // 0 resolves to the logical core count
	BatchSize     int
	UBatchSize    int
	F16KV         bool
}

// GenOptions are the per-request sampling parameters.
type GenOptions struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Model is a loaded language-model handle.
type Model struct {
	binPath string
	params  Params
}

// Load verifies the model file and llama.cpp binary and returns a handle.
func Load(p Params) (*Model, error) {
	if p.ModelPath == "" {
		return nil, fmt.Errorf("no model file configured")
	}
	if _, err := os.Stat(p.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	bin := findBinary()
	if bin == "" {
		return nil, fmt.Errorf("llama.cpp binary not found in PATH (install llama.cpp, e.g. brew install llama.cpp)")
	}
	if p.Threads <= 0 {
		p.Threads = runtime.NumCPU()
	}
	return &Model{binPath: bin, params: p}, nil
}

// Complete runs one generation over the flattened prompt and returns the raw
// model output.
func (m *Model) Complete(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	kvType := "f16"
	if !m.params.F16KV {
		kvType = "f32"
	}
	args := []string{
		"-m", m.params.ModelPath,
		"-c", strconv.Itoa(m.params.ContextLength),
		"-t", strconv.Itoa(m.params.Threads),
		"-b", strconv.Itoa(m.params.BatchSize),
		"-ub", strconv.Itoa(m.params.UBatchSize),
		"-ctk", kvType,
		"-ctv", kvType,
		"-n", strconv.Itoa(opts.MaxTokens),
		"--temp", strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"--top-p", strconv.FormatFloat(opts.TopP, 'f', -1, 64),
		"--no-display-prompt",
		"-no-cnv",
		"-p", prompt,
	}

	cmd := exec.CommandContext(ctx, m.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("llama-cli: %w: %s", err, firstLine(stderr.String()))
	}
	return stdout.String(), nil
}

// Close releases the handle. The child process per request holds the heavy
// state, so there is nothing to unload here.
func (m *Model) Close() error { return nil }

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func findBinary() string {
	names := []string{"llama-cli", "llama", "main"}
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
		filepath.Join(home, "llama.cpp"),
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
