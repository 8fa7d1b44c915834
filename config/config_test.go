package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenMissingFileSeedsDefaults(t *testing.T) {
	s := tempStore(t)
	sp, err := s.GetString(KeySystemPrompt)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if sp == "" {
		t.Fatal("expected non-empty default system prompt")
	}
	n, err := s.GetInt(KeyHistoryLimit)
	if err != nil || n <= 0 {
		t.Fatalf("GetInt history_limit = %d, %v", n, err)
	}
}

func TestOpenMalformedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestMissingKeyFailsAccessor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	// Document that lacks the model_path key entirely.
	if err := os.WriteFile(path, []byte(`{"max_tokens": 128}`), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.GetString(KeyModelPath); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if n, err := s.GetInt(KeyMaxTokens); err != nil || n != 128 {
		t.Fatalf("max_tokens = %d, %v", n, err)
	}
}

func TestRoundTripPreservesTypesAndValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	doc := Defaults()
	doc[KeyModelPath] = "/models/llama-3.gguf"
	doc[KeyThreads] = 8
	doc[KeyTemperature] = 0.35
	doc[KeyF16KV] = false
	doc[KeyWhisperModel] = "small"
	if err := s.Replace(doc); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, f := range Schema {
		got, ok := reloaded.Snapshot()[f.Key]
		if !ok {
			t.Fatalf("key %s missing after reload", f.Key)
		}
		want := doc[f.Key]
		if got != want {
			t.Errorf("key %s: got %v (%T), want %v (%T)", f.Key, got, got, want, want)
		}
	}
}

func TestReplaceRejectsBadValues(t *testing.T) {
	s := tempStore(t)
	cases := []struct {
		name string
		key  string
		val  any
	}{
		{"unknown key", "no_such_key", 1},
		{"enum violation", KeyWhisperModel, "enormous"},
		{"range violation", KeyTemperature, 5.0},
		{"type violation", KeyMaxTokens, "many"},
		{"fractional int", KeyThreads, 1.5},
	}
	for _, tc := range cases {
		doc := Defaults()
		doc[tc.key] = tc.val
		if err := s.Replace(doc); err == nil {
			t.Errorf("%s: Replace accepted %v for %s", tc.name, tc.val, tc.key)
		}
	}
}

func TestFailedSaveKeepsOldDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Replace(Defaults()); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	before, _ := s.GetInt(KeyMaxTokens)

	// Make the directory unwritable so persist fails.
	if err := os.Chmod(filepath.Join(dir, "sub"), 0555); err != nil {
		t.Skip("cannot chmod")
	}
	defer os.Chmod(filepath.Join(dir, "sub"), 0755)

	doc := Defaults()
	doc[KeyMaxTokens] = 99
	if err := s.Replace(doc); err == nil {
		t.Skip("persist unexpectedly succeeded (running as root?)")
	}
	after, _ := s.GetInt(KeyMaxTokens)
	if after != before {
		t.Fatalf("document mutated after failed save: %d -> %d", before, after)
	}
}

func TestSchemaCoversDefaults(t *testing.T) {
	d := Defaults()
	if len(d) != len(Schema) {
		t.Fatalf("defaults has %d keys, schema has %d", len(d), len(Schema))
	}
	for _, f := range Schema {
		if _, err := coerce(f, f.Default); err != nil {
			t.Errorf("default for %s does not match its kind: %v", f.Key, err)
		}
	}
}
