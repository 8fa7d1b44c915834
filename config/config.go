// Package config is the persisted settings store: a flat typed key-value
// document backed by a JSON file. Accessors fail on missing keys rather than
// silently defaulting; writes replace and persist the whole document.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrKeyNotFound = errors.New("config: key not found")
	ErrMalformed   = errors.New("config: malformed document")
)

// Store holds the settings document. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]any
}

// DefaultPath returns the OS-specific settings file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mimir", "settings.json"), nil
}

// Open loads the settings document at path. A missing file yields a store
// seeded with schema defaults (first run); an unreadable or unparsable file
// fails with ErrMalformed.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.values = Defaults()
			return s, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	values := make(map[string]any, len(raw))
	for k, v := range raw {
		f, ok := Lookup(k)
		if !ok {
			continue // unrecognized keys are dropped on next save
		}
		coerced, err := coerce(f, v)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMalformed, k, err)
		}
		values[k] = coerced
	}
	s.values = values
	return s, nil
}

// coerce converts a decoded JSON value to the schema kind. JSON numbers
// arrive as float64; integral floats are accepted for int fields.
func coerce(f Field, v any) (any, error) {
	switch f.Kind {
	case KindString:
		sv, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return sv, nil
	case KindBool:
		bv, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return bv, nil
	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected integer, got %v", n)
			}
			return int(n), nil
		}
		return nil, fmt.Errorf("expected integer, got %T", v)
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	return nil, fmt.Errorf("unknown kind %d", f.Kind)
}

func validate(f Field, v any) error {
	if f.MinMax {
		var n float64
		switch x := v.(type) {
		case int:
			n = float64(x)
		case float64:
			n = x
		}
		if n < f.Min || n > f.Max {
			return fmt.Errorf("config: %s out of range [%v, %v]: %v", f.Key, f.Min, f.Max, v)
		}
	}
	if len(f.Enum) > 0 {
		sv, _ := v.(string)
		for _, e := range f.Enum {
			if sv == e {
				return nil
			}
		}
		return fmt.Errorf("config: %s must be one of %v, got %q", f.Key, f.Enum, v)
	}
	return nil
}

func (s *Store) get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

func (s *Store) GetString(key string) (string, error) {
	v, err := s.get(key)
	if err != nil {
		return "", err
	}
	sv, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrMalformed, key)
	}
	return sv, nil
}

func (s *Store) GetInt(key string) (int, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not an int", ErrMalformed, key)
	}
	return n, nil
}

func (s *Store) GetFloat(key string) (float64, error) {
	v, err := s.get(key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a float", ErrMalformed, key)
	}
	return n, nil
}

func (s *Store) GetBool(key string) (bool, error) {
	v, err := s.get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is not a bool", ErrMalformed, key)
	}
	return b, nil
}

// Snapshot returns a copy of the current document.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Replace validates values against the schema, swaps the whole document and
// persists it. The in-memory document is only updated after a successful
// write, so a failed save leaves the previous settings in effect.
func (s *Store) Replace(values map[string]any) error {
	next := make(map[string]any, len(values))
	for k, v := range values {
		f, ok := Lookup(k)
		if !ok {
			return fmt.Errorf("config: unrecognized key %q", k)
		}
		coerced, err := coerce(f, v)
		if err != nil {
			return fmt.Errorf("config: key %q: %w", k, err)
		}
		if err := validate(f, coerced); err != nil {
			return err
		}
		next[k] = coerced
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := persist(s.path, next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Save persists the current document without modifying it.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return persist(s.path, s.values)
}

// persist writes the document atomically: temp file in the same directory,
// then rename over the target.
func persist(path string, values map[string]any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}
