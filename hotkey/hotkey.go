// Package hotkey delivers global keyboard shortcuts as press and release
// events. Two shortcuts are registered at startup: one opens the assistant
// window, the other drives push-to-talk recording.
package hotkey

import (
	"fmt"
	"strings"
)

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Spec is a parsed shortcut like "ctrl+shift+space". Key is a lowercase
// letter, digit or "space".
type Spec struct {
	Ctrl  bool
	Shift bool
	Alt   bool
	Key   string
}

func (s Spec) String() string {
	var parts []string
	if s.Ctrl {
		parts = append(parts, "ctrl")
	}
	if s.Shift {
		parts = append(parts, "shift")
	}
	if s.Alt {
		parts = append(parts, "alt")
	}
	parts = append(parts, s.Key)
	return strings.Join(parts, "+")
}

func validKey(k string) bool {
	if k == "space" {
		return true
	}
	if len(k) != 1 {
		return false
	}
	c := k[0]
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// Parse reads a "+"-separated shortcut. At least one modifier is required so
// a bare key can never be captured globally.
func Parse(raw string) (Spec, error) {
	var spec Spec
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), "+")
	if len(parts) < 2 {
		return Spec{}, fmt.Errorf("hotkey %q needs at least one modifier", raw)
	}

	for _, mod := range parts[:len(parts)-1] {
		switch strings.TrimSpace(mod) {
		case "ctrl", "control":
			spec.Ctrl = true
		case "shift":
			spec.Shift = true
		case "alt":
			spec.Alt = true
		default:
			return Spec{}, fmt.Errorf("hotkey %q: unknown modifier %q", raw, mod)
		}
	}

	spec.Key = strings.TrimSpace(parts[len(parts)-1])
	if !validKey(spec.Key) {
		return Spec{}, fmt.Errorf("hotkey %q: unsupported key %q", raw, spec.Key)
	}
	return spec, nil
}
