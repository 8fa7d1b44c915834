// Package chat composes prompts from conversation history and drives the
// generation pipeline.
package chat

import "sync"

// Turn is one completed (user, assistant) exchange. Immutable once appended.
type Turn struct {
	User      string
	Assistant string
}

// History is a bounded ring of turns. The oldest turn is evicted first once
// the retention bound is exceeded. Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	turns []Turn
	head  int // index of the oldest turn
	count int
	bound int
}

// NewHistory returns a history retaining at most bound turns. A bound below
// one is treated as one.
func NewHistory(bound int) *History {
	if bound < 1 {
		bound = 1
	}
	return &History{turns: make([]Turn, bound), bound: bound}
}

// Append records a completed turn, evicting the oldest when full.
func (h *History) Append(t Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < h.bound {
		h.turns[(h.head+h.count)%h.bound] = t
		h.count++
		return
	}
	h.turns[h.head] = t
	h.head = (h.head + 1) % h.bound
}

// Snapshot returns the retained turns in chronological order.
func (h *History) Snapshot() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.turns[(h.head+i)%h.bound]
	}
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Clear drops all turns. Used by "new chat" and window-hide.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.count = 0
}

// SetBound changes the retention bound, discarding oldest turns as needed.
// Called after a settings save.
func (h *History) SetBound(bound int) {
	if bound < 1 {
		bound = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if bound == h.bound {
		return
	}
	keep := h.count
	if keep > bound {
		keep = bound
	}
	next := make([]Turn, bound)
	// Keep the newest `keep` turns.
	for i := 0; i < keep; i++ {
		next[keep-1-i] = h.turns[(h.head+h.count-1-i+h.bound)%h.bound]
	}
	h.turns = next
	h.head = 0
	h.count = keep
	h.bound = bound
}
