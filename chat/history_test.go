package chat

import (
	"fmt"
	"testing"
)

func TestHistoryBoundAndOrder(t *testing.T) {
	const bound = 3
	h := NewHistory(bound)

	for i := 1; i <= 10; i++ {
		h.Append(Turn{User: fmt.Sprintf("u%d", i), Assistant: fmt.Sprintf("a%d", i)})
		if h.Len() > bound {
			t.Fatalf("after append %d: len = %d exceeds bound %d", i, h.Len(), bound)
		}
	}

	got := h.Snapshot()
	if len(got) != bound {
		t.Fatalf("snapshot len = %d, want %d", len(got), bound)
	}
	// The retained entries are exactly the bound most recent, oldest first.
	for i, turn := range got {
		want := fmt.Sprintf("u%d", 10-bound+1+i)
		if turn.User != want {
			t.Fatalf("snapshot[%d].User = %q, want %q", i, turn.User, want)
		}
	}
}

func TestHistorySnapshotIsACopy(t *testing.T) {
	h := NewHistory(4)
	h.Append(Turn{User: "hi", Assistant: "hello"})
	snap := h.Snapshot()
	snap[0].Assistant = "mutated"
	if h.Snapshot()[0].Assistant != "hello" {
		t.Fatal("snapshot aliases internal storage")
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(4)
	h.Append(Turn{User: "a", Assistant: "b"})
	h.Append(Turn{User: "c", Assistant: "d"})
	h.Clear()
	if h.Len() != 0 {
		t.Fatalf("len after clear = %d", h.Len())
	}
	h.Append(Turn{User: "e", Assistant: "f"})
	if got := h.Snapshot(); len(got) != 1 || got[0].User != "e" {
		t.Fatalf("unexpected snapshot after clear+append: %v", got)
	}
}

func TestHistorySetBoundShrinksToNewest(t *testing.T) {
	h := NewHistory(5)
	for i := 1; i <= 5; i++ {
		h.Append(Turn{User: fmt.Sprintf("u%d", i)})
	}
	h.SetBound(2)
	got := h.Snapshot()
	if len(got) != 2 || got[0].User != "u4" || got[1].User != "u5" {
		t.Fatalf("after shrink: %v", got)
	}
	// Growing keeps existing turns and allows more.
	h.SetBound(4)
	h.Append(Turn{User: "u6"})
	h.Append(Turn{User: "u7"})
	got = h.Snapshot()
	want := []string{"u4", "u5", "u6", "u7"}
	for i, w := range want {
		if got[i].User != w {
			t.Fatalf("after grow: %v", got)
		}
	}
}

func TestHistoryMinimumBound(t *testing.T) {
	h := NewHistory(0)
	h.Append(Turn{User: "a"})
	h.Append(Turn{User: "b"})
	got := h.Snapshot()
	if len(got) != 1 || got[0].User != "b" {
		t.Fatalf("bound floor: %v", got)
	}
}
