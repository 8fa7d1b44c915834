package model

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mimir/config"
	"mimir/llama"
)

type fakeLLM struct {
	id     int
	closed atomic.Bool
}

func (f *fakeLLM) Complete(context.Context, string, llama.GenOptions) (string, error) {
	return "ok", nil
}
func (f *fakeLLM) Close() error { f.closed.Store(true); return nil }

type fakeSTT struct{ closed atomic.Bool }

func (f *fakeSTT) TranscribeFile(context.Context, string) (string, error) { return "hi", nil }
func (f *fakeSTT) Close() error                                           { f.closed.Store(true); return nil }

func testStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConcurrentAcquireLoadsOnce(t *testing.T) {
	cfg := testStore(t)
	var loads atomic.Int32
	gate := make(chan struct{})
	mgr := NewWithLoaders(cfg, func(*config.Store) (LanguageModel, error) {
		<-gate // hold the load until all acquirers are racing
		return &fakeLLM{id: int(loads.Add(1))}, nil
	}, nil)

	const callers = 16
	handles := make([]LanguageModel, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := mgr.AcquireLanguageModel()
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	time.Sleep(20 * time.Millisecond) // let every goroutine reach the slot
	close(gate)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Fatalf("expected exactly one load, got %d", n)
	}
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestLoadFailureCoalescesAndRetries(t *testing.T) {
	cfg := testStore(t)
	var loads atomic.Int32
	mgr := NewWithLoaders(cfg, func(*config.Store) (LanguageModel, error) {
		if loads.Add(1) == 1 {
			return nil, errors.New("model file vanished")
		}
		return &fakeLLM{}, nil
	}, nil)

	_, err := mgr.AcquireLanguageModel()
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if le.Kind != "language" {
		t.Errorf("LoadError kind = %q", le.Kind)
	}

	// A failed load leaves the handle unloaded; the next acquire retries.
	if _, err := mgr.AcquireLanguageModel(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if loads.Load() != 2 {
		t.Fatalf("expected 2 load attempts, got %d", loads.Load())
	}
}

func TestReleaseIfNotStickyDropsHandle(t *testing.T) {
	cfg := testStore(t)
	var loads atomic.Int32
	mgr := NewWithLoaders(cfg, func(*config.Store) (LanguageModel, error) {
		loads.Add(1)
		return &fakeLLM{}, nil
	}, nil)

	h1, err := mgr.AcquireLanguageModel()
	if err != nil {
		t.Fatal(err)
	}
	mgr.ReleaseIfNotSticky() // keep_model_loaded defaults to false

	if !h1.(*fakeLLM).closed.Load() {
		t.Fatal("released handle was not closed")
	}
	if _, err := mgr.AcquireLanguageModel(); err != nil {
		t.Fatal(err)
	}
	if loads.Load() != 2 {
		t.Fatalf("expected reload after release, loads = %d", loads.Load())
	}
}

func TestStickyHandleSurvivesRelease(t *testing.T) {
	cfg := testStore(t)
	doc := config.Defaults()
	doc[config.KeyKeepModelLoaded] = true
	if err := cfg.Replace(doc); err != nil {
		t.Fatal(err)
	}

	var loads atomic.Int32
	mgr := NewWithLoaders(cfg, func(*config.Store) (LanguageModel, error) {
		loads.Add(1)
		return &fakeLLM{}, nil
	}, nil)

	h1, _ := mgr.AcquireLanguageModel()
	mgr.ReleaseIfNotSticky()
	h2, _ := mgr.AcquireLanguageModel()

	if h1 != h2 {
		t.Fatal("sticky handle was dropped by release")
	}
	if loads.Load() != 1 {
		t.Fatalf("expected single load under sticky mode, got %d", loads.Load())
	}
}

func TestInvalidateForcesConfigReread(t *testing.T) {
	cfg := testStore(t)
	doc := config.Defaults()
	doc[config.KeyModelPath] = "/models/old.gguf"
	doc[config.KeyKeepModelLoaded] = true
	if err := cfg.Replace(doc); err != nil {
		t.Fatal(err)
	}

	var seenPaths []string
	mgr := NewWithLoaders(cfg, func(c *config.Store) (LanguageModel, error) {
		p, err := c.GetString(config.KeyModelPath)
		if err != nil {
			return nil, err
		}
		seenPaths = append(seenPaths, p)
		return &fakeLLM{}, nil
	}, nil)

	if _, err := mgr.AcquireLanguageModel(); err != nil {
		t.Fatal(err)
	}

	doc[config.KeyModelPath] = "/models/new.gguf"
	if err := cfg.Replace(doc); err != nil {
		t.Fatal(err)
	}
	mgr.InvalidateAll()

	if _, err := mgr.AcquireLanguageModel(); err != nil {
		t.Fatal(err)
	}
	if len(seenPaths) != 2 || seenPaths[1] != "/models/new.gguf" {
		t.Fatalf("expected reload with new path, saw %v", seenPaths)
	}
}

func TestInvalidateDiscardsInFlightLoad(t *testing.T) {
	cfg := testStore(t)
	doc := config.Defaults()
	doc[config.KeyModelPath] = "/models/old.gguf"
	doc[config.KeyKeepModelLoaded] = true
	if err := cfg.Replace(doc); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var created []*fakeLLM
	var seenPaths []string
	started := make(chan struct{})
	gate := make(chan struct{})
	mgr := NewWithLoaders(cfg, func(c *config.Store) (LanguageModel, error) {
		p, err := c.GetString(config.KeyModelPath)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		seenPaths = append(seenPaths, p)
		h := &fakeLLM{id: len(seenPaths)}
		created = append(created, h)
		first := len(seenPaths) == 1
		mu.Unlock()
		if first {
			close(started) // hold the first load until the settings save lands
			<-gate
		}
		return h, nil
	}, nil)

	warm := make(chan LanguageModel, 1)
	go func() {
		h, err := mgr.AcquireLanguageModel()
		if err != nil {
			t.Errorf("in-flight acquire: %v", err)
		}
		warm <- h
	}()
	<-started

	doc[config.KeyModelPath] = "/models/new.gguf"
	if err := cfg.Replace(doc); err != nil {
		t.Fatal(err)
	}
	mgr.InvalidateAll()
	close(gate)

	h1 := <-warm
	h2, err := mgr.AcquireLanguageModel()
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seenPaths) != 2 || seenPaths[1] != "/models/new.gguf" {
		t.Fatalf("expected reload with the saved path, saw %v", seenPaths)
	}
	if !created[0].closed.Load() {
		t.Fatal("handle built from pre-save settings was published instead of closed")
	}
	if h1 != created[1] || h2 != created[1] {
		t.Fatal("acquire returned a handle other than the post-save load")
	}
}

func TestTranscriptionModelIndependentOfLanguageModel(t *testing.T) {
	cfg := testStore(t)
	var llmLoads, sttLoads atomic.Int32
	mgr := NewWithLoaders(cfg,
		func(*config.Store) (LanguageModel, error) { llmLoads.Add(1); return &fakeLLM{}, nil },
		func(*config.Store) (TranscriptionModel, error) { sttLoads.Add(1); return &fakeSTT{}, nil },
	)

	if _, err := mgr.AcquireTranscriptionModel(); err != nil {
		t.Fatal(err)
	}
	if llmLoads.Load() != 0 {
		t.Fatal("acquiring transcription model constructed the language model")
	}
	if _, err := mgr.AcquireTranscriptionModel(); err != nil {
		t.Fatal(err)
	}
	if sttLoads.Load() != 1 {
		t.Fatalf("expected cached transcription handle, loads = %d", sttLoads.Load())
	}
}
