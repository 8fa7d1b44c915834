package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mimir/audio"
	"mimir/config"
	"mimir/dispatch"
	"mimir/model"
)

type fakeSTT struct {
	text string
	err  error

	mu       sync.Mutex
	paths    []string
	sawFiles []bool
}

func (f *fakeSTT) TranscribeFile(_ context.Context, wavPath string) (string, error) {
	_, statErr := os.Stat(wavPath)
	f.mu.Lock()
	f.paths = append(f.paths, wavPath)
	f.sawFiles = append(f.sawFiles, statErr == nil)
	f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeSTT) Close() error { return nil }

func (f *fakeSTT) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

type recorder struct {
	states   []State
	texts    []string
	statuses []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		State:  func(s State) { r.states = append(r.states, s) },
		Text:   func(t string) { r.texts = append(r.texts, t) },
		Status: func(s string) { r.statuses = append(r.statuses, s) },
	}
}

func newTestMachine(t *testing.T, ctx audio.Context, stt *fakeSTT) (*Machine, *recorder, *dispatch.Queue) {
	t.Helper()
	cfg, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("opening config: %v", err)
	}
	mgr := model.NewWithLoaders(cfg,
		func(*config.Store) (model.LanguageModel, error) {
			return nil, errors.New("language model must not load during capture")
		},
		func(*config.Store) (model.TranscriptionModel, error) {
			return stt, nil
		},
	)
	rec := &recorder{}
	queue := dispatch.New()
	return New(ctx, mgr, cfg, queue, rec.callbacks()), rec, queue
}

func waitIdle(t *testing.T, m *Machine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == Idle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("machine stuck in %v", m.State())
}

// onePCMSecond is a second of 16 kHz mono audio, comfortably above the
// too-short floor.
func onePCMSecond() []byte {
	return make([]byte, 16000*2)
}

func TestPressReleaseProducesText(t *testing.T) {
	stt := &fakeSTT{text: "  hello from the microphone  "}
	m, rec, queue := newTestMachine(t, audio.NewFakeContext(onePCMSecond()), stt)

	m.Press()
	if got := m.State(); got != Recording {
		t.Fatalf("state after press = %v, want Recording", got)
	}
	m.Release()
	waitIdle(t, m)
	queue.Drain()

	if len(rec.texts) != 1 || rec.texts[0] != "hello from the microphone" {
		t.Fatalf("texts = %q, want one trimmed transcription", rec.texts)
	}
	want := []State{Recording, Transcribing, Idle}
	if len(rec.states) != len(want) {
		t.Fatalf("states = %v, want %v", rec.states, want)
	}
	for i, s := range want {
		if rec.states[i] != s {
			t.Fatalf("states = %v, want %v", rec.states, want)
		}
	}
}

func TestRepeatedPressKeepsSingleSession(t *testing.T) {
	stt := &fakeSTT{text: "once"}
	ctx := audio.NewFakeContext(onePCMSecond())
	m, rec, queue := newTestMachine(t, ctx, stt)

	m.Press()
	m.Press() // key auto-repeat
	m.Press()
	if got := ctx.LastCapture().StartCount(); got != 1 {
		t.Fatalf("stream opened %d times, want 1", got)
	}

	m.Release()
	waitIdle(t, m)
	queue.Drain()

	if len(stt.calls()) != 1 {
		t.Fatalf("transcription ran %d times, want 1", len(stt.calls()))
	}
	if len(rec.texts) != 1 {
		t.Fatalf("texts = %q, want exactly one", rec.texts)
	}
}

func TestReleaseWhileIdleIgnored(t *testing.T) {
	stt := &fakeSTT{}
	m, rec, queue := newTestMachine(t, audio.NewFakeContext(nil), stt)

	m.Release()
	queue.Drain()

	if len(rec.states)+len(rec.texts)+len(rec.statuses) != 0 {
		t.Fatalf("release while idle produced output: %v %v %v", rec.states, rec.texts, rec.statuses)
	}
	if len(stt.calls()) != 0 {
		t.Fatal("transcription ran without a recording")
	}
}

func TestShortTapSkipsTranscription(t *testing.T) {
	stt := &fakeSTT{text: "never"}
	// 50 ms of audio, below the tenth-of-a-second floor.
	m, rec, queue := newTestMachine(t, audio.NewFakeContext(make([]byte, 800*2)), stt)

	m.Press()
	m.Release()
	waitIdle(t, m)
	queue.Drain()

	if len(stt.calls()) != 0 {
		t.Fatal("transcription ran for a too-short capture")
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != "No audio captured" {
		t.Fatalf("statuses = %q, want the too-short notice", rec.statuses)
	}
	if len(rec.texts) != 0 {
		t.Fatalf("texts = %q, want none", rec.texts)
	}
}

func TestStreamStartFailureStaysIdle(t *testing.T) {
	stt := &fakeSTT{}
	ctx := audio.NewFakeContext(onePCMSecond())
	ctx.StartErr = errors.New("device busy")
	m, rec, queue := newTestMachine(t, ctx, stt)

	m.Press()
	queue.Drain()

	if got := m.State(); got != Idle {
		t.Fatalf("state after failed start = %v, want Idle", got)
	}
	if len(rec.statuses) != 1 {
		t.Fatalf("statuses = %q, want one failure notice", rec.statuses)
	}
	// A later press works once the device recovers.
	ctx.StartErr = nil
	m.Press()
	if got := m.State(); got != Recording {
		t.Fatalf("state after recovered press = %v, want Recording", got)
	}
	m.Release()
	waitIdle(t, m)
}

func TestArtifactRemovedAfterTranscription(t *testing.T) {
	stt := &fakeSTT{text: "kept nothing behind"}
	m, _, queue := newTestMachine(t, audio.NewFakeContext(onePCMSecond()), stt)

	m.Press()
	m.Release()
	waitIdle(t, m)
	queue.Drain()

	calls := stt.calls()
	if len(calls) != 1 {
		t.Fatalf("transcription ran %d times, want 1", len(calls))
	}
	if !stt.sawFiles[0] {
		t.Fatal("WAV artifact missing while transcription ran")
	}
	if _, err := os.Stat(calls[0]); !os.IsNotExist(err) {
		t.Fatalf("artifact %s still present after transcription", calls[0])
	}
}

func TestArtifactRemovedAfterFailure(t *testing.T) {
	stt := &fakeSTT{err: errors.New("model exploded")}
	m, rec, queue := newTestMachine(t, audio.NewFakeContext(onePCMSecond()), stt)

	m.Press()
	m.Release()
	waitIdle(t, m)
	queue.Drain()

	calls := stt.calls()
	if len(calls) != 1 {
		t.Fatalf("transcription ran %d times, want 1", len(calls))
	}
	if _, err := os.Stat(calls[0]); !os.IsNotExist(err) {
		t.Fatalf("artifact %s still present after failed transcription", calls[0])
	}
	if len(rec.statuses) != 1 {
		t.Fatalf("statuses = %q, want one failure notice", rec.statuses)
	}
	if len(rec.texts) != 0 {
		t.Fatalf("texts = %q, want none after failure", rec.texts)
	}
}

func TestModelLoadFailureReadableStatus(t *testing.T) {
	cfg, err := config.Open(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("opening config: %v", err)
	}
	mgr := model.NewWithLoaders(cfg,
		func(*config.Store) (model.LanguageModel, error) { return nil, errors.New("unused") },
		func(*config.Store) (model.TranscriptionModel, error) {
			return nil, errors.New("model file missing")
		},
	)
	rec := &recorder{}
	queue := dispatch.New()
	m := New(audio.NewFakeContext(onePCMSecond()), mgr, cfg, queue, rec.callbacks())

	m.Press()
	m.Release()
	waitIdle(t, m)
	queue.Drain()

	if len(rec.statuses) != 1 {
		t.Fatalf("statuses = %q, want one", rec.statuses)
	}
	want := "Could not load the transcription model: model file missing"
	if rec.statuses[0] != want {
		t.Fatalf("status = %q, want %q", rec.statuses[0], want)
	}
}
