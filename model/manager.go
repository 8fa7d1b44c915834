// Package model owns the two heavyweight native model handles: the language
// model and the speech-transcription model. At most one handle of each kind
// exists process-wide; all loading, release and invalidation goes through the
// Manager.
package model

import (
	"context"
	"fmt"
	"sync"

	"mimir/config"
	"mimir/llama"
	"mimir/log"
	"mimir/whisper"
)

// LanguageModel is a loaded language-model handle.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string, opts llama.GenOptions) (string, error)
	Close() error
}

// TranscriptionModel is a loaded speech-transcription handle.
type TranscriptionModel interface {
	TranscribeFile(ctx context.Context, wavPath string) (string, error)
	Close() error
}

// LoadError wraps a native model construction failure. The process survives;
// the caller degrades to a user-visible message.
type LoadError struct {
	Kind string // "language" or "transcription"
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s model: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// slot tracks one model kind. While a load is in flight, concurrent callers
// wait on the loading channel instead of starting a second construction.
type slot[H any] struct {
	handle  H
	loaded  bool
	loading chan struct{}
	loadErr error
}

// Manager serializes the load-or-return-existing decision for both kinds.
type Manager struct {
	cfg *config.Store

	// Loader funcs are swappable for tests.
	loadLLM func(*config.Store) (LanguageModel, error)
	loadSTT func(*config.Store) (TranscriptionModel, error)

	mu    sync.Mutex
	epoch uint64 // bumped by InvalidateAll; stale in-flight loads see it
	llm   slot[LanguageModel]
	stt   slot[TranscriptionModel]
}

// New returns a Manager reading model parameters from cfg on each load.
func New(cfg *config.Store) *Manager {
	return &Manager{
		cfg:     cfg,
		loadLLM: loadLanguageModel,
		loadSTT: loadTranscriptionModel,
	}
}

// NewWithLoaders is for tests that substitute model construction.
func NewWithLoaders(cfg *config.Store, llmLoader func(*config.Store) (LanguageModel, error), sttLoader func(*config.Store) (TranscriptionModel, error)) *Manager {
	return &Manager{cfg: cfg, loadLLM: llmLoader, loadSTT: sttLoader}
}

func loadLanguageModel(cfg *config.Store) (LanguageModel, error) {
	modelPath, err := cfg.GetString(config.KeyModelPath)
	if err != nil {
		return nil, err
	}
	ctxLen, err := cfg.GetInt(config.KeyContextLength)
	if err != nil {
		return nil, err
	}
	threads, err := cfg.GetInt(config.KeyThreads)
	if err != nil {
		return nil, err
	}
	batch, err := cfg.GetInt(config.KeyBatchSize)
	if err != nil {
		return nil, err
	}
	ubatch, err := cfg.GetInt(config.KeyUBatchSize)
	if err != nil {
		return nil, err
	}
	f16kv, err := cfg.GetBool(config.KeyF16KV)
	if err != nil {
		return nil, err
	}
	return llama.Load(llama.Params{
		ModelPath:     modelPath,
		ContextLength: ctxLen,
		Threads:       threads,
		BatchSize:     batch,
		UBatchSize:    ubatch,
		F16KV:         f16kv,
	})
}

func loadTranscriptionModel(cfg *config.Store) (TranscriptionModel, error) {
	size, err := cfg.GetString(config.KeyWhisperModel)
	if err != nil {
		return nil, err
	}
	return whisper.Load(whisper.Params{Size: size})
}

// AcquireLanguageModel returns the language-model handle, constructing it
// lazily. Concurrent callers coalesce into a single in-flight load.
func (m *Manager) AcquireLanguageModel() (LanguageModel, error) {
	for {
		m.mu.Lock()
		if m.llm.loaded {
			h := m.llm.handle
			m.mu.Unlock()
			return h, nil
		}
		if ch := m.llm.loading; ch != nil {
			m.mu.Unlock()
			<-ch
			m.mu.Lock()
			err := m.llm.loadErr
			if m.llm.loaded {
				h := m.llm.handle
				m.mu.Unlock()
				return h, nil
			}
			m.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue // handle was released between load and our wake-up
		}
		ch := make(chan struct{})
		m.llm.loading = ch
		epoch := m.epoch
		m.mu.Unlock()

		log.Info("language_model_load")
		h, err := m.loadLLM(m.cfg)

		m.mu.Lock()
		m.llm.loading = nil
		if m.epoch != epoch {
			// Settings changed while the load was in flight; the handle
			// was built from stale parameters and must not be published.
			close(ch)
			m.mu.Unlock()
			if err == nil {
				log.Info("language_model_load_stale")
				h.Close()
			}
			continue
		}
		if err != nil {
			m.llm.loadErr = &LoadError{Kind: "language", Err: err}
			err = m.llm.loadErr
		} else {
			m.llm.handle = h
			m.llm.loaded = true
			m.llm.loadErr = nil
		}
		close(ch)
		m.mu.Unlock()
		if err != nil {
			log.Errorf("language model load failed: %v", err)
			return nil, err
		}
		return h, nil
	}
}

// AcquireTranscriptionModel returns the transcription handle for the
// configured size, constructing it lazily with the same coalescing rules.
func (m *Manager) AcquireTranscriptionModel() (TranscriptionModel, error) {
	for {
		m.mu.Lock()
		if m.stt.loaded {
			h := m.stt.handle
			m.mu.Unlock()
			return h, nil
		}
		if ch := m.stt.loading; ch != nil {
			m.mu.Unlock()
			<-ch
			m.mu.Lock()
			err := m.stt.loadErr
			if m.stt.loaded {
				h := m.stt.handle
				m.mu.Unlock()
				return h, nil
			}
			m.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}
		ch := make(chan struct{})
		m.stt.loading = ch
		epoch := m.epoch
		m.mu.Unlock()

		log.Info("transcription_model_load")
		h, err := m.loadSTT(m.cfg)

		m.mu.Lock()
		m.stt.loading = nil
		if m.epoch != epoch {
			close(ch)
			m.mu.Unlock()
			if err == nil {
				log.Info("transcription_model_load_stale")
				h.Close()
			}
			continue
		}
		if err != nil {
			m.stt.loadErr = &LoadError{Kind: "transcription", Err: err}
			err = m.stt.loadErr
		} else {
			m.stt.handle = h
			m.stt.loaded = true
			m.stt.loadErr = nil
		}
		close(ch)
		m.mu.Unlock()
		if err != nil {
			log.Errorf("transcription model load failed: %v", err)
			return nil, err
		}
		return h, nil
	}
}

func (m *Manager) sticky() bool {
	keep, err := m.cfg.GetBool(config.KeyKeepModelLoaded)
	return err == nil && keep
}

// ReleaseIfNotSticky drops both handles unless keep_model_loaded is set.
// Called after each successful generation or transcription.
func (m *Manager) ReleaseIfNotSticky() {
	if m.sticky() {
		return
	}
	m.InvalidateAll()
}

// InvalidateAll unconditionally drops both handles so the next acquisition
// re-reads every parameter from the config store. Runs after settings save.
// An in-flight load observes the epoch bump at publish time, closes its
// fresh handle and reloads, so a handle built from pre-save parameters is
// never returned.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	m.epoch++
	llmHandle, llmLoaded := m.llm.handle, m.llm.loaded
	sttHandle, sttLoaded := m.stt.handle, m.stt.loaded
	m.llm = slot[LanguageModel]{loading: m.llm.loading}
	m.stt = slot[TranscriptionModel]{loading: m.stt.loading}
	m.mu.Unlock()

	if llmLoaded {
		log.Info("language_model_unload")
		llmHandle.Close()
	}
	if sttLoaded {
		log.Info("transcription_model_unload")
		sttHandle.Close()
	}
}

// WarmUp eagerly loads the language model on a background goroutine when the
// keep-loaded flag is set. Failures surface through onErr (may be nil).
func (m *Manager) WarmUp(onErr func(error)) {
	if !m.sticky() {
		return
	}
	go func() {
		if _, err := m.AcquireLanguageModel(); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}
