package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mimir/config"
	"mimir/dispatch"
	"mimir/llama"
	"mimir/log"
	"mimir/model"
)

var (
	ErrEmptyInput = errors.New("chat: empty input")
	ErrBusy       = errors.New("chat: a generation is already in flight")
)

// Result is delivered to the presentation layer, exactly once per accepted
// submit. On failure Reply holds a human-readable message and Failed is set.
type Result struct {
	UserText string
	Reply    string
	Failed   bool
}

// Pipeline turns user input into model replies. At most one generation is in
// flight; a second submit while one is pending is rejected with ErrBusy.
type Pipeline struct {
	models  *model.Manager
	history *History
	cfg     *config.Store
	queue   *dispatch.Queue
	deliver func(Result) // runs on the presentation thread

	busy atomic.Bool
}

// NewPipeline wires the generation pipeline. deliver receives each result on
// the presentation thread via queue.
func NewPipeline(models *model.Manager, history *History, cfg *config.Store, queue *dispatch.Queue, deliver func(Result)) *Pipeline {
	return &Pipeline{
		models:  models,
		history: history,
		cfg:     cfg,
		queue:   queue,
		deliver: deliver,
	}
}

// Busy reports whether a generation is in flight.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Submit validates and accepts one generation request, running it on a
// background goroutine. The result arrives through the dispatch queue.
func (p *Pipeline) Submit(userText string) error {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return ErrEmptyInput
	}
	if !p.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	go p.run(userText)
	return nil
}

func (p *Pipeline) run(userText string) {
	defer p.busy.Store(false)

	start := time.Now()
	snapshot := p.history.Snapshot()

	reply, err := p.generate(userText, snapshot, start)
	if err != nil {
		// History stays untouched on failure; the user sees a message
		// instead of model output.
		log.Errorf("generation failed: %v", err)
		p.post(Result{UserText: userText, Reply: userMessage(err), Failed: true})
		return
	}

	p.history.Append(Turn{User: userText, Assistant: reply})
	log.Turn(userText, reply)
	p.models.ReleaseIfNotSticky()
	p.post(Result{UserText: userText, Reply: reply})
}

func (p *Pipeline) generate(userText string, snapshot []Turn, start time.Time) (string, error) {
	system, err := p.cfg.GetString(config.KeySystemPrompt)
	if err != nil {
		return "", err
	}
	maxTokens, err := p.cfg.GetInt(config.KeyMaxTokens)
	if err != nil {
		return "", err
	}
	temperature, err := p.cfg.GetFloat(config.KeyTemperature)
	if err != nil {
		return "", err
	}
	topP, err := p.cfg.GetFloat(config.KeyTopP)
	if err != nil {
		return "", err
	}

	handle, err := p.models.AcquireLanguageModel()
	if err != nil {
		return "", err
	}

	prompt := BuildPrompt(system, snapshot, userText)
	raw, err := handle.Complete(context.Background(), prompt, llama.GenOptions{
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(raw)

	log.Generation(log.GenerationStats{
		PromptChars:  len(prompt),
		ReplyChars:   len(reply),
		HistoryTurns: len(snapshot),
		TotalMs:      float64(time.Since(start).Milliseconds()),
	})
	return reply, nil
}

// post hands the result to the presentation thread, exactly once.
func (p *Pipeline) post(r Result) {
	p.queue.Post(func() { p.deliver(r) })
}

func userMessage(err error) string {
	var le *model.LoadError
	if errors.As(err, &le) {
		return fmt.Sprintf("Could not load the %s model: %v", le.Kind, le.Unwrap())
	}
	if errors.Is(err, config.ErrKeyNotFound) || errors.Is(err, config.ErrMalformed) {
		return fmt.Sprintf("Settings problem: %v", err)
	}
	return fmt.Sprintf("Generation failed: %v", err)
}
