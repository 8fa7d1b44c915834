package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"mimir/audio"
	"mimir/capture"
	"mimir/chat"
	"mimir/clipboard"
	"mimir/config"
	"mimir/dispatch"
	"mimir/doctor"
	"mimir/hotkey"
	"mimir/log"
	"mimir/model"
	"mimir/shutdown"
)

var version = "dev"

var (
	cfg      *config.Store
	models   *model.Manager
	history  *chat.History
	pipeline *chat.Pipeline
	machine  *capture.Machine
	queue    *dispatch.Queue
)

var guiMode bool

var (
	sinkMu sync.Mutex
	sink   EventSink
)

var (
	sessionMu sync.Mutex
	lastReply string
	turnCount int
)

var shutdownOnce sync.Once

func setSink(s EventSink) {
	sinkMu.Lock()
	sink = s
	sinkMu.Unlock()
}

// emit runs fn against the current sink, if one is attached yet.
func emit(fn func(EventSink)) {
	sinkMu.Lock()
	s := sink
	sinkMu.Unlock()
	if s != nil {
		fn(s)
	}
}

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		sessionMu.Lock()
		n := turnCount
		sessionMu.Unlock()
		if n > 0 {
			log.SessionEnd(n)
		}
		log.Close()
		if tuiProgram != nil {
			tuiProgram.Quit()
		}
		guiQuit()
		os.Exit(0)
	})
}

// deliverReply runs on the dispatch consumer for every finished generation.
func deliverReply(r chat.Result) {
	if !r.Failed {
		sessionMu.Lock()
		lastReply = r.Reply
		turnCount++
		sessionMu.Unlock()
	}
	emit(func(s EventSink) { s.Reply(r.UserText, r.Reply, r.Failed) })
}

// submitChat is the single entry point both front-ends use for input.
// Reports whether the pipeline accepted the text.
func submitChat(text string) bool {
	if pipeline == nil {
		return false // GUI came up before the pipeline finished wiring
	}
	err := pipeline.Submit(text)
	switch {
	case err == nil:
		return true
	case errors.Is(err, chat.ErrBusy):
		emit(func(s EventSink) { s.Status("Still thinking, wait for the current reply") })
	case errors.Is(err, chat.ErrEmptyInput):
		// nothing to do
	default:
		log.Errorf("submit failed: %v", err)
		emit(func(s EventSink) { s.Status(fmt.Sprintf("Could not submit: %v", err)) })
	}
	return false
}

func newChat() {
	history.Clear()
	log.Info("history_cleared")
}

func copyLastReply() {
	sessionMu.Lock()
	text := lastReply
	sessionMu.Unlock()
	if text == "" {
		return
	}
	if err := clipboard.Copy(text); err != nil {
		log.Warnf("clipboard copy failed: %v", err)
		return
	}
	emit(func(s EventSink) { s.Status("Reply copied to clipboard") })
}

// saveSettings replaces the whole settings document, then drops every handle
// derived from it so the next use re-reads the new values.
func saveSettings(doc map[string]any) error {
	if err := cfg.Replace(doc); err != nil {
		return err
	}
	models.InvalidateAll()
	if machine != nil {
		machine.CloseDevice()
	}
	if n, err := cfg.GetInt(config.KeyHistoryLimit); err == nil {
		history.SetBound(n)
	}
	log.Info("settings_saved")
	emit(func(s EventSink) { s.Status("Settings saved (hotkey changes take effect after restart)") })
	return nil
}

func captureCallbacks() capture.Callbacks {
	return capture.Callbacks{
		State: func(st capture.State) {
			emit(func(s EventSink) { s.CaptureState(st) })
		},
		Text: func(text string) {
			emit(func(s EventSink) { s.SpeechText(text) })
		},
		Status: func(text string) {
			emit(func(s EventSink) { s.Status(text) })
		},
		Warning: func(on bool) {
			emit(func(s EventSink) { s.NoVoiceWarning(on) })
		},
	}
}

// registerHotkey parses and registers the shortcut stored under key. A bad
// spec or a failed registration degrades to a nil hotkey.
func registerHotkey(key string) hotkey.Hotkey {
	raw, err := cfg.GetString(key)
	if err != nil {
		log.Errorf("hotkey %s: %v", key, err)
		return nil
	}
	spec, err := hotkey.Parse(raw)
	if err != nil {
		log.Errorf("hotkey %s: %v", key, err)
		emit(func(s EventSink) { s.Status(fmt.Sprintf("Invalid shortcut %q in settings", raw)) })
		return nil
	}
	hk, err := hotkey.New(spec)
	if err != nil {
		log.Errorf("hotkey %s: %v", key, err)
		return nil
	}
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey %s register: %v", spec, err)
		emit(func(s EventSink) { s.Status(fmt.Sprintf("Could not grab %s: %v", spec, err)) })
		return nil
	}
	log.Info("hotkey_registered: " + spec.String())
	return hk
}

func run() {
	setupFlag := flag.Bool("setup", false, "Select microphone device and save it to settings")
	configFlag := flag.String("config", "", "Settings file path (default: OS-specific location)")
	logPathFlag := flag.String("logpath", "", "Log directory path (default: OS-specific location, use ./ for current dir)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Bool("gui", false, "Run with the desktop GUI (needs a -tags gui build)")
	flag.Parse()

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *versionFlag {
		fmt.Printf("mimir %s\n", version)
		os.Exit(0)
	}

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath, err = config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot resolve settings location: %v\n", err)
			os.Exit(1)
		}
	}
	cfg, err = config.Open(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Fix or remove %s and start again.\n", cfgPath)
		os.Exit(1)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(cfg))
	}

	if *setupFlag {
		runSetup()
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	modelPath, _ := cfg.GetString(config.KeyModelPath)
	whisperSize, _ := cfg.GetString(config.KeyWhisperModel)
	log.SessionStart(modelPath, whisperSize)

	queue = dispatch.New()
	models = model.New(cfg)
	historyLimit := 1
	if n, err := cfg.GetInt(config.KeyHistoryLimit); err == nil {
		historyLimit = n
	}
	history = chat.NewHistory(historyLimit)
	pipeline = chat.NewPipeline(models, history, cfg, queue, deliverReply)

	// Speech capture is optional: a machine without a microphone still
	// makes a usable chat assistant. In GUI mode the context was created
	// on the main thread before Fyne took it over.
	audioCtx := guiAudioCtx
	if audioCtx == nil {
		audioCtx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: speech capture unavailable: %v\n", err)
			audioCtx = nil
		} else {
			defer audioCtx.Close()
		}
	}
	if audioCtx != nil {
		machine = capture.New(audioCtx, models, cfg, queue, captureCallbacks())
	}

	models.WarmUp(func(err error) {
		emit(func(s EventSink) { s.Status(fmt.Sprintf("Model preload failed: %v", err)) })
	})

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown()
	}()

	if guiMode {
		attachGUIHandlers()
	} else {
		startTUI()
	}

	// Dispatch consumer: every cross-thread callback funnels through here
	// and fans out to the attached sink.
	stopQueue := make(chan struct{})
	defer close(stopQueue)
	go queue.Run(stopQueue)

	showHK := registerHotkey(config.KeyShowHotkey)
	var speechHK hotkey.Hotkey
	if machine != nil {
		speechHK = registerHotkey(config.KeySpeechHotkey)
	}
	defer func() {
		if showHK != nil {
			showHK.Unregister()
		}
		if speechHK != nil {
			speechHK.Unregister()
		}
	}()

	var showDown, speechDown, speechUp <-chan struct{}
	if showHK != nil {
		showDown = showHK.Keydown()
	}
	if speechHK != nil {
		speechDown = speechHK.Keydown()
		speechUp = speechHK.Keyup()
	}

	for {
		select {
		case <-showDown:
			log.Info("show_hotkey")
			emit(func(s EventSink) { s.Show() })
		case <-speechDown:
			machine.Press()
		case <-speechUp:
			machine.Release()
		}
	}
}

// runSetup drives the interactive microphone picker and stores the choice.
func runSetup() {
	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	current, _ := cfg.GetString(config.KeyMicDevice)
	dev, err := audio.SelectDevice(ctx, current)
	if err != nil {
		if errors.Is(err, audio.ErrSelectionAborted) {
			fmt.Println("Keeping current microphone setting.")
			return
		}
		fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\n", err)
		return
	}

	doc := cfg.Snapshot()
	doc[config.KeyMicDevice] = dev.Name
	if err := cfg.Replace(doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Microphone saved: %s\n", dev.Name)
}
