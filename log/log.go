package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	convoFile *os.File
	logMu     sync.Mutex
	logReady  bool
	pid       int
	dir       string
)

// GenerationStats is one generation request summarized for the diagnostics log.
type GenerationStats struct {
	PromptChars  int
	ReplyChars   int
	HistoryTurns int
	TotalMs      float64
}

// TranscriptionStats is one transcription summarized for the diagnostics log.
type TranscriptionStats struct {
	AudioS    float64
	WavKB     float64
	TotalMs   float64
	NoSpeech  bool
	ModelSize string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: MIMIR_LOG_PATH environment variable
	envPath := os.Getenv("MIMIR_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	convoPath := filepath.Join(dir, "conversation_log.txt")
	convoFile, err = os.OpenFile(convoPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if convoFile != nil {
		convoFile.Close()
		convoFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Generation(s GenerationStats) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("prompt_chars", s.PromptChars).
		Int("reply_chars", s.ReplyChars).
		Int("history_turns", s.HistoryTurns).
		Float64("total_ms", s.TotalMs).
		Msg("generation")
}

func Transcription(s TranscriptionStats) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("model", s.ModelSize).
		Float64("audio_s", s.AudioS).
		Float64("wav_kb", s.WavKB).
		Float64("total_ms", s.TotalMs).
		Bool("no_speech", s.NoSpeech).
		Msg("transcription")
}

// Turn appends one completed (user, assistant) exchange to the conversation
// log.
func Turn(userText, assistantText string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(convoFile, "%s\t[%d]\tuser\t%s\n", ts, pid, userText)
	fmt.Fprintf(convoFile, "%s\t[%d]\tassistant\t%s\n", ts, pid, assistantText)
}

func SessionStart(modelPath, whisperSize string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("model", modelPath).
		Str("whisper", whisperSize).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}
