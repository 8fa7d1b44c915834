package config

// Kind is the value type of a settings key.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
)

// Field describes one recognized settings key. The schema is static so the
// settings form can be generated without inspecting runtime values.
type Field struct {
	Key         string
	Kind        Kind
	Description string
	Default     any

	// Constraints. Min/Max apply to int and float fields when MinMax is
	// set; Enum restricts string fields to the listed values.
	MinMax   bool
	Min, Max float64
	Enum     []string
}

// Recognized keys.
const (
	KeyModelPath       = "model_path"
	KeyContextLength   = "context_length"
	KeyThreads         = "threads"
	KeyBatchSize       = "batch_size"
	KeyUBatchSize      = "ubatch_size"
	KeyF16KV           = "f16_kv"
	KeySystemPrompt    = "system_prompt"
	KeyMaxTokens       = "max_tokens"
	KeyTemperature     = "temperature"
	KeyTopP            = "top_p"
	KeyShowHotkey      = "show_hotkey"
	KeySpeechHotkey    = "speech_hotkey"
	KeySampleRate      = "sample_rate"
	KeyWhisperModel    = "whisper_model"
	KeyMicDevice       = "mic_device"
	KeyHistoryLimit    = "history_limit"
	KeyKeepModelLoaded = "keep_model_loaded"
)

// WhisperSizes is the fixed set of transcription model presets.
var WhisperSizes = []string{"tiny", "base", "small", "medium", "large"}

const defaultSystemPrompt = "You are Mimir, a helpful desktop assistant. Answer concisely."

// Schema lists every recognized key, in settings-form display order.
var Schema = []Field{
	{Key: KeyModelPath, Kind: KindString, Description: "Path to the GGUF language model file", Default: ""},
	{Key: KeyContextLength, Kind: KindInt, Description: "Model context length in tokens", Default: 4096, MinMax: true, Min: 256, Max: 131072},
	{Key: KeyThreads, Kind: KindInt, Description: "Inference threads (0 = logical core count)", Default: 0, MinMax: true, Min: 0, Max: 256},
	{Key: KeyBatchSize, Kind: KindInt, Description: "Prompt batch size", Default: 512, MinMax: true, Min: 1, Max: 8192},
	{Key: KeyUBatchSize, Kind: KindInt, Description: "Prompt micro-batch size", Default: 128, MinMax: true, Min: 1, Max: 8192},
	{Key: KeyF16KV, Kind: KindBool, Description: "Half-precision key-value cache", Default: true},
	{Key: KeySystemPrompt, Kind: KindString, Description: "System prompt prepended to every conversation", Default: defaultSystemPrompt},
	{Key: KeyMaxTokens, Kind: KindInt, Description: "Maximum tokens per generation", Default: 512, MinMax: true, Min: 1, Max: 16384},
	{Key: KeyTemperature, Kind: KindFloat, Description: "Sampling temperature", Default: 0.7, MinMax: true, Min: 0, Max: 2},
	{Key: KeyTopP, Kind: KindFloat, Description: "Nucleus sampling top-p", Default: 0.9, MinMax: true, Min: 0, Max: 1},
	{Key: KeyShowHotkey, Kind: KindString, Description: "Global hotkey to open and focus the window", Default: "ctrl+shift+m"},
	{Key: KeySpeechHotkey, Kind: KindString, Description: "Global press-to-record hotkey", Default: "ctrl+shift+space"},
	{Key: KeySampleRate, Kind: KindInt, Description: "Speech capture sample rate in Hz", Default: 16000, MinMax: true, Min: 8000, Max: 48000},
	{Key: KeyWhisperModel, Kind: KindString, Description: "Transcription model size", Default: "base", Enum: WhisperSizes},
	{Key: KeyMicDevice, Kind: KindString, Description: "Microphone device name (empty = system default)", Default: ""},
	{Key: KeyHistoryLimit, Kind: KindInt, Description: "Conversation turns kept for prompt context", Default: 20, MinMax: true, Min: 1, Max: 200},
	{Key: KeyKeepModelLoaded, Kind: KindBool, Description: "Keep models loaded between requests", Default: false},
}

var schemaByKey = func() map[string]Field {
	m := make(map[string]Field, len(Schema))
	for _, f := range Schema {
		m[f.Key] = f
	}
	return m
}()

// Lookup returns the schema entry for key.
func Lookup(key string) (Field, bool) {
	f, ok := schemaByKey[key]
	return f, ok
}

// Defaults returns a fresh document populated with every schema default.
func Defaults() map[string]any {
	m := make(map[string]any, len(Schema))
	for _, f := range Schema {
		m[f.Key] = f.Default
	}
	return m
}
