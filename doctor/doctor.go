// Package doctor runs interactive system diagnostics: settings, the two
// native models, the microphone and the global hotkeys.
package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mimir/audio"
	"mimir/config"
	"mimir/encoder"
	"mimir/hotkey"
	"mimir/llama"
	"mimir/whisper"

	"github.com/google/uuid"
)

// Run executes the checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg *config.Store) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("mimir doctor - interactive system diagnostics")
	fmt.Println("=============================================")

	allPass := true

	if !checkLanguageModel(cfg) {
		allPass = false
	}
	if !checkTranscriptionModel(cfg) {
		allPass = false
	}
	if !checkHotkeys(cfg) {
		allPass = false
	}
	if allPass && !checkMicAndTranscription(cfg) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkLanguageModel(cfg *config.Store) bool {
	fmt.Println()
	fmt.Println("[1/4] Language model")

	modelPath, err := cfg.GetString(config.KeyModelPath)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if modelPath == "" {
		fmt.Println("  FAIL: model_path is not set (edit settings or use the GUI settings dialog)")
		return false
	}

	ctxLen, _ := cfg.GetInt(config.KeyContextLength)
	m, err := llama.Load(llama.Params{ModelPath: modelPath, ContextLength: ctxLen})
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	m.Close()
	fmt.Printf("  PASS: %s loadable\n", filepath.Base(modelPath))
	return true
}

func checkTranscriptionModel(cfg *config.Store) bool {
	fmt.Println()
	fmt.Println("[2/4] Transcription model")

	size, err := cfg.GetString(config.KeyWhisperModel)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	m, err := whisper.Load(whisper.Params{Size: size})
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	m.Close()
	fmt.Printf("  PASS: %s model loadable\n", size)
	return true
}

func checkHotkeys(cfg *config.Store) bool {
	fmt.Println()
	fmt.Println("[3/4] Global hotkeys")

	if msg, err := hotkey.Diagnose(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	} else {
		fmt.Printf("  %s\n", msg)
	}

	raw, err := cfg.GetString(config.KeySpeechHotkey)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	spec, err := hotkey.Parse(raw)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}

	hk, err := hotkey.New(spec)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register %s: %v\n", spec, err)
		return false
	}
	defer hk.Unregister()

	fmt.Printf("Press %s...\n", spec)
	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		// Wait for keyup so the release does not leak into the next step
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func checkMicAndTranscription(cfg *config.Store) bool {
	fmt.Println()
	fmt.Println("[4/4] Microphone and transcription")

	reader := bufio.NewReader(os.Stdin)

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}

	name, _ := cfg.GetString(config.KeyMicDevice)
	device := audio.FindDevice(ctx, name)
	if device != nil {
		fmt.Printf("Using configured device: %s\n", device.Name)
	} else {
		fmt.Printf("Using default device: %s\n", devices[0].Name)
	}

	rate, err := cfg.GetInt(config.KeySampleRate)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	reader.ReadString('\n')

	stop := make(chan struct{})
	go func() {
		time.Sleep(3 * time.Second)
		close(stop)
	}()

	pcm, err := recordAudio(ctx, device, rate, stop)
	if err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	if len(pcm) == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}

	fmt.Printf("  Recorded %.1f KB, transcribing...\n", float64(len(pcm))/1024)

	size, _ := cfg.GetString(config.KeyWhisperModel)
	stt, err := whisper.Load(whisper.Params{Size: size})
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	defer stt.Close()

	wavPath := filepath.Join(os.TempDir(), "mimir-doctor-"+uuid.NewString()+".wav")
	if err := encoder.WriteWAV(wavPath, pcm, rate); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	defer os.Remove(wavPath)

	text, err := stt.TranscribeFile(context.Background(), wavPath)
	if err != nil {
		fmt.Printf("  FAIL: transcription error: %v\n", err)
		return false
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Printf("\n  Transcribed text: %s\n\n", text)

	// Ask user to confirm - fresh reader to clear any buffered input
	confirmReader := bufio.NewReader(os.Stdin)
	fmt.Print("Is this correct? [y/n]: ")
	confirm, _ := confirmReader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: transcription verified by user")
		return true
	}
	fmt.Println("  FAIL: transcription not confirmed")
	return false
}

func recordAudio(ctx audio.Context, device *audio.DeviceInfo, rate int, stop <-chan struct{}) ([]byte, error) {
	var pcmBuf []byte
	var bufMu sync.Mutex
	var stopped bool
	done := make(chan struct{})

	captureDevice, err := ctx.NewCapture(device, audio.CaptureConfig{
		SampleRate: uint32(rate),
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, err
	}

	captureDevice.SetCallback(func(data []byte, frameCount uint32) {
		bufMu.Lock()
		if stopped {
			bufMu.Unlock()
			return
		}
		pcmBuf = append(pcmBuf, data...)
		bufMu.Unlock()
	})

	if err := captureDevice.Start(); err != nil {
		captureDevice.Close()
		return nil, err
	}

	fmt.Print("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	<-stop
	close(done)

	captureDevice.Stop()
	fmt.Println(" done")
	captureDevice.Close()

	bufMu.Lock()
	stopped = true
	raw := pcmBuf
	bufMu.Unlock()

	return raw, nil
}
