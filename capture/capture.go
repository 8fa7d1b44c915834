// Package capture drives the push-to-talk speech session: hold the speech
// hotkey to record, release to transcribe. The machine owns the microphone
// stream and the temporary WAV artifact; transcribed text and status updates
// are posted to the presentation queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mimir/audio"
	"mimir/config"
	"mimir/dispatch"
	"mimir/encoder"
	"mimir/log"
	"mimir/model"
)

// State is the capture phase. Transitions are strictly
// Idle -> Recording -> Transcribing -> Idle; every other input is ignored.
type State int

const (
	Idle State = iota
	Recording
	Transcribing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callbacks receive capture outcomes. All of them run on the presentation
// goroutine via the dispatch queue.
type Callbacks struct {
	State   func(State)  // every phase change
	Text    func(string) // transcribed text, ready for caret insertion
	Status  func(string) // transient user-visible notices
	Warning func(bool)   // no-voice warning raised or cleared
}

// Machine is the push-to-talk state machine. Press and Release are safe to
// call from the hotkey goroutine at any time.
type Machine struct {
	ctx    audio.Context
	models *model.Manager
	cfg    *config.Store
	queue  *dispatch.Queue
	cb     Callbacks

	mu         sync.Mutex
	state      State
	device     audio.CaptureDevice
	deviceName string // config value the open device was created for
	sampleRate int
	monStop    chan struct{}

	// The data callback runs in a realtime context and must never contend
	// with the state mutex, so the accumulation buffer has its own lock.
	bufMu     sync.Mutex
	recording bool
	pcm       []byte
}

func New(ctx audio.Context, models *model.Manager, cfg *config.Store, queue *dispatch.Queue, cb Callbacks) *Machine {
	return &Machine{
		ctx:    ctx,
		models: models,
		cfg:    cfg,
		queue:  queue,
		cb:     cb,
	}
}

// State returns the current phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Press opens the microphone stream and starts accumulating frames. A press
// while recording or transcribing is ignored, so key auto-repeat never
// spawns a second session.
func (m *Machine) Press() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Idle {
		return
	}

	if err := m.ensureDeviceLocked(); err != nil {
		log.Errorf("capture stream open failed: %v", err)
		m.postStatus(fmt.Sprintf("Microphone unavailable: %v", err))
		return
	}

	m.bufMu.Lock()
	m.pcm = m.pcm[:0]
	m.recording = true
	m.bufMu.Unlock()

	vp, err := newVADProcessor(m.sampleRate)
	if err != nil {
		log.Warnf("voice detection unavailable: %v", err)
		vp = nil
	}

	m.device.SetCallback(func(data []byte, _ uint32) {
		m.bufMu.Lock()
		if m.recording {
			m.pcm = append(m.pcm, data...)
		}
		m.bufMu.Unlock()
		if vp != nil {
			vp.Process(data)
		}
	})

	if err := m.device.Start(); err != nil {
		m.bufMu.Lock()
		m.recording = false
		m.bufMu.Unlock()
		m.device.ClearCallback()
		m.closeDeviceLocked()
		log.Errorf("capture stream start failed: %v", err)
		m.postStatus(fmt.Sprintf("Recording failed: %v", err))
		return
	}

	m.state = Recording
	if vp != nil {
		m.monStop = make(chan struct{})
		go m.monitorSilence(vp, m.monStop)
	}
	log.Info("capture_start: " + m.device.DeviceName())
	m.postState(Recording)
}

// Release stops the stream and hands the accumulated audio to the
// transcription model. A release outside Recording is ignored.
func (m *Machine) Release() {
	m.mu.Lock()

	if m.state != Recording {
		m.mu.Unlock()
		return
	}

	m.device.Stop()
	m.device.ClearCallback()
	if m.monStop != nil {
		close(m.monStop)
		m.monStop = nil
		m.postWarning(false)
	}

	m.bufMu.Lock()
	m.recording = false
	pcm := make([]byte, len(m.pcm))
	copy(pcm, m.pcm)
	m.pcm = m.pcm[:0]
	m.bufMu.Unlock()
	rate := m.sampleRate

	// A tap too short to carry speech goes straight back to Idle without
	// producing an artifact.
	if len(pcm)/2 < rate/10 {
		m.state = Idle
		m.mu.Unlock()
		log.Info("capture_too_short")
		m.postStatus("No audio captured")
		m.postState(Idle)
		return
	}

	m.state = Transcribing
	m.mu.Unlock()

	log.Info("capture_stop")
	m.postState(Transcribing)
	go m.transcribe(pcm, rate)
}

// CloseDevice drops the open microphone stream so the next press re-reads
// the device and sample-rate settings. Called after a settings save.
func (m *Machine) CloseDevice() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return
	}
	m.closeDeviceLocked()
}

func (m *Machine) ensureDeviceLocked() error {
	name, err := m.cfg.GetString(config.KeyMicDevice)
	if err != nil {
		return err
	}
	rate, err := m.cfg.GetInt(config.KeySampleRate)
	if err != nil {
		return err
	}

	if m.device != nil && m.deviceName == name && m.sampleRate == rate {
		return nil
	}
	m.closeDeviceLocked()

	dev := audio.FindDevice(m.ctx, name)
	capture, err := m.ctx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: uint32(rate),
		Channels:   encoder.Channels,
	})
	if err != nil {
		return err
	}
	m.device = capture
	m.deviceName = name
	m.sampleRate = rate
	return nil
}

func (m *Machine) closeDeviceLocked() {
	if m.device != nil {
		m.device.Close()
		m.device = nil
	}
}

func (m *Machine) transcribe(pcm []byte, rate int) {
	start := time.Now()
	text, err := m.runTranscription(pcm, rate)

	// Outcome is queued before the state flips back, so a consumer that
	// observes Idle is guaranteed to drain the result with it.
	if err != nil {
		log.Errorf("transcription failed: %v", err)
		m.postStatus(transcriptionErrorMessage(err))
	} else {
		noSpeech := text == ""
		size, _ := m.cfg.GetString(config.KeyWhisperModel)
		log.Transcription(log.TranscriptionStats{
			AudioS:    float64(len(pcm)/2) / float64(rate),
			WavKB:     float64(len(pcm)+44) / 1024,
			TotalMs:   float64(time.Since(start).Milliseconds()),
			NoSpeech:  noSpeech,
			ModelSize: size,
		})
		if noSpeech {
			m.postStatus("No speech detected")
		} else {
			m.postText(text)
		}
	}
	m.postState(Idle)

	m.mu.Lock()
	m.state = Idle
	m.mu.Unlock()
}

// runTranscription writes the WAV artifact, runs the model against it and
// removes the file whether or not transcription succeeded.
func (m *Machine) runTranscription(pcm []byte, rate int) (string, error) {
	wavPath := filepath.Join(os.TempDir(), "mimir-"+uuid.NewString()+".wav")
	if err := encoder.WriteWAV(wavPath, pcm, rate); err != nil {
		return "", fmt.Errorf("writing capture artifact: %w", err)
	}
	defer os.Remove(wavPath)

	stt, err := m.models.AcquireTranscriptionModel()
	if err != nil {
		return "", err
	}

	text, err := stt.TranscribeFile(context.Background(), wavPath)
	if err != nil {
		return "", err
	}
	m.models.ReleaseIfNotSticky()
	return strings.TrimSpace(text), nil
}

func transcriptionErrorMessage(err error) string {
	var loadErr *model.LoadError
	if errors.As(err, &loadErr) {
		return fmt.Sprintf("Could not load the transcription model: %v", loadErr.Err)
	}
	return fmt.Sprintf("Transcription failed: %v", err)
}

// monitorSilence ticks the no-voice watchdog while recording.
func (m *Machine) monitorSilence(vp *vadProcessor, stop <-chan struct{}) {
	mon := newSilenceMonitor()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			switch mon.Tick(vp.HasSpeechTick()) {
			case silenceWarn:
				log.Info("no_voice_warning")
				m.postWarning(true)
			case silenceClear:
				m.postWarning(false)
			}
		}
	}
}

func (m *Machine) postState(s State) {
	if m.cb.State != nil {
		m.queue.Post(func() { m.cb.State(s) })
	}
}

func (m *Machine) postText(text string) {
	if m.cb.Text != nil {
		m.queue.Post(func() { m.cb.Text(text) })
	}
}

func (m *Machine) postStatus(msg string) {
	if m.cb.Status != nil {
		m.queue.Post(func() { m.cb.Status(msg) })
	}
}

func (m *Machine) postWarning(on bool) {
	if m.cb.Warning != nil {
		m.queue.Post(func() { m.cb.Warning(on) })
	}
}
