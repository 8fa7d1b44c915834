package audio

import "sync"

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext hands out FakeCapture devices that replay preset PCM. Used by
// tests instead of a real microphone.
type FakeContext struct {
	pcm []byte

	// CaptureErr makes NewCapture fail; StartErr is copied onto every
	// capture handed out so Start fails instead.
	CaptureErr error
	StartErr   error

	mu   sync.Mutex
	last *FakeCapture
}

func NewFakeContext(pcm []byte) *FakeContext {
	return &FakeContext{pcm: pcm}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	c := &FakeCapture{pcm: f.pcm, StartErr: f.StartErr}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

// LastCapture returns the most recently created capture, or nil.
func (f *FakeContext) LastCapture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// FakeCapture feeds its PCM to the callback synchronously on Start, then
// stays silent until stopped. StartErr forces Start to fail.
type FakeCapture struct {
	pcm      []byte
	StartErr error

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	startCnt int
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Start() error {
	if f.StartErr != nil {
		return f.StartErr
	}
	f.mu.Lock()
	f.started = true
	f.startCnt++
	cb := f.cb
	f.mu.Unlock()

	if cb == nil {
		return nil
	}
	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	for pos := 0; pos < len(f.pcm); pos += chunkBytes {
		end := min(pos+chunkBytes, len(f.pcm))
		chunk := make([]byte, end-pos)
		copy(chunk, f.pcm[pos:end])
		cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	}
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *FakeCapture) Close() {}

// Started reports whether the stream is currently open.
func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// StartCount reports how many times the stream was opened.
func (f *FakeCapture) StartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCnt
}
