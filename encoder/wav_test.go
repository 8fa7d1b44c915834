package encoder

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	out := EncodeWAV(pcm, 16000)

	if len(out) != headerSize+len(pcm) {
		t.Fatalf("length = %d, want %d", len(out), headerSize+len(pcm))
	}
	if !bytes.Equal(out[0:4], []byte("RIFF")) || !bytes.Equal(out[8:12], []byte("WAVE")) {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(out[4:]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d", got)
	}
	if got := binary.LittleEndian.Uint16(out[20:]); got != 1 {
		t.Errorf("format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(out[22:]); got != Channels {
		t.Errorf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[24:]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:]); got != 32000 {
		t.Errorf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(out[34:]); got != BitsPerSample {
		t.Errorf("bits per sample = %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d", got)
	}
	if !bytes.Equal(out[headerSize:], pcm) {
		t.Fatal("payload mismatch")
	}
}

func TestEncodeWAVEmptyPayload(t *testing.T) {
	out := EncodeWAV(nil, 22050)
	if len(out) != headerSize {
		t.Fatalf("length = %d, want %d", len(out), headerSize)
	}
	if got := binary.LittleEndian.Uint32(out[40:]); got != 0 {
		t.Errorf("data size = %d, want 0", got)
	}
}
