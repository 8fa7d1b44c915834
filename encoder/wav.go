// Package encoder writes captured audio as single-channel 16-bit
// little-endian PCM WAV, the format the transcription backend consumes.
package encoder

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	Channels      = 1
	BitsPerSample = 16

	headerSize = 44
)

// EncodeWAV prepends a RIFF header to raw little-endian PCM16 samples.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	byteRate := sampleRate * Channels * BitsPerSample / 8
	blockAlign := Channels * BitsPerSample / 8

	buf := make([]byte, headerSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:], Channels)
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[headerSize:], pcm)
	return buf
}

// WriteWAV writes pcm to path as a WAV file.
func WriteWAV(path string, pcm []byte, sampleRate int) error {
	if err := os.WriteFile(path, EncodeWAV(pcm, sampleRate), 0600); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}
