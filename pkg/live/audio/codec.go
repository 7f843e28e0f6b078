package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const (
	CaptureSampleRate    = 16000
	PlaybackSampleRate   = 24000
	CaptureBufferSamples = 4096
)

var ErrDecode = errors.New("audio decode failed")

// EncodePCM16 converts float samples in [-1, 1] to little-endian signed 16-bit
// PCM. Out-of-range samples are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to float samples.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd payload length %d", ErrDecode, len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out, nil
}

// EncodeBase64Chunk is the text form used by JSON transports.
func EncodeBase64Chunk(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

func DecodeBase64Chunk(s string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return DecodePCM16(raw)
}

// CaptureChunk wraps one captured frame for the outbound queue.
func CaptureChunk(samples []float32) protocol.Chunk {
	return protocol.Chunk{
		Kind:     protocol.ChunkAudio,
		Data:     EncodePCM16(samples),
		MIMEType: protocol.MIMEAudioPCM16k,
	}
}

// SampleDuration returns the playback duration of n mono samples.
func SampleDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// SamplesFor returns the number of mono samples covering d.
func SamplesFor(d time.Duration, sampleRate int) int {
	if sampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
