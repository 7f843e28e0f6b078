package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

func ones(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.5
	}
	return s
}

func TestCaptureEncoderEmitsFullFrames(t *testing.T) {
	var chunks []protocol.Chunk
	enc := NewCaptureEncoder(CaptureConfig{Gain: 1}, func(c protocol.Chunk) { chunks = append(chunks, c) })

	enc.Write(ones(1000))
	assert.Empty(t, chunks)

	enc.Write(ones(CaptureBufferSamples*2 - 1000 + 10))
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(2), enc.Frames())
	for _, c := range chunks {
		assert.Len(t, c.Data, CaptureBufferSamples*2)
		assert.Equal(t, protocol.MIMEAudioPCM16k, c.MIMEType)
	}
}

func TestCaptureEncoderMuteRampsToSilence(t *testing.T) {
	var last protocol.Chunk
	enc := NewCaptureEncoder(CaptureConfig{Gain: 1}, func(c protocol.Chunk) { last = c })

	enc.SetMuted(true)
	for i := 0; i < 8; i++ {
		enc.Write(ones(CaptureBufferSamples))
	}
	samples, err := DecodePCM16(last.Data)
	require.NoError(t, err)
	assert.InDelta(t, 0, samples[len(samples)-1], 1e-3)
	assert.InDelta(t, 0, enc.CurrentGain(), 1e-3)
}

func TestCaptureEncoderGainRampIsGradual(t *testing.T) {
	var chunks []protocol.Chunk
	enc := NewCaptureEncoder(CaptureConfig{Gain: 0}, func(c protocol.Chunk) { chunks = append(chunks, c) })

	enc.SetGain(2)
	enc.Write(ones(CaptureBufferSamples))
	require.Len(t, chunks, 1)
	samples, err := DecodePCM16(chunks[0].Data)
	require.NoError(t, err)

	assert.Less(t, samples[0], float32(0.01))
	assert.Greater(t, samples[len(samples)-1], samples[0])
	assert.Less(t, enc.CurrentGain(), 2.0)
}

func TestCaptureEncoderClosedDropsInput(t *testing.T) {
	var n int
	enc := NewCaptureEncoder(CaptureConfig{Gain: 1}, func(protocol.Chunk) { n++ })
	enc.Write(ones(100))
	enc.Close()
	enc.Write(ones(CaptureBufferSamples * 2))
	assert.Zero(t, n)
}

func TestCaptureEncoderCloseDoesNotWaitForBlockedEmit(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	enc := NewCaptureEncoder(CaptureConfig{Gain: 1}, func(protocol.Chunk) {
		close(entered)
		<-release
	})
	defer close(release)

	go enc.Write(ones(CaptureBufferSamples))
	<-entered

	closed := make(chan struct{})
	go func() {
		enc.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind emit")
	}
	assert.Equal(t, int64(1), enc.Frames())
}

func TestClampGain(t *testing.T) {
	assert.Equal(t, 0.0, ClampGain(-1))
	assert.Equal(t, MaxGain, ClampGain(5))
	assert.Equal(t, 1.3, ClampGain(1.3))
}
