package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

func TestEncodePCM16Bounds(t *testing.T) {
	out := EncodePCM16([]float32{0, 1, -1, 2, -3})
	require.Len(t, out, 10)

	samples, err := DecodePCM16(out)
	require.NoError(t, err)
	assert.Equal(t, float32(0), samples[0])
	assert.InDelta(t, 32767.0/32768.0, samples[1], 1e-6)
	assert.Equal(t, float32(-1), samples[2])
	assert.Equal(t, samples[1], samples[3])
	assert.Equal(t, float32(-1), samples[4])
}

func TestPCM16RoundTripWithinOneStep(t *testing.T) {
	in := []float32{0.5, -0.25, 0.001, -0.999}
	out, err := DecodePCM16(EncodePCM16(in))
	require.NoError(t, err)
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1.0/32768)
	}
}

func TestDecodePCM16RejectsMalformed(t *testing.T) {
	_, err := DecodePCM16(nil)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = DecodePCM16([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = DecodeBase64Chunk("not base64!")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestBase64Chunk(t *testing.T) {
	enc := EncodeBase64Chunk([]float32{0.5, -0.5})
	dec, err := DecodeBase64Chunk(enc)
	require.NoError(t, err)
	assert.Len(t, dec, 2)
}

func TestCaptureChunkShape(t *testing.T) {
	c := CaptureChunk(make([]float32, CaptureBufferSamples))
	assert.Equal(t, protocol.ChunkAudio, c.Kind)
	assert.Equal(t, protocol.MIMEAudioPCM16k, c.MIMEType)
	assert.Len(t, c.Data, CaptureBufferSamples*2)
}

func TestSampleDuration(t *testing.T) {
	assert.Equal(t, time.Second, SampleDuration(PlaybackSampleRate, PlaybackSampleRate))
	assert.Equal(t, 256*time.Millisecond, SampleDuration(CaptureBufferSamples, CaptureSampleRate))
	assert.Equal(t, time.Duration(0), SampleDuration(10, 0))
	assert.Equal(t, 12000, SamplesFor(500*time.Millisecond, PlaybackSampleRate))
}
