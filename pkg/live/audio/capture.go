package audio

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

// Microphone grants access to an input device. Open is the permission step:
// it fails when access is denied or no device exists.
type Microphone interface {
	Open(ctx context.Context, sampleRate int) (MicStream, error)
}

// MicStream is an opened input device. Samples flow to onSamples only after
// Start; Close releases the device and is safe to call more than once.
type MicStream interface {
	Start(onSamples func([]float32)) error
	Close() error
}

type CaptureConfig struct {
	SampleRate   int
	FrameSamples int
	GainRamp     time.Duration
	Gain         float64
	Muted        bool
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = CaptureSampleRate
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = CaptureBufferSamples
	}
	if c.GainRamp <= 0 {
		c.GainRamp = DefaultGainRamp
	}
	return c
}

// CaptureEncoder turns raw microphone samples into fixed-size encoded chunks.
// Write may be called from a device thread; SetGain and SetMuted from any
// goroutine. Chunks are emitted in capture order.
type CaptureEncoder struct {
	cfg  CaptureConfig
	emit func(protocol.Chunk)

	gainBits atomic.Uint64
	muted    atomic.Bool
	closed   atomic.Bool

	// emitMu orders emission across Write calls; mu guards the frame
	// buffer only, so Close never waits on a blocked emit.
	emitMu sync.Mutex
	mu     sync.Mutex
	ramp   *GainRamp
	buf  []float32
	sent int64
}

func NewCaptureEncoder(cfg CaptureConfig, emit func(protocol.Chunk)) *CaptureEncoder {
	cfg = cfg.withDefaults()
	e := &CaptureEncoder{
		cfg:  cfg,
		emit: emit,
		buf:  make([]float32, 0, cfg.FrameSamples),
	}
	e.gainBits.Store(math.Float64bits(ClampGain(cfg.Gain)))
	e.muted.Store(cfg.Muted)
	e.ramp = NewGainRamp(cfg.SampleRate, cfg.GainRamp, e.effectiveGain())
	return e
}

func (e *CaptureEncoder) SetGain(g float64) {
	e.gainBits.Store(math.Float64bits(ClampGain(g)))
}

// SetMuted forces the effective gain to zero without stopping the pipeline.
func (e *CaptureEncoder) SetMuted(muted bool) {
	e.muted.Store(muted)
}

func (e *CaptureEncoder) effectiveGain() float64 {
	if e.muted.Load() {
		return 0
	}
	return math.Float64frombits(e.gainBits.Load())
}

// Write accepts any number of samples and emits one chunk per full frame.
func (e *CaptureEncoder) Write(samples []float32) {
	if e == nil || e.closed.Load() || len(samples) == 0 {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	for _, frame := range e.fill(samples) {
		if e.closed.Load() {
			return
		}
		if e.emit != nil {
			e.emit(CaptureChunk(frame))
		}
	}
}

// fill buffers samples and returns every completed frame with gain applied.
func (e *CaptureEncoder) fill(samples []float32) [][]float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var frames [][]float32
	for len(samples) > 0 {
		room := e.cfg.FrameSamples - len(e.buf)
		n := min(room, len(samples))
		e.buf = append(e.buf, samples[:n]...)
		samples = samples[n:]
		if len(e.buf) < e.cfg.FrameSamples {
			break
		}
		frame := make([]float32, len(e.buf))
		copy(frame, e.buf)
		e.buf = e.buf[:0]

		e.ramp.SetTarget(e.effectiveGain())
		e.ramp.Apply(frame)
		if e.closed.Load() {
			break
		}
		e.sent++
		frames = append(frames, frame)
	}
	return frames
}

// Frames reports how many chunks have been emitted.
func (e *CaptureEncoder) Frames() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

// CurrentGain is the ramp's instantaneous gain.
func (e *CaptureEncoder) CurrentGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ramp.Current()
}

// Close stops emission; a partial frame is discarded.
func (e *CaptureEncoder) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	e.mu.Lock()
	e.buf = e.buf[:0]
	e.mu.Unlock()
}
