package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoMicrophone captures mono float32 samples through miniaudio.
type MalgoMicrophone struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func NewMalgoMicrophone() *MalgoMicrophone {
	return &MalgoMicrophone{}
}

func (m *MalgoMicrophone) context() (*malgo.AllocatedContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return m.ctx, nil
	}
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	m.ctx = ctx
	return ctx, nil
}

func (m *MalgoMicrophone) Open(ctx context.Context, sampleRate int) (MicStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		sampleRate = CaptureSampleRate
	}
	actx, err := m.context()
	if err != nil {
		return nil, err
	}

	stream := &malgoStream{}
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			stream.deliver(pInputSamples)
		},
	}
	device, err := malgo.InitDevice(actx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	stream.device = device
	return stream, nil
}

// Close releases the shared miniaudio context.
func (m *MalgoMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	_ = m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return nil
}

type malgoStream struct {
	mu        sync.Mutex
	device    *malgo.Device
	onSamples func([]float32)
	closed    bool
}

func (s *malgoStream) Start(onSamples func([]float32)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("microphone stream is closed")
	}
	s.onSamples = onSamples
	device := s.device
	s.mu.Unlock()
	if err := device.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	return nil
}

func (s *malgoStream) deliver(raw []byte) {
	s.mu.Lock()
	fn := s.onSamples
	closed := s.closed
	s.mu.Unlock()
	if fn == nil || closed {
		return
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	fn(samples)
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.onSamples = nil
	device := s.device
	s.mu.Unlock()
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	return nil
}
