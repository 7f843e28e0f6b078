package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSpeaker owns the process-wide oto context; oto allows only one.
type OtoSpeaker struct {
	ctx        *oto.Context
	sampleRate int
}

func NewOtoSpeaker(sampleRate int) (*OtoSpeaker, error) {
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	// 100ms of 16-bit mono keeps latency low without glitching.
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &OtoSpeaker{ctx: ctx, sampleRate: sampleRate}, nil
}

func (s *OtoSpeaker) Open() (Sink, error) {
	if s == nil || s.ctx == nil {
		return nil, errors.New("speaker is not initialized")
	}
	sink := &otoSink{otoCtx: s.ctx, buf: make([]byte, 0, s.sampleRate*4)}
	sink.cond = sync.NewCond(&sink.mu)
	return sink, nil
}

// otoSink plays segments from one growing buffer. The scheduler already places
// segments back to back, so appending in arrival order is gapless; an
// interrupt flushes the buffer and the player.
type otoSink struct {
	otoCtx *oto.Context
	player *oto.Player

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	gen     uint64
	playing bool
	closed  bool
}

type otoVoice struct {
	sink *otoSink
	gen  uint64
}

func (v otoVoice) Stop() { v.sink.flush(v.gen) }

func (s *otoSink) Play(samples []float32, _ time.Duration) (Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("speaker sink is closed")
	}
	s.buf = append(s.buf, EncodePCM16(samples)...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return otoVoice{sink: s, gen: s.gen}, nil
}

// Read feeds the oto player.
func (s *otoSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed && s.playing {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		clear(p)
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// flush discards buffered audio once per generation; every voice of a
// generation shares the same buffer.
func (s *otoSink) flush(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		_ = player.Close()
	}
}

func (s *otoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		return player.Close()
	}
	return nil
}
