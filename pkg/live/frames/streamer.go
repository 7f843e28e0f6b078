package frames

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-go/vai-live/pkg/live/clock"
	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const DefaultPeriod = time.Second

type Dependencies struct {
	Clock   clock.Clock
	Post    func(func())
	Encoder Encoder
	Logger  *slog.Logger

	// Emit receives every encoded frame, on the owner loop.
	Emit func(protocol.Chunk)
	// Ended runs on the owner loop when the stream finishes on its own.
	Ended func()
	// Skipped runs on the owner loop for every tick dropped behind a slow
	// encode.
	Skipped func()
}

// Streamer ticks at Period while a stream is attached, keeping at most one
// grab+encode in flight. It is owned by a single loop goroutine; Post must
// deliver onto that loop.
type Streamer struct {
	deps   Dependencies
	period time.Duration

	stream   Stream
	gen      uint64
	timer    clock.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	inFlight bool
	sent     int
	skipped  int
}

func NewStreamer(deps Dependencies, period time.Duration) *Streamer {
	if deps.Clock == nil {
		deps.Clock = clock.NewReal()
	}
	if deps.Post == nil {
		deps.Post = func(fn func()) { fn() }
	}
	if deps.Encoder == nil {
		deps.Encoder = NewJPEGEncoder()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Streamer{deps: deps, period: period}
}

func (s *Streamer) Active() bool { return s.stream != nil }

func (s *Streamer) InFlight() bool { return s.inFlight }

// Stats reports frames emitted and ticks skipped since the last Start.
func (s *Streamer) Stats() (sent, skipped int) { return s.sent, s.skipped }

// Start attaches stream and begins ticking. A previous stream is released
// first.
func (s *Streamer) Start(stream Stream) {
	s.Stop()
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.stream = stream
	s.ctx = ctx
	s.cancel = cancel
	s.inFlight = false
	s.sent, s.skipped = 0, 0

	go func() {
		select {
		case <-stream.Done():
			s.deps.Post(func() { s.ended(gen) })
		case <-ctx.Done():
		}
	}()
	s.arm(gen)
}

// Stop releases the stream and the timer. Safe to call when idle.
func (s *Streamer) Stop() {
	if s.stream == nil {
		return
	}
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.ctx = nil
	}
	if err := s.stream.Close(); err != nil {
		s.deps.Logger.Debug("screen stream close failed", "error", err)
	}
	s.stream = nil
	s.inFlight = false
}

func (s *Streamer) arm(gen uint64) {
	s.timer = s.deps.Clock.AfterFunc(s.period, func() {
		s.deps.Post(func() { s.tick(gen) })
	})
}

func (s *Streamer) tick(gen uint64) {
	if gen != s.gen || s.stream == nil {
		return
	}
	s.arm(gen)

	if s.inFlight {
		s.skipped++
		if s.deps.Skipped != nil {
			s.deps.Skipped()
		}
		return
	}
	s.inFlight = true

	stream, enc, ctx := s.stream, s.deps.Encoder, s.ctx
	go func() {
		var data []byte
		img, err := stream.Grab(ctx)
		if err == nil {
			data, err = enc.Encode(img)
		}
		s.deps.Post(func() { s.finish(gen, data, err) })
	}()
}

func (s *Streamer) finish(gen uint64, data []byte, err error) {
	if gen != s.gen {
		return
	}
	s.inFlight = false
	if err != nil {
		s.deps.Logger.Debug("dropping screen frame", "error", err)
		return
	}
	s.sent++
	if s.deps.Emit != nil {
		s.deps.Emit(ImageChunk(data))
	}
}

func (s *Streamer) ended(gen uint64) {
	if gen != s.gen || s.stream == nil {
		return
	}
	s.Stop()
	if s.deps.Ended != nil {
		s.deps.Ended()
	}
}
