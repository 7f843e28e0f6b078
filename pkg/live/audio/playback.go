package audio

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vango-go/vai-live/pkg/live/clock"
)

// Voice is one scheduled sound on a Sink.
type Voice interface {
	Stop()
}

// Sink is an opened output device that can start samples at a point on the
// session clock.
type Sink interface {
	Play(samples []float32, at time.Duration) (Voice, error)
	Close() error
}

// Speaker opens a Sink for one session.
type Speaker interface {
	Open() (Sink, error)
}

// Segment is one decoded inbound buffer on the playback timeline.
type Segment struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration

	voice Voice
	timer clock.Timer
}

func (s *Segment) End() time.Duration { return s.Start + s.Duration }

// Scheduler places inbound audio back to back on a monotonic timeline.
// It is not safe for concurrent use: every method must run on the goroutine
// that owns it, and post must deliver callbacks onto that same goroutine.
type Scheduler struct {
	clock      clock.Clock
	sink       Sink
	post       func(func())
	sampleRate int
	logger     *slog.Logger
	onSpeaking func(bool)

	cursor  time.Duration
	nextID  uint64
	pending map[uint64]*Segment
}

type SchedulerOption func(*Scheduler)

func WithSampleRate(hz int) SchedulerOption {
	return func(s *Scheduler) {
		if hz > 0 {
			s.sampleRate = hz
		}
	}
}

func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSpeakingFunc registers a callback for transitions of Speaking.
func WithSpeakingFunc(fn func(bool)) SchedulerOption {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

func NewScheduler(clk clock.Clock, sink Sink, post func(func()), opts ...SchedulerOption) *Scheduler {
	if post == nil {
		post = func(fn func()) { fn() }
	}
	s := &Scheduler{
		clock:      clk,
		sink:       sink,
		post:       post,
		sampleRate: PlaybackSampleRate,
		logger:     slog.Default(),
		pending:    make(map[uint64]*Segment),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue decodes pcm and schedules it at max(cursor, now). A decode or sink
// failure drops this segment only; the timeline is left untouched.
func (s *Scheduler) Enqueue(pcm []byte) (*Segment, error) {
	samples, err := DecodePCM16(pcm)
	if err != nil {
		s.logger.Warn("dropping undecodable audio segment", "bytes", len(pcm), "error", err)
		return nil, err
	}
	d := SampleDuration(len(samples), s.sampleRate)
	now := s.clock.Now()
	start := max(s.cursor, now)

	voice, err := s.sink.Play(samples, start)
	if err != nil {
		s.logger.Warn("dropping audio segment the sink refused", "error", err)
		return nil, fmt.Errorf("schedule segment: %w", err)
	}

	s.nextID++
	seg := &Segment{ID: s.nextID, Start: start, Duration: d, voice: voice}
	s.cursor = seg.End()

	id := seg.ID
	seg.timer = s.clock.AfterFunc(seg.End()-now, func() {
		s.post(func() { s.finish(id) })
	})

	wasIdle := len(s.pending) == 0
	s.pending[id] = seg
	if wasIdle {
		s.notify(true)
	}
	return seg, nil
}

func (s *Scheduler) finish(id uint64) {
	if _, ok := s.pending[id]; !ok {
		return
	}
	delete(s.pending, id)
	if len(s.pending) == 0 {
		s.notify(false)
	}
}

// Interrupt stops every pending or playing segment and rewinds the cursor so
// the next segment starts relative to now. It returns how many segments were
// stopped; with nothing pending it changes nothing.
func (s *Scheduler) Interrupt() int {
	if len(s.pending) == 0 {
		return 0
	}
	n := len(s.pending)
	for id, seg := range s.pending {
		if seg.timer != nil {
			seg.timer.Stop()
		}
		if seg.voice != nil {
			seg.voice.Stop()
		}
		delete(s.pending, id)
	}
	s.cursor = 0
	s.notify(false)
	return n
}

// Reset is the teardown form of Interrupt: it always leaves the cursor at zero.
func (s *Scheduler) Reset() {
	s.Interrupt()
	s.cursor = 0
}

func (s *Scheduler) Speaking() bool { return len(s.pending) > 0 }

func (s *Scheduler) Pending() int { return len(s.pending) }

func (s *Scheduler) Cursor() time.Duration { return s.cursor }

func (s *Scheduler) notify(speaking bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}
