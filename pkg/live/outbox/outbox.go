// Package outbox holds the outbound queues of one live session.
//
// Each producer (microphone capture, screen frames, tool responses) owns a
// bounded FIFO. Producers may enqueue before the connection is open; Run is the
// ready signal and drains the queues onto the connection, tool responses first.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

var (
	// ErrBackpressure means a producer's queue is full. Nothing is dropped
	// silently: the session treats it as a link failure.
	ErrBackpressure = errors.New("outbox: queue full")
	ErrClosed       = errors.New("outbox: closed")
)

const (
	DefaultAudioQueue = 512
	DefaultImageQueue = 32
	DefaultToolQueue  = 64
)

// Source names a producer.
type Source int

const (
	SourceAudio Source = iota
	SourceImage
	SourceTool
)

func (s Source) String() string {
	switch s {
	case SourceAudio:
		return "audio"
	case SourceImage:
		return "image"
	case SourceTool:
		return "tool"
	default:
		return "unknown"
	}
}

// Sender is the open connection the writer drains into.
type Sender interface {
	SendChunk(ctx context.Context, c protocol.Chunk) error
	SendToolResponse(ctx context.Context, r protocol.ToolResponse) error
}

type Config struct {
	AudioQueue int
	ImageQueue int
	ToolQueue  int
}

type Outbox struct {
	audio chan protocol.Chunk
	image chan protocol.Chunk
	tools chan protocol.ToolResponse

	closed  atomic.Bool
	running atomic.Bool
}

func New(cfg Config) *Outbox {
	if cfg.AudioQueue <= 0 {
		cfg.AudioQueue = DefaultAudioQueue
	}
	if cfg.ImageQueue <= 0 {
		cfg.ImageQueue = DefaultImageQueue
	}
	if cfg.ToolQueue <= 0 {
		cfg.ToolQueue = DefaultToolQueue
	}
	return &Outbox{
		audio: make(chan protocol.Chunk, cfg.AudioQueue),
		image: make(chan protocol.Chunk, cfg.ImageQueue),
		tools: make(chan protocol.ToolResponse, cfg.ToolQueue),
	}
}

// EnqueueChunk never blocks. Safe for concurrent use; each kind of chunk keeps
// its own order.
func (o *Outbox) EnqueueChunk(c protocol.Chunk) error {
	if o.closed.Load() {
		return ErrClosed
	}
	q := o.audio
	src := SourceAudio
	if c.Kind == protocol.ChunkImage {
		q = o.image
		src = SourceImage
	}
	select {
	case q <- c:
		return nil
	default:
		return fmt.Errorf("%w (%s, %d queued)", ErrBackpressure, src, len(q))
	}
}

func (o *Outbox) EnqueueToolResponse(r protocol.ToolResponse) error {
	if o.closed.Load() {
		return ErrClosed
	}
	select {
	case o.tools <- r:
		return nil
	default:
		return fmt.Errorf("%w (%s, %d queued)", ErrBackpressure, SourceTool, len(o.tools))
	}
}

// Pending reports how many items wait in a source's queue.
func (o *Outbox) Pending(src Source) int {
	switch src {
	case SourceAudio:
		return len(o.audio)
	case SourceImage:
		return len(o.image)
	case SourceTool:
		return len(o.tools)
	default:
		return 0
	}
}

// Run writes queued items to s until ctx is done or a send fails. Tool
// responses preempt media chunks. Run may be called once.
func (o *Outbox) Run(ctx context.Context, s Sender) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("outbox: already running")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if o.closed.Load() {
			return nil
		}

		// Hard priority: drain tool responses before touching media.
		select {
		case r := <-o.tools:
			if err := s.SendToolResponse(ctx, r); err != nil {
				return fmt.Errorf("send tool response %s: %w", r.InvocationID, err)
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case r := <-o.tools:
			if err := s.SendToolResponse(ctx, r); err != nil {
				return fmt.Errorf("send tool response %s: %w", r.InvocationID, err)
			}
		case c := <-o.audio:
			if err := s.SendChunk(ctx, c); err != nil {
				return fmt.Errorf("send audio chunk: %w", err)
			}
		case c := <-o.image:
			if err := s.SendChunk(ctx, c); err != nil {
				return fmt.Errorf("send image chunk: %w", err)
			}
		}
	}
}

// Clear discards everything queued and returns how many items were dropped.
func (o *Outbox) Clear() int {
	n := 0
	for {
		select {
		case <-o.audio:
		case <-o.image:
		case <-o.tools:
		default:
			return n
		}
		n++
	}
}

// Close rejects further enqueues and clears the queues.
func (o *Outbox) Close() int {
	o.closed.Store(true)
	return o.Clear()
}
