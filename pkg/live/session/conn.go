package session

import (
	"context"

	"github.com/vango-go/vai-live/pkg/live/metrics"
	"github.com/vango-go/vai-live/pkg/live/protocol"
)

// Conn is an open bidirectional session with the remote assistant.
type Conn interface {
	SendAudio(ctx context.Context, chunk protocol.Chunk) error
	SendImage(ctx context.Context, chunk protocol.Chunk) error
	SendToolResponse(ctx context.Context, r protocol.ToolResponse) error
	// Receive blocks for the next message. io.EOF means the remote closed
	// the session normally.
	Receive(ctx context.Context) (protocol.ServerMessage, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, setup protocol.SetupConfig) (Conn, error)
}

type DialerFunc func(ctx context.Context, setup protocol.SetupConfig) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, setup protocol.SetupConfig) (Conn, error) {
	return f(ctx, setup)
}

// Adapt turns a transport's concrete Dial method into a Dialer.
func Adapt[C Conn](dial func(context.Context, protocol.SetupConfig) (C, error)) Dialer {
	return DialerFunc(func(ctx context.Context, setup protocol.SetupConfig) (Conn, error) {
		c, err := dial(ctx, setup)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// connSender feeds the outbox writer into a Conn.
type connSender struct {
	conn    Conn
	metrics *metrics.Metrics
}

func (s connSender) SendChunk(ctx context.Context, c protocol.Chunk) error {
	if c.Kind == protocol.ChunkImage {
		if err := s.conn.SendImage(ctx, c); err != nil {
			return err
		}
		s.metrics.RecordImageBytes(len(c.Data))
		return nil
	}
	if err := s.conn.SendAudio(ctx, c); err != nil {
		return err
	}
	s.metrics.RecordAudioBytes("out", len(c.Data))
	return nil
}

func (s connSender) SendToolResponse(ctx context.Context, r protocol.ToolResponse) error {
	return s.conn.SendToolResponse(ctx, r)
}
