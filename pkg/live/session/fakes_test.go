package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/vango-go/vai-live/pkg/live/audio"
	"github.com/vango-go/vai-live/pkg/live/frames"
	"github.com/vango-go/vai-live/pkg/live/location"
	"github.com/vango-go/vai-live/pkg/live/protocol"
)

type fakeMic struct {
	mu      sync.Mutex
	err     error
	opened  int
	streams []*fakeMicStream
}

func (m *fakeMic) Open(_ context.Context, _ int) (audio.MicStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	if m.err != nil {
		return nil, m.err
	}
	s := &fakeMicStream{}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMic) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *fakeMic) last() *fakeMicStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

type fakeMicStream struct {
	mu        sync.Mutex
	onSamples func([]float32)
	closed    int
}

func (s *fakeMicStream) Start(onSamples func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSamples = onSamples
	return nil
}

func (s *fakeMicStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeMicStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// push delivers samples as the device callback would.
func (s *fakeMicStream) push(samples []float32) {
	s.mu.Lock()
	fn := s.onSamples
	s.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type fakeSpeaker struct {
	mu    sync.Mutex
	err   error
	sinks []*fakeSink
}

func (sp *fakeSpeaker) Open() (audio.Sink, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.err != nil {
		return nil, sp.err
	}
	s := &fakeSink{}
	sp.sinks = append(sp.sinks, s)
	return s, nil
}

func (sp *fakeSpeaker) last() *fakeSink {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.sinks) == 0 {
		return nil
	}
	return sp.sinks[len(sp.sinks)-1]
}

type fakeVoice struct {
	mu      *sync.Mutex
	start   time.Duration
	stopped bool
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

type fakeSink struct {
	mu     sync.Mutex
	voices []*fakeVoice
	closed int
}

func (s *fakeSink) Play(_ []float32, at time.Duration) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &fakeVoice{mu: &s.mu, start: at}
	s.voices = append(s.voices, v)
	return v, nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) starts() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.voices))
	for _, v := range s.voices {
		out = append(out, v.start)
	}
	return out
}

func (s *fakeSink) stoppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.voices {
		if v.stopped {
			n++
		}
	}
	return n
}

func (s *fakeSink) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	mu     sync.Mutex
	err    error
	gate   chan struct{}
	setups []protocol.SetupConfig
	conns  []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, setup protocol.SetupConfig) (Conn, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.setups)
}

func (d *fakeDialer) setup(i int) protocol.SetupConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setups[i]
}

func (d *fakeDialer) conn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeConn struct {
	in     chan protocol.ServerMessage
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	audio     []protocol.Chunk
	images    []protocol.Chunk
	responses []protocol.ToolResponse
	closes    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan protocol.ServerMessage, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(_ context.Context, chunk protocol.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, chunk)
	return nil
}

func (c *fakeConn) SendImage(_ context.Context, chunk protocol.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = append(c.images, chunk)
	return nil
}

func (c *fakeConn) SendToolResponse(_ context.Context, r protocol.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, r)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (protocol.ServerMessage, error) {
	select {
	case m := <-c.in:
		return m, nil
	case err := <-c.errs:
		return protocol.ServerMessage{}, err
	case <-c.closed:
		return protocol.ServerMessage{}, errors.New("fake conn closed")
	case <-ctx.Done():
		return protocol.ServerMessage{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentAudio() []protocol.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Chunk(nil), c.audio...)
}

func (c *fakeConn) sentImages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

func (c *fakeConn) sentResponses() []protocol.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ToolResponse(nil), c.responses...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeScreen struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (s *fakeScreen) Open(context.Context) (frames.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	st := &fakeStream{done: make(chan struct{})}
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *fakeScreen) last() *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.streams) == 0 {
		return nil
	}
	return s.streams[len(s.streams)-1]
}

type fakeStream struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Grab(context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 8, 4)), nil
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// end simulates the user revoking the capture from outside the app.
func (s *fakeStream) end() { s.once.Do(func() { close(s.done) }) }

type fakeEncoder struct{}

func (fakeEncoder) Encode(image.Image) ([]byte, error) { return []byte{0xff, 0xd8, 0xff}, nil }

type failingLocator struct{ err error }

func (f failingLocator) Locate(context.Context) (location.Location, error) {
	return location.Location{}, f.err
}

// switchLocator answers with a fix until fail is called.
type switchLocator struct {
	mu  sync.Mutex
	loc location.Location
	err error
}

func (s *switchLocator) Locate(context.Context) (location.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return location.Location{}, s.err
	}
	return s.loc, nil
}

func (s *switchLocator) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}
