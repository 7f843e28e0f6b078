package relay

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

type peer struct {
	t        *testing.T
	setup    chan protocol.ClientSetup
	received chan any
	script   func(p *peer, ws *websocket.Conn)
	auth     chan string
}

func newPeer(t *testing.T, script func(p *peer, ws *websocket.Conn)) (*peer, *httptest.Server) {
	p := &peer{
		t:        t,
		setup:    make(chan protocol.ClientSetup, 1),
		received: make(chan any, 16),
		auth:     make(chan string, 1),
		script:   script,
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.auth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		decoded, err := protocol.DecodeClientMessage(data)
		if err != nil {
			return
		}
		if setup, ok := decoded.(protocol.ClientSetup); ok {
			p.setup <- setup
		}
		p.script(p, ws)
	}))
	return p, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendsSetupAndStreams(t *testing.T) {
	p, srv := newPeer(t, func(p *peer, ws *websocket.Conn) {
		_ = ws.WriteJSON(protocol.ServerSetupComplete{Type: "setup_complete"})
		_ = ws.WriteJSON(protocol.ServerToolCall{Type: "tool_call", Invocations: []protocol.WireInvocation{{
			ID: "call-1", Name: "control_system", Args: map[string]any{"action": "activate_agent", "target": "nav"},
		}}})
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))
		_ = ws.WriteJSON(protocol.ServerAudio{Type: "audio", DataB64: base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})})

		for i := 0; i < 2; i++ {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			decoded, err := protocol.DecodeClientMessage(data)
			if err == nil {
				p.received <- decoded
			}
		}
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	d := NewDialer(Config{URL: wsURL(srv), APIKey: "secret"}, nil)
	conn, err := d.Dial(context.Background(), protocol.SetupConfig{SessionID: "s-1", Model: "m", Voice: "Zephyr"})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer secret", <-p.auth)
	setup := <-p.setup
	assert.Equal(t, "s-1", setup.SessionID)
	assert.Equal(t, "Zephyr", setup.Voice)

	ctx := context.Background()
	msg, err := conn.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call-1", msg.ToolCalls[0].ID)
	assert.Equal(t, "nav", msg.ToolCalls[0].Target)

	// The undecodable frame is skipped.
	msg, err = conn.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msg.Audio, 1)
	assert.Equal(t, []byte{1, 0, 2, 0}, msg.Audio[0])

	require.NoError(t, conn.SendToolResponse(ctx, protocol.ToolResponse{InvocationID: "call-1", Name: "control_system", Result: "ok"}))
	require.NoError(t, conn.SendAudio(ctx, protocol.Chunk{Kind: protocol.ChunkAudio, Data: []byte{0, 0}, MIMEType: protocol.MIMEAudioPCM16k}))

	first := <-p.received
	resp, ok := first.(protocol.ClientToolResponse)
	require.True(t, ok, "got %T", first)
	assert.Equal(t, "call-1", resp.InvocationID)
	second := <-p.received
	chunk, ok := second.(protocol.ClientChunk)
	require.True(t, ok, "got %T", second)
	assert.Equal(t, "audio_chunk", chunk.Type)

	_, err = conn.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDialRejectedBySetupError(t *testing.T) {
	_, srv := newPeer(t, func(p *peer, ws *websocket.Conn) {
		_ = ws.WriteJSON(protocol.ServerError{Type: "error", Code: "unauthorized", Message: "bad key"})
	})
	defer srv.Close()

	_, err := NewDialer(Config{URL: wsURL(srv)}, nil).Dial(context.Background(), protocol.SetupConfig{Model: "m"})
	require.Error(t, err)
	var se protocol.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "unauthorized", se.Code)
}

func TestReceiveSurfacesRemoteError(t *testing.T) {
	_, srv := newPeer(t, func(p *peer, ws *websocket.Conn) {
		_ = ws.WriteJSON(protocol.ServerSetupComplete{Type: "setup_complete"})
		_ = ws.WriteJSON(protocol.ServerError{Type: "error", Code: "internal", Message: "boom"})
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	conn, err := NewDialer(Config{URL: wsURL(srv)}, nil).Dial(context.Background(), protocol.SetupConfig{Model: "m"})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Receive(context.Background())
	var se protocol.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "boom", se.Message)
}

func TestReceiveUnblocksOnContextCancel(t *testing.T) {
	release := make(chan struct{})
	_, srv := newPeer(t, func(p *peer, ws *websocket.Conn) {
		_ = ws.WriteJSON(protocol.ServerSetupComplete{Type: "setup_complete"})
		<-release
	})
	defer srv.Close()
	defer close(release)

	conn, err := NewDialer(Config{URL: wsURL(srv)}, nil).Dial(context.Background(), protocol.SetupConfig{Model: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Receive(ctx)
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}
	assert.ErrorIs(t, conn.SendAudio(context.Background(), protocol.Chunk{}), ErrClosed)
	assert.NoError(t, conn.Close())
}

func TestDialAbortsHandshakeOnCancel(t *testing.T) {
	release := make(chan struct{})
	p, srv := newPeer(t, func(p *peer, ws *websocket.Conn) { <-release })
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := NewDialer(Config{URL: wsURL(srv), HandshakeTimeout: 10 * time.Second}, nil).Dial(ctx, protocol.SetupConfig{Model: "m"})
		errCh <- err
	}()

	select {
	case <-p.setup:
	case <-time.After(2 * time.Second):
		t.Fatal("setup was not sent")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Dial did not return after cancel")
	}
}

func TestDialRequiresURL(t *testing.T) {
	_, err := NewDialer(Config{}, nil).Dial(context.Background(), protocol.SetupConfig{Model: "m"})
	assert.Error(t, err)
}
