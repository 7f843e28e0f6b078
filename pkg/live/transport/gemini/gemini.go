// Package gemini adapts the Gemini Live API (google.golang.org/genai) to the
// session transport.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// liveSession is the subset of *genai.Session the adapter drives.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

type Dialer struct {
	connect connectFunc
	model   string
	logger  *slog.Logger
}

// NewDialer builds a Gemini API client for apiKey.
func NewDialer(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Dialer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	connect := func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
		return client.Live.Connect(ctx, model, cfg)
	}
	return newDialer(connect, model, logger), nil
}

func newDialer(connect connectFunc, model string, logger *slog.Logger) *Dialer {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{connect: connect, model: model, logger: logger}
}

func (d *Dialer) Dial(ctx context.Context, setup protocol.SetupConfig) (*Conn, error) {
	model := setup.Model
	if strings.TrimSpace(model) == "" {
		model = d.model
	}
	session, err := d.connect(ctx, model, buildConnectConfig(setup))
	if err != nil {
		return nil, fmt.Errorf("gemini live connect: %w", err)
	}
	return &Conn{
		session: session,
		logger:  d.logger.With("session_id", setup.SessionID, "model", model),
		done:    make(chan struct{}),
	}, nil
}

func buildConnectConfig(setup protocol.SetupConfig) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{}

	for _, m := range setup.ResponseModalities {
		cfg.ResponseModalities = append(cfg.ResponseModalities, genai.Modality(m))
	}
	if len(cfg.ResponseModalities) == 0 {
		cfg.ResponseModalities = []genai.Modality{genai.ModalityAudio}
	}
	if setup.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	if strings.TrimSpace(setup.SystemInstruction) != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: setup.SystemInstruction}}}
	}
	if setup.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if setup.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	if len(setup.Functions) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(setup.Functions))
		for _, fn := range setup.Functions {
			decls = append(decls, functionDeclaration(fn))
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if setup.GoogleSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if setup.GoogleMaps {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
	}
	return cfg
}

func functionDeclaration(fn protocol.FunctionSpec) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(fn.Parameters))
	for name, p := range fn.Parameters {
		props[name] = &genai.Schema{Type: genai.TypeString, Description: p.Description}
	}
	return &genai.FunctionDeclaration{
		Name:        fn.Name,
		Description: fn.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   fn.Required,
		},
	}
}

// Conn is one Gemini Live session.
type Conn struct {
	session liveSession
	logger  *slog.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *Conn) SendAudio(ctx context.Context, chunk protocol.Chunk) error {
	return c.send(ctx, func() error {
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType},
		})
	})
}

func (c *Conn) SendImage(ctx context.Context, chunk protocol.Chunk) error {
	return c.send(ctx, func() error {
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Video: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType},
		})
	})
}

func (c *Conn) SendToolResponse(ctx context.Context, r protocol.ToolResponse) error {
	return c.send(ctx, func() error {
		return c.session.SendToolResponse(genai.LiveToolResponseInput{
			FunctionResponses: []*genai.FunctionResponse{{
				ID:       r.InvocationID,
				Name:     r.Name,
				Response: map[string]any{"result": r.Result},
			}},
		})
	})
}

func (c *Conn) send(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.New("gemini session is closed")
	default:
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return fn()
}

// Receive returns the next message that carries something actionable. A
// normal close returns io.EOF.
func (c *Conn) Receive(ctx context.Context) (protocol.ServerMessage, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		msg, err := c.session.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return protocol.ServerMessage{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.ServerMessage{}, io.EOF
			}
			return protocol.ServerMessage{}, fmt.Errorf("gemini receive: %w", err)
		}
		if msg == nil {
			continue
		}
		if msg.GoAway != nil {
			c.logger.Warn("gemini session going away")
		}
		out := toServerMessage(msg)
		if out.Empty() {
			continue
		}
		return out, nil
	}
}

func toServerMessage(msg *genai.LiveServerMessage) protocol.ServerMessage {
	var out protocol.ServerMessage
	if msg.SetupComplete != nil {
		out.SetupComplete = true
	}
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, protocol.InvocationFromArgs(fc.ID, fc.Name, fc.Args))
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	if gm := sc.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil {
				continue
			}
			if chunk.Web != nil {
				out.Sources = append(out.Sources, protocol.Source{Kind: protocol.SourceWeb, URI: chunk.Web.URI, Title: chunk.Web.Title})
			}
			if chunk.Maps != nil {
				out.Sources = append(out.Sources, protocol.Source{Kind: protocol.SourceMaps, URI: chunk.Maps.URI, Title: chunk.Maps.Title})
			}
		}
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		out.Transcripts = append(out.Transcripts, protocol.Transcript{Role: protocol.RoleAI, Text: t.Text})
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		out.Transcripts = append(out.Transcripts, protocol.Transcript{Role: protocol.RoleUser, Text: t.Text})
	}
	if turn := sc.ModelTurn; turn != nil {
		for _, part := range turn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime != "" && !strings.HasPrefix(mime, "audio/") {
				continue
			}
			out.Audio = append(out.Audio, part.InlineData.Data)
		}
	}
	out.Interrupted = sc.Interrupted
	return out
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.session.Close()
	})
	return err
}
