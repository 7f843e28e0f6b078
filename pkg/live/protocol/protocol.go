// Package protocol defines the transport-neutral messages exchanged with the
// remote assistant, plus the JSON wire format spoken by the relay transport.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	MIMEAudioPCM16k = "audio/pcm;rate=16000"
	MIMEImageJPEG   = "image/jpeg"

	ModalityAudio = "AUDIO"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ChunkKind identifies the producer of an outbound media chunk.
type ChunkKind int

const (
	ChunkAudio ChunkKind = iota
	ChunkImage
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkAudio:
		return "audio"
	case ChunkImage:
		return "image"
	default:
		return "unknown"
	}
}

// Chunk is one encoded unit of realtime input.
type Chunk struct {
	Kind     ChunkKind
	Data     []byte
	MIMEType string
}

// ToolInvocation is one remote request to run a local action.
type ToolInvocation struct {
	ID      string
	Name    string
	Action  string
	Target  string
	Status  string
	Message string
}

// InvocationFromArgs extracts the string-typed control fields from a function
// call's argument object. Non-string values are ignored.
func InvocationFromArgs(id, name string, args map[string]any) ToolInvocation {
	str := func(key string) string {
		v, ok := args[key].(string)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}
	return ToolInvocation{
		ID:      id,
		Name:    name,
		Action:  str("action"),
		Target:  str("target"),
		Status:  str("status"),
		Message: str("message"),
	}
}

// ToolResponse answers exactly one ToolInvocation.
type ToolResponse struct {
	InvocationID string
	Name         string
	Result       string
}

type SourceKind string

const (
	SourceWeb  SourceKind = "web"
	SourceMaps SourceKind = "maps"
)

// Source is one grounding/citation record attached to a model turn.
type Source struct {
	Kind  SourceKind
	URI   string
	Title string
}

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

type Transcript struct {
	Role Role
	Text string
}

// ServerMessage is one inbound message after transport decoding. A single
// message may carry several parts; the orchestrator handles them in a fixed
// order.
type ServerMessage struct {
	SetupComplete bool
	Sources       []Source
	ToolCalls     []ToolInvocation
	Transcripts   []Transcript
	Audio         [][]byte
	Interrupted   bool
}

// Empty reports whether the message carries nothing the orchestrator acts on.
func (m ServerMessage) Empty() bool {
	return !m.SetupComplete && len(m.Sources) == 0 && len(m.ToolCalls) == 0 &&
		len(m.Transcripts) == 0 && len(m.Audio) == 0 && !m.Interrupted
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ParamSpec describes one string parameter of an advertised function.
type ParamSpec struct {
	Description string `json:"description"`
}

// FunctionSpec is a callable advertised to the peer.
type FunctionSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
	Required    []string             `json:"required,omitempty"`
}

// SetupConfig is everything the peer needs at session start.
type SetupConfig struct {
	SessionID           string
	Model               string
	Voice               string
	SystemInstruction   string
	Location            *LatLng
	ResponseModalities  []string
	InputTranscription  bool
	OutputTranscription bool
	Functions           []FunctionSpec
	GoogleSearch        bool
	GoogleMaps          bool
}

// Relay wire format.

type ClientSetup struct {
	Type                string         `json:"type"`
	SessionID           string         `json:"session_id,omitempty"`
	Model               string         `json:"model"`
	Voice               string         `json:"voice,omitempty"`
	SystemInstruction   string         `json:"system_instruction,omitempty"`
	Location            *LatLng        `json:"location,omitempty"`
	ResponseModalities  []string       `json:"response_modalities,omitempty"`
	InputTranscription  bool           `json:"input_transcription,omitempty"`
	OutputTranscription bool           `json:"output_transcription,omitempty"`
	Functions           []FunctionSpec `json:"functions,omitempty"`
	GoogleSearch        bool           `json:"google_search,omitempty"`
	GoogleMaps          bool           `json:"google_maps,omitempty"`
}

func NewClientSetup(cfg SetupConfig) ClientSetup {
	return ClientSetup{
		Type:                "setup",
		SessionID:           cfg.SessionID,
		Model:               cfg.Model,
		Voice:               cfg.Voice,
		SystemInstruction:   cfg.SystemInstruction,
		Location:            cfg.Location,
		ResponseModalities:  cfg.ResponseModalities,
		InputTranscription:  cfg.InputTranscription,
		OutputTranscription: cfg.OutputTranscription,
		Functions:           cfg.Functions,
		GoogleSearch:        cfg.GoogleSearch,
		GoogleMaps:          cfg.GoogleMaps,
	}
}

type ClientChunk struct {
	Type     string `json:"type"`
	DataB64  string `json:"data_b64"`
	MIMEType string `json:"mime_type"`
}

func NewClientChunk(c Chunk) ClientChunk {
	typ := "audio_chunk"
	if c.Kind == ChunkImage {
		typ = "image_chunk"
	}
	return ClientChunk{
		Type:     typ,
		DataB64:  base64.StdEncoding.EncodeToString(c.Data),
		MIMEType: c.MIMEType,
	}
}

type ClientToolResponse struct {
	Type         string `json:"type"`
	InvocationID string `json:"invocation_id"`
	Name         string `json:"name,omitempty"`
	Result       string `json:"result"`
}

func NewClientToolResponse(r ToolResponse) ClientToolResponse {
	return ClientToolResponse{
		Type:         "tool_response",
		InvocationID: r.InvocationID,
		Name:         r.Name,
		Result:       r.Result,
	}
}

type ServerSetupComplete struct {
	Type string `json:"type"`
}

type WireSource struct {
	Kind  string `json:"kind"`
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

type ServerGrounding struct {
	Type    string       `json:"type"`
	Sources []WireSource `json:"sources"`
}

type WireInvocation struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type ServerToolCall struct {
	Type        string           `json:"type"`
	Invocations []WireInvocation `json:"invocations"`
}

type ServerTranscript struct {
	Type string `json:"type"`
	Role string `json:"role"`
	Text string `json:"text"`
}

type ServerAudio struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`
}

type ServerInterrupted struct {
	Type string `json:"type"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ServerError) Error() string {
	if strings.TrimSpace(e.Code) == "" {
		return "remote error: " + e.Message
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// DecodeServerMessage decodes one relay text frame into its typed message.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "setup_complete":
		return ServerSetupComplete{Type: typ}, nil
	case "grounding":
		var msg ServerGrounding
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid grounding", "")
		}
		for i, src := range msg.Sources {
			switch SourceKind(src.Kind) {
			case SourceWeb, SourceMaps:
			default:
				return nil, unsupported("unsupported source kind", fmt.Sprintf("sources[%d].kind", i))
			}
		}
		return msg, nil
	case "tool_call":
		var msg ServerToolCall
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid tool_call", "")
		}
		for i, inv := range msg.Invocations {
			if strings.TrimSpace(inv.ID) == "" {
				return nil, badRequest("tool_call.invocations[].id is required", fmt.Sprintf("invocations[%d].id", i))
			}
		}
		return msg, nil
	case "transcript":
		var msg ServerTranscript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid transcript", "")
		}
		switch Role(msg.Role) {
		case RoleUser, RoleAI:
		default:
			return nil, badRequest("transcript.role must be user or ai", "role")
		}
		return msg, nil
	case "audio":
		var msg ServerAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "interrupted":
		return ServerInterrupted{Type: typ}, nil
	case "error":
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ToServerMessage converts a decoded relay frame into a ServerMessage. A
// ServerError is returned as the error value.
func ToServerMessage(decoded any) (ServerMessage, error) {
	switch m := decoded.(type) {
	case ServerSetupComplete:
		return ServerMessage{SetupComplete: true}, nil
	case ServerGrounding:
		out := ServerMessage{Sources: make([]Source, 0, len(m.Sources))}
		for _, src := range m.Sources {
			out.Sources = append(out.Sources, Source{Kind: SourceKind(src.Kind), URI: src.URI, Title: src.Title})
		}
		return out, nil
	case ServerToolCall:
		out := ServerMessage{ToolCalls: make([]ToolInvocation, 0, len(m.Invocations))}
		for _, inv := range m.Invocations {
			out.ToolCalls = append(out.ToolCalls, InvocationFromArgs(inv.ID, inv.Name, inv.Args))
		}
		return out, nil
	case ServerTranscript:
		return ServerMessage{Transcripts: []Transcript{{Role: Role(m.Role), Text: m.Text}}}, nil
	case ServerAudio:
		data, err := base64.StdEncoding.DecodeString(m.DataB64)
		if err != nil {
			return ServerMessage{}, badRequest("invalid audio.data_b64", "data_b64")
		}
		return ServerMessage{Audio: [][]byte{data}}, nil
	case ServerInterrupted:
		return ServerMessage{Interrupted: true}, nil
	case ServerError:
		return ServerMessage{}, m
	default:
		return ServerMessage{}, badRequest("unsupported message type", "type")
	}
}

// DecodeClientMessage decodes one client frame. Relays and test peers use it.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	switch typ := strings.TrimSpace(envelope.Type); typ {
	case "":
		return nil, badRequest("missing type", "type")
	case "setup":
		var msg ClientSetup
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid setup", "")
		}
		if strings.TrimSpace(msg.Model) == "" {
			return nil, badRequest("setup.model is required", "model")
		}
		return msg, nil
	case "audio_chunk", "image_chunk":
		var msg ClientChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid "+typ, "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest(typ+".data_b64 is required", "data_b64")
		}
		return msg, nil
	case "tool_response":
		var msg ClientToolResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid tool_response", "")
		}
		if strings.TrimSpace(msg.InvocationID) == "" {
			return nil, badRequest("tool_response.invocation_id is required", "invocation_id")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}
