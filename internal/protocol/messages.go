// Package protocol defines the wire contract spoken over the client
// WebSocket and the subjects used for bus fan-out.
package protocol

import (
	"encoding/json"
	"time"
)

// Client -> server messages. The set is closed: dispatch sites switch
// exhaustively over the three variants.

type ClientMessage interface {
	clientMessage()
}

// StartMessage begins a recording session.
type StartMessage struct {
	Language string `json:"language,omitempty"`
}

// AudioMessage carries one base64-encoded fragment of the compressed stream.
type AudioMessage struct {
	Data string `json:"data"`
}

// StopMessage finalizes the session and requests the transcript.
type StopMessage struct{}

func (StartMessage) clientMessage() {}
func (AudioMessage) clientMessage() {}
func (StopMessage) clientMessage()  {}

type clientEnvelope struct {
	Type     string `json:"type"`
	Language string `json:"language"`
	Data     string `json:"data"`
}

// ParseClientMessage decodes an inbound frame. Unparseable payloads and
// unknown types yield nil; callers log and drop them without replying.
func ParseClientMessage(data []byte) ClientMessage {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	switch env.Type {
	case "start":
		return StartMessage{Language: env.Language}
	case "audio":
		return AudioMessage{Data: env.Data}
	case "stop":
		return StopMessage{}
	default:
		return nil
	}
}

// Server -> client messages.

type ServerMessage interface {
	serverMessage()
}

type Status string

const (
	StatusReady      Status = "ready"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusError      Status = "error"
)

type StatusMessage struct {
	Type   string `json:"type"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

type TranscriptMessage struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	IsFinal    bool     `json:"isFinal"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (StatusMessage) serverMessage()     {}
func (TranscriptMessage) serverMessage() {}

func NewStatus(status Status) StatusMessage {
	return StatusMessage{Type: "status", Status: status}
}

func NewStatusError(message string) StatusMessage {
	return StatusMessage{Type: "status", Status: StatusError, Error: message}
}

func NewTranscript(text string, final bool) TranscriptMessage {
	return TranscriptMessage{Type: "transcript", Text: text, IsFinal: final}
}

// Bus fan-out payloads, published for other local processes.

// Transcript announces a finalized session transcript on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// SessionEvent announces session lifecycle transitions on the bus.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal = "stt.text.final"
	SubjectSessionStarted  = "stt.session.started"
	SubjectSessionStopped  = "stt.session.stopped"
)
