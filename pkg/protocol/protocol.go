// Package protocol defines the WebSocket upload exchange used by
// /ws/transcribe and a small client for it.
//
// A client sends a text "start" frame, any number of binary frames carrying
// the file bytes, and a text "end" frame. The server answers with exactly one
// "result" or "error" frame and closes the connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeStart  = "start"
	TypeEnd    = "end"
	TypeResult = "result"
	TypeError  = "error"
)

// ChunkSize is the binary frame size used by the client.
const ChunkSize = 32 << 10

// MaxControlSize bounds a text frame.
const MaxControlSize = 4 << 10

type Message struct {
	Type          string  `json:"type"`
	Filename      string  `json:"filename,omitempty"`
	ContentType   string  `json:"content_type,omitempty"`
	Transcription *string `json:"transcription,omitempty"`
	Status        string  `json:"status,omitempty"`
	Code          int     `json:"code,omitempty"`
	Detail        string  `json:"detail,omitempty"`
}

func Start(filename, contentType string) Message {
	return Message{Type: TypeStart, Filename: filename, ContentType: contentType}
}

func End() Message { return Message{Type: TypeEnd} }

func Result(filename, text string) Message {
	return Message{Type: TypeResult, Filename: filename, Transcription: &text, Status: "success"}
}

func Error(code int, detail string) Message {
	return Message{Type: TypeError, Code: code, Detail: detail}
}

// Text returns the transcription carried by a result message.
func (m Message) Text() string {
	if m.Transcription == nil {
		return ""
	}
	return *m.Transcription
}

// Err converts an error message into a *RemoteError. It is nil for every
// other message type.
func (m Message) Err() error {
	if m.Type != TypeError {
		return nil
	}
	return &RemoteError{Code: m.Code, Detail: m.Detail}
}

func (m Message) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

// RemoteError is a failure reported by the server.
type RemoteError struct {
	Code   int
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Detail)
}

// Parse decodes a text frame and checks that its type is known.
func Parse(b []byte) (Message, error) {
	if len(b) == 0 {
		return Message{}, errors.New("empty message")
	}
	if len(b) > MaxControlSize {
		return Message{}, fmt.Errorf("message too large: %d bytes", len(b))
	}

	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}

	switch m.Type {
	case TypeStart, TypeEnd, TypeResult:
	case TypeError:
		if m.Code == 0 {
			return Message{}, errors.New("error message without code")
		}
	case "":
		return Message{}, errors.New("message type missing")
	default:
		return Message{}, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}
