package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTurn       MessageType = "turn"
	TypeTurnResult MessageType = "turn_result"
	TypeErrorEvent MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Turn mirrors the /run-agent form. File is base64 on the wire.
type Turn struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	UserInput string      `json:"user_input"`
	UserID    string      `json:"user_id"`
	File      []byte      `json:"file,omitempty"`
}

type TurnResult struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Response  string      `json:"response"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewErrorEvent(requestID, code, detail string, retryable bool) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, RequestID: requestID, Code: code, Retryable: retryable, Detail: detail}
}

// ParseClientMessage decodes an inbound frame. Only turns are accepted from clients.
func ParseClientMessage(raw []byte) (Turn, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Turn{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTurn:
		var msg Turn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return Turn{}, fmt.Errorf("invalid turn: %w", err)
		}
		return msg, nil
	default:
		return Turn{}, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
