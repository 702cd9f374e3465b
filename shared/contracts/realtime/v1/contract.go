// Package v1 defines the Parley Realtime Protocol v1 contract.
//
// This package is stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated for this contract.
const Subprotocol = "parley.realtime.v1"

// TopicMessages is the broadcast topic every session observes.
const TopicMessages = "/topic/messages"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeChatSend submits a direct message (client -> server).
	TypeChatSend = "chat_send"
	// TypeChatMessage publishes a message to the topic (server -> all sessions).
	TypeChatMessage = "chat_message"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Error codes carried by ErrorPayload.Code.
const (
	CodeBadRequest     = "bad_request"
	CodeBadEnvelope    = "bad_envelope"
	CodeBadJSON        = "bad_json"
	CodeUnsupported    = "unsupported"
	CodeForbidden      = "forbidden"
	CodeEmptyContent   = "empty_content"
	CodeSenderMismatch = "sender_mismatch"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeChatSend,
		TypeChatMessage,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned session id and, for
// authenticated sessions, the caller's user id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id,omitempty"`
}

// ChatSendPayload is an inbound direct message. SenderID may be zero on an
// authenticated session; the server fills it in.
type ChatSendPayload struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// ChatMessagePayload is a message published to the topic. MessageID and
// SentAt are set only when the message was persisted.
type ChatMessagePayload struct {
	MessageID  int64      `json:"message_id,omitempty"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Content    string     `json:"content"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
