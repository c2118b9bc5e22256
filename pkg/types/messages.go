package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Inbound is the closed sum type of client-originated messages
type Inbound interface {
	MessageType() string
	Validate() error
}

// AuthMessage carries the opaque credential for the handshake
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// RegisterMessage binds a producer device to a stream
type RegisterMessage struct {
	Type       string `json:"type"`
	ClientType string `json:"clientType"`
	StreamID   string `json:"streamId,omitempty"`
	Produces   []Kind `json:"produces,omitempty"`
	Consumes   []Kind `json:"consumes,omitempty"`
}

// SubscribeMessage binds a viewer or analysis service to a stream
type SubscribeMessage struct {
	Type       string `json:"type"`
	ClientType string `json:"clientType"`
	StreamID   string `json:"streamId"`
	Consumes   []Kind `json:"consumes"`
	Produces   []Kind `json:"produces,omitempty"`
}

// VideoFrameMessage is relayed verbatim to video consumers
// FUNCTIONAL DISCOVERY: json.Number keeps a client timestamp byte-identical when relayed
type VideoFrameMessage struct {
	Type      string      `json:"type"`
	StreamID  string      `json:"streamId"`
	Data      string      `json:"data"`
	Timestamp json.Number `json:"timestamp,omitempty"`
}

// AlertMessage is relayed verbatim to alert consumers and archived
type AlertMessage struct {
	Type      string          `json:"type"`
	StreamID  string          `json:"streamId"`
	Severity  string          `json:"severity"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp json.Number     `json:"timestamp,omitempty"`
}

func (m *AuthMessage) MessageType() string       { return MessageTypeAuth }
func (m *RegisterMessage) MessageType() string   { return MessageTypeRegister }
func (m *SubscribeMessage) MessageType() string  { return MessageTypeSubscribe }
func (m *VideoFrameMessage) MessageType() string { return MessageTypeVideoFrame }
func (m *AlertMessage) MessageType() string      { return MessageTypeAlert }

// Decode parses one inbound envelope into its concrete message type
// ARCHITECTURAL DISCOVERY: Discriminator is peeked first, then the body is decoded
// strictly into the matching struct so unknown shapes fail closed
func Decode(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedJSON
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrMalformedJSON
	}

	typ := root.Get("type")
	if !typ.Exists() || typ.Type != gjson.String {
		return nil, ErrMissingType
	}

	var msg Inbound
	switch typ.String() {
	case MessageTypeAuth:
		msg = &AuthMessage{}
	case MessageTypeRegister:
		msg = &RegisterMessage{}
	case MessageTypeSubscribe:
		msg = &SubscribeMessage{}
	case MessageTypeVideoFrame:
		msg = &VideoFrameMessage{}
	case MessageTypeAlert:
		msg = &AlertMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ.String())
	}

	// TECHNICAL DISCOVERY: json.Number also accepts a quoted string, so the raw
	// token type is checked before decoding
	if ts := root.Get("timestamp"); ts.Exists() && ts.Type != gjson.Number {
		return nil, ErrInvalidTimestamp
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// RelayPayload returns the bytes pushed to consumers: the original frame when the
// client supplied a timestamp, otherwise the frame re-encoded with now filled in
func (m *VideoFrameMessage) RelayPayload(raw []byte, now int64) ([]byte, error) {
	if m.Timestamp != "" {
		return raw, nil
	}
	m.Timestamp = json.Number(strconv.FormatInt(now, 10))
	return json.Marshal(m)
}

// RelayPayload mirrors VideoFrameMessage.RelayPayload for alerts
func (m *AlertMessage) RelayPayload(raw []byte, now int64) ([]byte, error) {
	if m.Timestamp != "" {
		return raw, nil
	}
	m.Timestamp = json.Number(strconv.FormatInt(now, 10))
	return json.Marshal(m)
}

// TimestampMillis returns the client timestamp, or fallback when absent or fractional
func (m *AlertMessage) TimestampMillis(fallback int64) int64 {
	if m.Timestamp == "" {
		return fallback
	}
	if ts, err := m.Timestamp.Int64(); err == nil {
		return ts
	}
	if f, err := m.Timestamp.Float64(); err == nil {
		return int64(f)
	}
	return fallback
}

// SuccessMessage acknowledges auth, register and subscribe
type SuccessMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	StreamID  string `json:"streamId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorMessage reports a protocol, auth or routing failure to the sender
type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// StatusMessage announces a producer state change to every consumer of a stream
type StatusMessage struct {
	Type      string       `json:"type"`
	StreamID  string       `json:"streamId"`
	Status    StreamStatus `json:"status"`
	Timestamp int64        `json:"timestamp"`
}

func NewSuccess(message, streamID string) *SuccessMessage {
	return &SuccessMessage{
		Type:      MessageTypeSuccess,
		Message:   message,
		StreamID:  streamID,
		Timestamp: NowMillis(),
	}
}

func NewError(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:      MessageTypeError,
		Code:      code,
		Message:   message,
		Timestamp: NowMillis(),
	}
}

func NewStatus(streamID string, status StreamStatus) *StatusMessage {
	return &StatusMessage{
		Type:      MessageTypeStatus,
		StreamID:  streamID,
		Status:    status,
		Timestamp: NowMillis(),
	}
}
