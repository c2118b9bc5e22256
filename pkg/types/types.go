package types

import (
	"time"
)

// Message kinds carried in the "type" discriminator
// ARCHITECTURAL DISCOVERY: Closed set of kinds, anything else is rejected at decode time
const (
	MessageTypeAuth       = "auth"
	MessageTypeRegister   = "register"
	MessageTypeSubscribe  = "subscribe"
	MessageTypeVideoFrame = "video-frame"
	MessageTypeAlert      = "alert"

	MessageTypeSuccess = "success"
	MessageTypeError   = "error"
	MessageTypeStatus  = "status"
)

// Kind is a produced/consumed message kind
type Kind string

const (
	KindVideoFrame Kind = MessageTypeVideoFrame
	KindAlert      Kind = MessageTypeAlert
)

// Kinds lists every routable kind in a stable order
var Kinds = []Kind{KindVideoFrame, KindAlert}

// Role is assigned on the first successful register/subscribe and never changes
type Role string

const (
	RoleNone            Role = ""
	RoleProducerDevice  Role = "producer-device"
	RoleViewer          Role = "viewer"
	RoleAnalysisService Role = "analysis-service"
)

// Client types declared on the wire
const (
	ClientTypeMobile    = "mobile"
	ClientTypeDashboard = "dashboard"
	ClientTypeMLService = "ml-service"
)

// Alert severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// StreamStatus values pushed in status events
type StreamStatus string

const (
	StatusOnline    StreamStatus = "online"
	StatusOffline   StreamStatus = "offline"
	StatusStreaming StreamStatus = "streaming"
)

// Error codes sent in error replies
const (
	CodeAuthRequired         = "AUTH_REQUIRED"
	CodeAuthFailed           = "AUTH_FAILED"
	CodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	CodeRoutingError         = "ROUTING_ERROR"
	CodeInvalidMessage       = "INVALID_MESSAGE"
)

// Identity is what the session verifier hands back for a valid credential
// FUNCTIONAL DISCOVERY: Only UserID drives decisions; the rest is for logs
type Identity struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Metadata is the registry's authoritative record of a registered connection
type Metadata struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	StreamID     string    `json:"stream_id"`
	Produces     []Kind    `json:"produces"`
	Consumes     []Kind    `json:"consumes"`
	ConnectedAt  time.Time `json:"connected_at"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ProducesKind reports whether kind is in the produces set
func (m *Metadata) ProducesKind(kind Kind) bool {
	return containsKind(m.Produces, kind)
}

// ConsumesKind reports whether kind is in the consumes set
func (m *Metadata) ConsumesKind(kind Kind) bool {
	return containsKind(m.Consumes, kind)
}

// IsVideoProducer is true for a producer device that declared video-frame
func (m *Metadata) IsVideoProducer() bool {
	return m.Role == RoleProducerDevice && m.ProducesKind(KindVideoFrame)
}

// Alert is the persisted form of an alert message
type Alert struct {
	ID        string         `json:"id"`
	StreamID  string         `json:"stream_id"`
	UserID    string         `json:"user_id"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp int64          `json:"timestamp"`
	CreatedAt time.Time      `json:"created_at"`
}

// StreamRecord is the persisted ownership record of a stream id
type StreamRecord struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// NowMillis returns the wire timestamp format
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

func containsKind(kinds []Kind, kind Kind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
