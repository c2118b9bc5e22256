package types

import (
	"bytes"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var streamIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// Validate checks the handshake credential is present
func (m *AuthMessage) Validate() error {
	if m.Token == "" {
		return ErrMissingToken
	}
	return nil
}

// Validate checks client type, optional stream id and kinds, then applies the
// producer defaults (produces video-frame, consumes alert)
func (m *RegisterMessage) Validate() error {
	if m.ClientType != ClientTypeMobile {
		return ErrInvalidClientType
	}
	if m.StreamID != "" && !IsValidStreamID(m.StreamID) {
		return ErrInvalidStreamID
	}
	if err := validateKinds(m.Produces); err != nil {
		return err
	}
	if err := validateKinds(m.Consumes); err != nil {
		return err
	}

	if m.Produces == nil {
		m.Produces = []Kind{KindVideoFrame}
	}
	if m.Consumes == nil {
		m.Consumes = []Kind{KindAlert}
	}
	m.Produces = dedupeKinds(m.Produces)
	m.Consumes = dedupeKinds(m.Consumes)
	return nil
}

// Validate checks a subscription names an explicit stream and at least one kind
func (m *SubscribeMessage) Validate() error {
	if RoleForClientType(m.ClientType) == RoleNone || m.ClientType == ClientTypeMobile {
		return ErrInvalidClientType
	}
	if m.StreamID == "" {
		return ErrMissingStreamID
	}
	if !IsValidStreamID(m.StreamID) {
		return ErrInvalidStreamID
	}
	if len(m.Consumes) == 0 {
		return ErrEmptyConsumes
	}
	if err := validateKinds(m.Consumes); err != nil {
		return err
	}
	if err := validateKinds(m.Produces); err != nil {
		return err
	}
	m.Consumes = dedupeKinds(m.Consumes)
	m.Produces = dedupeKinds(m.Produces)
	return nil
}

// Validate checks a frame is addressed and non-empty
func (m *VideoFrameMessage) Validate() error {
	if m.StreamID == "" {
		return ErrMissingStreamID
	}
	if !IsValidStreamID(m.StreamID) {
		return ErrInvalidStreamID
	}
	if m.Data == "" {
		return ErrEmptyFrameData
	}
	return nil
}

// Validate checks addressing, severity, text and metadata shape
func (m *AlertMessage) Validate() error {
	if m.StreamID == "" {
		return ErrMissingStreamID
	}
	if !IsValidStreamID(m.StreamID) {
		return ErrInvalidStreamID
	}
	if !IsValidSeverity(m.Severity) {
		return ErrInvalidSeverity
	}
	if m.Message == "" {
		return ErrEmptyAlertMessage
	}
	if len(m.Metadata) > 0 {
		trimmed := bytes.TrimSpace(m.Metadata)
		if !bytes.Equal(trimmed, []byte("null")) && (len(trimmed) == 0 || trimmed[0] != '{') {
			return ErrInvalidMetadata
		}
	}
	return nil
}

// IsValidStreamID checks length and charset of a client supplied stream id
func IsValidStreamID(streamID string) bool {
	if len(streamID) < 1 || len(streamID) > 128 {
		return false
	}
	return streamIDRegex.MatchString(streamID)
}

// IsValidKind reports whether kind is routable
func IsValidKind(kind Kind) bool {
	switch kind {
	case KindVideoFrame, KindAlert:
		return true
	default:
		return false
	}
}

// IsValidSeverity reports whether severity is one of the four alert levels
func IsValidSeverity(severity string) bool {
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// RoleForClientType maps a wire client type to its connection role
func RoleForClientType(clientType string) Role {
	switch clientType {
	case ClientTypeMobile:
		return RoleProducerDevice
	case ClientTypeDashboard:
		return RoleViewer
	case ClientTypeMLService:
		return RoleAnalysisService
	default:
		return RoleNone
	}
}

func validateKinds(kinds []Kind) error {
	for _, kind := range kinds {
		if !IsValidKind(kind) {
			return ErrInvalidKind
		}
	}
	return nil
}

func dedupeKinds(kinds []Kind) []Kind {
	out := make([]Kind, 0, len(kinds))
	for _, kind := range kinds {
		if !containsKind(out, kind) {
			out = append(out, kind)
		}
	}
	return out
}
