package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Functional Validation Tests - Decode
func TestDecode_DiscriminatesByType(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"auth", `{"type":"auth","token":"abc"}`, MessageTypeAuth},
		{"register", `{"type":"register","clientType":"mobile"}`, MessageTypeRegister},
		{"subscribe", `{"type":"subscribe","clientType":"dashboard","streamId":"s1","consumes":["video-frame"]}`, MessageTypeSubscribe},
		{"video-frame", `{"type":"video-frame","streamId":"s1","data":"AAAA"}`, MessageTypeVideoFrame},
		{"alert", `{"type":"alert","streamId":"s1","severity":"high","message":"person detected"}`, MessageTypeAlert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.MessageType())
		})
	}
}

func TestDecode_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not json", `{"type":`, ErrMalformedJSON},
		{"array", `["auth"]`, ErrMalformedJSON},
		{"missing type", `{"token":"abc"}`, ErrMissingType},
		{"numeric type", `{"type":7}`, ErrMissingType},
		{"unknown type", `{"type":"telemetry"}`, ErrUnknownMessageType},
		{"unknown field", `{"type":"auth","token":"abc","admin":true}`, ErrInvalidMessage},
		{"wrong field type", `{"type":"auth","token":42}`, ErrInvalidMessage},
		{"empty token", `{"type":"auth","token":""}`, ErrMissingToken},
		{"register from dashboard", `{"type":"register","clientType":"dashboard"}`, ErrInvalidClientType},
		{"register bad kind", `{"type":"register","clientType":"mobile","produces":["audio"]}`, ErrInvalidKind},
		{"subscribe without stream", `{"type":"subscribe","clientType":"ml-service","consumes":["video-frame"]}`, ErrMissingStreamID},
		{"subscribe without consumes", `{"type":"subscribe","clientType":"dashboard","streamId":"s1","consumes":[]}`, ErrEmptyConsumes},
		{"subscribe as mobile", `{"type":"subscribe","clientType":"mobile","streamId":"s1","consumes":["alert"]}`, ErrInvalidClientType},
		{"frame without data", `{"type":"video-frame","streamId":"s1","data":""}`, ErrEmptyFrameData},
		{"frame bad stream", `{"type":"video-frame","streamId":"has space","data":"AA"}`, ErrInvalidStreamID},
		{"alert bad severity", `{"type":"alert","streamId":"s1","severity":"urgent","message":"x"}`, ErrInvalidSeverity},
		{"alert empty message", `{"type":"alert","streamId":"s1","severity":"low","message":""}`, ErrEmptyAlertMessage},
		{"alert array metadata", `{"type":"alert","streamId":"s1","severity":"low","message":"x","metadata":[1]}`, ErrInvalidMetadata},
		{"frame string timestamp", `{"type":"video-frame","streamId":"s1","data":"AA","timestamp":"123"}`, ErrInvalidTimestamp},
		{"frame null timestamp", `{"type":"video-frame","streamId":"s1","data":"AA","timestamp":null}`, ErrInvalidTimestamp},
		{"alert string timestamp", `{"type":"alert","streamId":"s1","severity":"low","message":"x","timestamp":"1700000000123"}`, ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestDecode_ValidationErrorsWrapInvalidMessage(t *testing.T) {
	for _, err := range []error{
		ErrMissingToken, ErrInvalidClientType, ErrInvalidKind, ErrMissingStreamID,
		ErrInvalidStreamID, ErrEmptyConsumes, ErrEmptyFrameData, ErrInvalidSeverity,
		ErrEmptyAlertMessage, ErrInvalidMetadata, ErrMalformedJSON, ErrMissingType, ErrInvalidTimestamp,
	} {
		assert.ErrorIs(t, err, ErrInvalidMessage)
	}
	assert.NotErrorIs(t, ErrUnknownMessageType, ErrInvalidMessage)
}

func TestRegisterMessage_Defaults(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"register","clientType":"mobile"}`))
	require.NoError(t, err)

	reg := msg.(*RegisterMessage)
	assert.Equal(t, []Kind{KindVideoFrame}, reg.Produces)
	assert.Equal(t, []Kind{KindAlert}, reg.Consumes)
	assert.Empty(t, reg.StreamID)
}

func TestRegisterMessage_DedupesKinds(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"register","clientType":"mobile","produces":["video-frame","video-frame"],"consumes":["alert","alert"]}`))
	require.NoError(t, err)

	reg := msg.(*RegisterMessage)
	assert.Equal(t, []Kind{KindVideoFrame}, reg.Produces)
	assert.Equal(t, []Kind{KindAlert}, reg.Consumes)
}

func TestVideoFrame_RelayPayload(t *testing.T) {
	t.Run("client timestamp forwarded verbatim", func(t *testing.T) {
		raw := []byte(`{"type":"video-frame","streamId":"s1","data":"AAAA","timestamp":1700000000123}`)
		msg, err := Decode(raw)
		require.NoError(t, err)

		out, err := msg.(*VideoFrameMessage).RelayPayload(raw, 42)
		require.NoError(t, err)
		assert.Equal(t, raw, out)
	})

	t.Run("server fills missing timestamp", func(t *testing.T) {
		raw := []byte(`{"type":"video-frame","streamId":"s1","data":"AAAA"}`)
		msg, err := Decode(raw)
		require.NoError(t, err)

		out, err := msg.(*VideoFrameMessage).RelayPayload(raw, 42)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.Equal(t, "video-frame", decoded["type"])
		assert.Equal(t, "s1", decoded["streamId"])
		assert.Equal(t, "AAAA", decoded["data"])
		assert.Equal(t, float64(42), decoded["timestamp"])
	})
}

func TestAlert_RelayPayloadKeepsMetadata(t *testing.T) {
	raw := []byte(`{"type":"alert","streamId":"s1","severity":"critical","message":"fall","metadata":{"confidence":0.97,"box":[1,2,3,4]}}`)
	msg, err := Decode(raw)
	require.NoError(t, err)

	out, err := msg.(*AlertMessage).RelayPayload(raw, 7)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), `"metadata":{"confidence":0.97,"box":[1,2,3,4]}`))
	assert.True(t, strings.Contains(string(out), `"timestamp":7`))
}

func TestAlert_TimestampMillis(t *testing.T) {
	alert := &AlertMessage{}
	assert.Equal(t, int64(5), alert.TimestampMillis(5))

	alert.Timestamp = "1700000000123"
	assert.Equal(t, int64(1700000000123), alert.TimestampMillis(5))

	alert.Timestamp = "1700000000123.9"
	assert.Equal(t, int64(1700000000123), alert.TimestampMillis(5))
}

func TestRoleForClientType(t *testing.T) {
	assert.Equal(t, RoleProducerDevice, RoleForClientType(ClientTypeMobile))
	assert.Equal(t, RoleViewer, RoleForClientType(ClientTypeDashboard))
	assert.Equal(t, RoleAnalysisService, RoleForClientType(ClientTypeMLService))
	assert.Equal(t, RoleNone, RoleForClientType("desktop"))
}

func TestIsValidStreamID(t *testing.T) {
	tests := []struct {
		name     string
		streamID string
		wantOk   bool
	}{
		{"simple", "s1", true},
		{"generated style", "stream_0190b0c4-7a2e-7c3d-9f00-1a2b3c4d5e6f", true},
		{"dots and colons", "cam.front:1", true},
		{"128 chars", strings.Repeat("a", 128), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 129), false},
		{"slash", "a/b", false},
		{"space", "a b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOk, IsValidStreamID(tt.streamID))
		})
	}
}

func TestMetadata_IsVideoProducer(t *testing.T) {
	producer := &Metadata{Role: RoleProducerDevice, Produces: []Kind{KindVideoFrame}}
	assert.True(t, producer.IsVideoProducer())

	silent := &Metadata{Role: RoleProducerDevice, Produces: []Kind{}}
	assert.False(t, silent.IsVideoProducer())

	viewer := &Metadata{Role: RoleViewer, Produces: []Kind{KindVideoFrame}}
	assert.False(t, viewer.IsVideoProducer())
}

func TestOutboundConstructors(t *testing.T) {
	success := NewSuccess("registered", "s1")
	assert.Equal(t, MessageTypeSuccess, success.Type)
	assert.Equal(t, "s1", success.StreamID)
	assert.NotZero(t, success.Timestamp)

	errMsg := NewError(CodeAuthRequired, "authentication required")
	assert.Equal(t, MessageTypeError, errMsg.Type)
	assert.Equal(t, CodeAuthRequired, errMsg.Code)

	status := NewStatus("s2", StatusOffline)
	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"offline"`)
	assert.Contains(t, string(data), `"streamId":"s2"`)
}
