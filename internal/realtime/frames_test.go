package realtime_test

import (
	"encoding/json"
	"testing"

	"github.com/Tyrowin/teamchat/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_FieldsPerType(t *testing.T) {
	tests := []struct {
		name  string
		frame realtime.OutboundFrame
		want  map[string]any
	}{
		{
			name:  "connected",
			frame: realtime.ConnectedFrame{ChannelID: 42, SubscriberID: 7},
			want:  map[string]any{"type": "connected", "channel_id": float64(42), "subscriber_id": float64(7)},
		},
		{
			name:  "new message",
			frame: realtime.NewMessageFrame{MessageID: 5, SubscriberID: 7, SubscriberName: "Ada", HTML: "<p>x</p>"},
			want: map[string]any{
				"type": "new_message", "message_id": float64(5), "subscriber_id": float64(7),
				"subscriber_name": "Ada", "html": "<p>x</p>",
			},
		},
		{
			name:  "updated",
			frame: realtime.MessageUpdatedFrame{MessageID: 5, HTML: ""},
			want:  map[string]any{"type": "message_updated", "message_id": float64(5), "html": ""},
		},
		{
			name:  "deleted with zero id keeps the field",
			frame: realtime.MessageDeletedFrame{MessageID: 0},
			want:  map[string]any{"type": "message_deleted", "message_id": float64(0)},
		},
		{
			name:  "typing",
			frame: realtime.TypingFrame{SubscriberID: 2, SubscriberName: "Bo"},
			want:  map[string]any{"type": "typing", "subscriber_id": float64(2), "subscriber_name": "Bo"},
		},
		{
			name:  "pong",
			frame: realtime.PongFrame{},
			want:  map[string]any{"type": "pong"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := realtime.EncodeFrame(tt.frame)
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want realtime.InboundFrame
	}{
		{"ping", `{"type":"ping"}`, realtime.PingFrame{}},
		{"typing", `{"type":"typing","extra":true}`, realtime.TypingSignal{}},
		{"malformed", `{"type":`, realtime.IgnoredFrame{Reason: "malformed json"}},
		{"not an object", `"ping"`, realtime.IgnoredFrame{Reason: "malformed json"}},
		{"missing type", `{"content":"hi"}`, realtime.IgnoredFrame{Reason: "missing type"}},
		{"unknown type", `{"type":"shout"}`, realtime.IgnoredFrame{Reason: "unknown type shout"}},
		{"wrong type kind", `{"type":5}`, realtime.IgnoredFrame{Reason: "malformed json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, realtime.DecodeInbound([]byte(tt.raw)))
		})
	}
}

func TestSendStatusString(t *testing.T) {
	assert.Equal(t, "ok", realtime.SendOK.String())
	assert.Equal(t, "retriable", realtime.SendRetriable.String())
	assert.Equal(t, "fatal", realtime.SendFatal.String())
	assert.Equal(t, "SendStatus(9)", realtime.SendStatus(9).String())
}
