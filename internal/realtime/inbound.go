package realtime

import "encoding/json"

// InboundFrame is a frame received from a client. The set of variants is
// closed: PingFrame, TypingSignal and IgnoredFrame.
type InboundFrame interface {
	inbound()
}

// PingFrame is an application-level keepalive; it is answered with a pong.
type PingFrame struct{}

// TypingSignal reports that the sender is typing.
type TypingSignal struct{}

// IgnoredFrame is anything else: malformed JSON, a missing type or an unknown
// type. Reason is for logging only.
type IgnoredFrame struct {
	Reason string
}

func (PingFrame) inbound()    {}
func (TypingSignal) inbound() {}
func (IgnoredFrame) inbound() {}

// DecodeInbound classifies a raw client frame. It never fails; unusable input
// maps to IgnoredFrame.
func DecodeInbound(data []byte) InboundFrame {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return IgnoredFrame{Reason: "malformed json"}
	}

	switch envelope.Type {
	case TypePing:
		return PingFrame{}
	case TypeTyping:
		return TypingSignal{}
	case "":
		return IgnoredFrame{Reason: "missing type"}
	default:
		return IgnoredFrame{Reason: "unknown type " + envelope.Type}
	}
}
