package realtime

import "encoding/json"

// Frame type discriminators on the wire.
const (
	TypeConnected      = "connected"
	TypeNewMessage     = "new_message"
	TypeMessageUpdated = "message_updated"
	TypeMessageDeleted = "message_deleted"
	TypeTyping         = "typing"
	TypePing           = "ping"
	TypePong           = "pong"
)

// OutboundFrame is a frame the server delivers to a connection.
type OutboundFrame interface {
	FrameType() string
}

// ConnectedFrame acknowledges a new subscription. It is sent only to the
// connection that was just registered.
type ConnectedFrame struct {
	ChannelID    ChannelID
	SubscriberID SubscriberID
}

func (ConnectedFrame) FrameType() string { return TypeConnected }

// NewMessageFrame announces a newly posted message.
type NewMessageFrame struct {
	MessageID      int64
	SubscriberID   SubscriberID
	SubscriberName string
	HTML           string
}

func (NewMessageFrame) FrameType() string { return TypeNewMessage }

// MessageUpdatedFrame carries the re-rendered body of an edited message.
type MessageUpdatedFrame struct {
	MessageID int64
	HTML      string
}

func (MessageUpdatedFrame) FrameType() string { return TypeMessageUpdated }

// MessageDeletedFrame announces that a message was removed.
type MessageDeletedFrame struct {
	MessageID int64
}

func (MessageDeletedFrame) FrameType() string { return TypeMessageDeleted }

// TypingFrame tells the room that a subscriber is typing.
type TypingFrame struct {
	SubscriberID   SubscriberID
	SubscriberName string
}

func (TypingFrame) FrameType() string { return TypeTyping }

// PongFrame answers a client ping.
type PongFrame struct{}

func (PongFrame) FrameType() string { return TypePong }

type wireFrame struct {
	Type           string        `json:"type"`
	ChannelID      *ChannelID    `json:"channel_id,omitempty"`
	SubscriberID   *SubscriberID `json:"subscriber_id,omitempty"`
	SubscriberName *string       `json:"subscriber_name,omitempty"`
	MessageID      *int64        `json:"message_id,omitempty"`
	HTML           *string       `json:"html,omitempty"`
}

// EncodeFrame renders f as a JSON text frame.
func EncodeFrame(f OutboundFrame) ([]byte, error) {
	return encodeFrame(f)
}

func encodeFrame(f OutboundFrame) ([]byte, error) {
	w := wireFrame{Type: f.FrameType()}
	switch v := f.(type) {
	case ConnectedFrame:
		w.ChannelID = &v.ChannelID
		w.SubscriberID = &v.SubscriberID
	case NewMessageFrame:
		w.MessageID = &v.MessageID
		w.SubscriberID = &v.SubscriberID
		w.SubscriberName = &v.SubscriberName
		w.HTML = &v.HTML
	case MessageUpdatedFrame:
		w.MessageID = &v.MessageID
		w.HTML = &v.HTML
	case MessageDeletedFrame:
		w.MessageID = &v.MessageID
	case TypingFrame:
		w.SubscriberID = &v.SubscriberID
		w.SubscriberName = &v.SubscriberName
	case PongFrame:
	}
	return json.Marshal(w)
}
