package realtime

import "context"

// NewMessage describes a committed message for NotifyNewMessage.
type NewMessage struct {
	MessageID  int64
	AuthorID   SubscriberID
	AuthorName string
	HTML       string
}

// NotifyNewMessage tells everyone in the channel except the author about a new
// message. The author already has it from their own request.
func (r *Registry) NotifyNewMessage(ctx context.Context, channelID ChannelID, msg NewMessage) {
	r.broadcastFrame(ctx, channelID, NewMessageFrame{
		MessageID:      msg.MessageID,
		SubscriberID:   msg.AuthorID,
		SubscriberName: msg.AuthorName,
		HTML:           msg.HTML,
	}, Excluding(msg.AuthorID))
}

// NotifyMessageUpdated sends the re-rendered message to the whole channel.
func (r *Registry) NotifyMessageUpdated(ctx context.Context, channelID ChannelID, messageID int64, html string) {
	r.broadcastFrame(ctx, channelID, MessageUpdatedFrame{MessageID: messageID, HTML: html})
}

// NotifyMessageDeleted tells the whole channel that a message is gone.
func (r *Registry) NotifyMessageDeleted(ctx context.Context, channelID ChannelID, messageID int64) {
	r.broadcastFrame(ctx, channelID, MessageDeletedFrame{MessageID: messageID})
}

// RelayTyping forwards a typing indicator to everyone in the channel except
// the subscriber who is typing.
func (r *Registry) RelayTyping(ctx context.Context, channelID ChannelID, subscriberID SubscriberID, name string) {
	r.broadcastFrame(ctx, channelID, TypingFrame{
		SubscriberID:   subscriberID,
		SubscriberName: name,
	}, Excluding(subscriberID))
}

func (r *Registry) broadcastFrame(ctx context.Context, channelID ChannelID, f OutboundFrame, opts ...BroadcastOption) {
	payload, err := encodeFrame(f)
	if err != nil {
		r.logger.Error("Failed to encode frame",
			"channel_id", channelID,
			"type", f.FrameType(),
			"error", err)
		return
	}
	r.Broadcast(ctx, channelID, payload, opts...)
}
