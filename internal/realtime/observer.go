package realtime

// Observer receives registry events. Implementations must be safe for
// concurrent use and must not call back into the Registry.
type Observer interface {
	Connected(channelID ChannelID)
	Disconnected(channelID ChannelID)
	Delivered(channelID ChannelID)
	SendFailed(channelID ChannelID, status SendStatus)
	Evicted(channelID ChannelID)
}

type nopObserver struct{}

func (nopObserver) Connected(ChannelID)              {}
func (nopObserver) Disconnected(ChannelID)           {}
func (nopObserver) Delivered(ChannelID)              {}
func (nopObserver) SendFailed(ChannelID, SendStatus) {}
func (nopObserver) Evicted(ChannelID)                {}
