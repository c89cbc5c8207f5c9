package bus

import "fmt"

// Channel naming: one channel per stream and event family. A viewer in a
// stream view holds subscriptions to all three at once; no ordering is
// guaranteed across distinct channels.
const (
	channelMessages = "stream:%s:messages"
	channelTips     = "stream:%s:tips"
	channelState    = "stream:%s:state"
)

// Event kinds carried on the channels above.
const (
	KindMessageCreated = "message_created"
	KindTipSent        = "tip_sent"
	KindStreamUpdated  = "stream_updated"
	KindShowUpdated    = "show_updated"
)

// MessagesChannel returns the chat message channel for a stream.
func MessagesChannel(streamID string) string {
	return fmt.Sprintf(channelMessages, streamID)
}

// TipsChannel returns the tip event channel for a stream.
func TipsChannel(streamID string) string {
	return fmt.Sprintf(channelTips, streamID)
}

// StateChannel returns the stream-state update channel for a stream.
func StateChannel(streamID string) string {
	return fmt.Sprintf(channelState, streamID)
}
