package proto

import (
	"encoding/json"
	"strings"
)

// ProtocolVersion is announced by clients in CONNECT frames.
const ProtocolVersion = 1

// Frame commands. Clients send CONNECT, SUBSCRIBE, UNSUBSCRIBE, SEND and
// DISCONNECT; the server answers with CONNECTED, MESSAGE and ERROR.
const (
	CommandConnect     = "CONNECT"
	CommandConnected   = "CONNECTED"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandError       = "ERROR"
)

// Destinations.
const (
	TopicMessagesPrefix    = "/topic/messages/"
	DestinationMessageSend = "/app/chat/message.send"
	DestinationUserTyping  = "/app/chat/user.typing"
	DestinationMarkAsRead  = "/app/chat/message.markAsRead"
)

// RoomTopic returns the subscription destination for a room.
func RoomTopic(roomID string) string {
	return TopicMessagesPrefix + roomID
}

// RoomFromTopic extracts the room id from a room topic destination.
func RoomFromTopic(destination string) (string, bool) {
	room, ok := strings.CutPrefix(destination, TopicMessagesPrefix)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}

// Frame is one unit on the real-time channel, carried in a websocket text message.
type Frame struct {
	Command      string          `json:"command"`
	ID           string          `json:"id,omitempty"`
	Subscription string          `json:"subscription,omitempty"`
	Destination  string          `json:"destination,omitempty"`
	Token        string          `json:"token,omitempty"`
	Protocol     int             `json:"protocol,omitempty"`
	User         string          `json:"user,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
	Error        *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// SendMessageBody is published to DestinationMessageSend.
type SendMessageBody struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// TypingBody is published to DestinationUserTyping.
type TypingBody struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// MarkAsReadBody is published to DestinationMarkAsRead.
type MarkAsReadBody struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}
