package model

import "time"

// PendingIDPrefix marks a locally generated message id that has not been
// confirmed by the server yet.
const PendingIDPrefix = "pending-"

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

type Participant struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

type Message struct {
	ID       string      `json:"_id"`
	Text     string      `json:"text"`
	Sender   Participant `json:"sender"`
	Receiver string      `json:"receiver,omitempty"`
	Group    string      `json:"group,omitempty"`
	SentAt   time.Time   `json:"sentAt"`
	ReadBy   []string    `json:"readBy,omitempty"`

	// Own is derived locally: true when the signed-in user authored the
	// message. Never sent over the wire.
	Own bool `json:"-"`
}

// Pending reports whether the message still carries a local temporary id.
func (m Message) Pending() bool {
	return len(m.ID) >= len(PendingIDPrefix) && m.ID[:len(PendingIDPrefix)] == PendingIDPrefix
}

// ReadByUser reports whether reader has acknowledged the message.
func (m Message) ReadByUser(reader string) bool {
	for _, id := range m.ReadBy {
		if id == reader {
			return true
		}
	}
	return false
}

type Conversation struct {
	ID              string           `json:"_id"`
	Kind            ConversationKind `json:"type"`
	DisplayName     string           `json:"name,omitempty"`
	AvatarURL       string           `json:"avatar,omitempty"`
	LastMessageText string           `json:"lastMessage,omitempty"`
	LastMessageAt   time.Time        `json:"lastMessageAt,omitempty"`
	UnreadCount     int              `json:"unreadCount"`
	Online          bool             `json:"-"`
	Participants    []Participant    `json:"participants,omitempty"`
}

// User is the signed-in identity handed to the client by the auth service.
type User struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}
