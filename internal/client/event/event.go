package event

import (
	"encoding/json"
	"fmt"

	"github.com/harborchat/harbor/internal/client/model"
)

// Wire event names. The server speaks a flat {"event": name, "data": payload}
// envelope in both directions.
const (
	// Inbound.
	NameDirectMessage     = "direct-message"
	NameGroupMessage      = "group-message"
	NameMessageSent       = "message-sent"
	NameUserTyping        = "user-typing"
	NameUserStoppedTyping = "user-stopped-typing"
	NameUserStatus        = "user-status"
	NameMessageDeleted    = "message-deleted"
	NameMessagesRead      = "messages-marked-read"
	NameError             = "error"

	// Outbound.
	NameSendMessage = "send-message"
	NameJoinGroup   = "join-group"
	NameLeaveGroup  = "leave-group"
	NameTypingStart = "typing-start"
	NameTypingStop  = "typing-stop"
	NameMarkRead    = "mark-messages-read"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is the closed set of inbound wire events. Payloads are decoded and
// validated at the transport boundary so nothing downstream ever touches an
// untyped blob.
type Event interface {
	eventName() string
}

// DirectMessage and GroupMessage both deliver a full message; they differ
// only in which conversation bucket the engine files them under.
type DirectMessage struct {
	Message model.Message
}

type GroupMessage struct {
	Message model.Message
}

// MessageSent acknowledges one of our own sends.
type MessageSent struct {
	Success bool          `json:"success"`
	Message model.Message `json:"message"`
}

type Typing struct {
	UserID  string `json:"userId"`
	Type    string `json:"type"` // "direct" or "group"
	GroupID string `json:"groupId,omitempty"`
	Stopped bool   `json:"-"`
}

type UserStatus struct {
	UserID string `json:"userId"`
	Status string `json:"status"` // "online" or "offline"
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId,omitempty"`
}

type MessagesRead struct {
	MessageIDs []string `json:"messageIds"`
	ReadBy     string   `json:"readBy"`
}

type ServerError struct {
	Message string `json:"message"`
}

func (DirectMessage) eventName() string  { return NameDirectMessage }
func (GroupMessage) eventName() string   { return NameGroupMessage }
func (MessageSent) eventName() string    { return NameMessageSent }
func (UserStatus) eventName() string     { return NameUserStatus }
func (MessageDeleted) eventName() string { return NameMessageDeleted }
func (MessagesRead) eventName() string   { return NameMessagesRead }
func (ServerError) eventName() string    { return NameError }

func (e Typing) eventName() string {
	if e.Stopped {
		return NameUserStoppedTyping
	}
	return NameUserTyping
}

// ErrUnknown is returned by Decode for event names outside the closed set.
// Callers are expected to drop the frame, not fail the connection.
var ErrUnknown = fmt.Errorf("unknown event")

// Decode parses one inbound frame into its tagged variant.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case NameDirectMessage:
		var m model.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return DirectMessage{Message: m}, nil

	case NameGroupMessage:
		var m model.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return GroupMessage{Message: m}, nil

	case NameMessageSent:
		var e MessageSent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return e, nil

	case NameUserTyping, NameUserStoppedTyping:
		var e Typing
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		e.Stopped = env.Event == NameUserStoppedTyping
		return e, nil

	case NameUserStatus:
		var e UserStatus
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return e, nil

	case NameMessageDeleted:
		var e MessageDeleted
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return e, nil

	case NameMessagesRead:
		var e MessagesRead
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return e, nil

	case NameError:
		var e ServerError
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return e, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknown, env.Event)
}

// Encode builds an outbound frame.
func Encode(name string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", name, err)
		}
		data = b
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}

// Outbound payload shapes.

type SendMessagePayload struct {
	Content  string `json:"content"`
	Receiver string `json:"receiver,omitempty"`
	Group    string `json:"group,omitempty"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type MarkReadPayload struct {
	MessageIDs []string `json:"messageIds"`
}
