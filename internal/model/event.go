package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Push event names as they appear on the wire.
const (
	EventMessageNew      = "message:new"
	EventMessageSent     = "message:sent"
	EventMessageDeleted  = "message:deleted"
	EventMessageReaction = "message:reaction"
	EventMessageRead     = "message:read"
	EventChatCleared     = "chat:cleared"
	EventChannelCleared  = "channel:cleared"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventUserOnline      = "user:online"
	EventUserOffline     = "user:offline"
)

// Event is the closed set of inbound events. Only types in this package
// implement it.
type Event interface {
	EventName() string
	isEvent()
}

// MessageCreated is a message pushed by the server that this client did not
// necessarily originate.
type MessageCreated struct {
	Message       Message
	CorrelationID string
}

// MessageConfirmed acknowledges a send identified by its correlation id.
type MessageConfirmed struct {
	Message       Message
	CorrelationID string
}

// MessageDeleted soft-deletes a message by authoritative id.
type MessageDeleted struct {
	ThreadKey ThreadKey
	MessageID string
	DeletedAt time.Time
}

// ReactionChanged adds or removes one reaction.
type ReactionChanged struct {
	ThreadKey ThreadKey
	MessageID string
	Reaction  Reaction
	Added     bool
}

// MessagesRead moves the current user's messages up to ReadAt to READ.
type MessagesRead struct {
	ThreadKey ThreadKey
	ReaderID  string
	ReadAt    time.Time
}

// ThreadCleared empties a whole thread.
type ThreadCleared struct {
	ThreadKey ThreadKey
}

// TypingChanged reports a remote user starting or stopping typing.
type TypingChanged struct {
	ThreadKey ThreadKey
	UserID    string
	IsTyping  bool
}

// PresenceChanged reports a user going online or offline.
type PresenceChanged struct {
	UserID string
	Online bool
}

// ConnectionChanged is raised locally by the transport.
type ConnectionChanged struct {
	Connected   bool
	Reconnected bool
}

func (MessageCreated) EventName() string   { return EventMessageNew }
func (MessageConfirmed) EventName() string { return EventMessageSent }
func (MessageDeleted) EventName() string   { return EventMessageDeleted }
func (ReactionChanged) EventName() string  { return EventMessageReaction }
func (MessagesRead) EventName() string     { return EventMessageRead }
func (ThreadCleared) EventName() string    { return EventChatCleared }

func (e TypingChanged) EventName() string {
	if e.IsTyping {
		return EventTypingStart
	}
	return EventTypingStop
}

func (e PresenceChanged) EventName() string {
	if e.Online {
		return EventUserOnline
	}
	return EventUserOffline
}

func (ConnectionChanged) EventName() string { return "connection" }

func (MessageCreated) isEvent()    {}
func (MessageConfirmed) isEvent()  {}
func (MessageDeleted) isEvent()    {}
func (ReactionChanged) isEvent()   {}
func (MessagesRead) isEvent()      {}
func (ThreadCleared) isEvent()     {}
func (TypingChanged) isEvent()     {}
func (PresenceChanged) isEvent()   {}
func (ConnectionChanged) isEvent() {}

// Envelope is the push frame published by the server.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type messagePayload struct {
	Message       Message `json:"message"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

type deletedPayload struct {
	ThreadKey ThreadKey `json:"thread_id"`
	MessageID string    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type reactionPayload struct {
	ThreadKey ThreadKey `json:"thread_id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Action    string    `json:"action"`
}

type readPayload struct {
	ThreadKey ThreadKey `json:"thread_id"`
	ReaderID  string    `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type threadPayload struct {
	ThreadKey ThreadKey `json:"thread_id"`
	UserID    string    `json:"user_id,omitempty"`
}

type userPayload struct {
	UserID string `json:"user_id"`
}

// DecodeEnvelope parses one push frame into its event variant.
func DecodeEnvelope(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	switch env.Event {
	case EventMessageNew, EventMessageSent:
		var p messagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
		if p.Message.ID == "" {
			return nil, fmt.Errorf("%s without message id", env.Event)
		}
		if env.Event == EventMessageSent {
			return MessageConfirmed{Message: p.Message, CorrelationID: p.CorrelationID}, nil
		}
		return MessageCreated{Message: p.Message, CorrelationID: p.CorrelationID}, nil

	case EventMessageDeleted:
		var p deletedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
		return MessageDeleted{ThreadKey: p.ThreadKey, MessageID: p.MessageID, DeletedAt: p.DeletedAt}, nil

	case EventMessageReaction:
		var p reactionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
		if p.Action != "add" && p.Action != "remove" {
			return nil, fmt.Errorf("unknown reaction action %q", p.Action)
		}
		return ReactionChanged{
			ThreadKey: p.ThreadKey,
			MessageID: p.MessageID,
			Reaction:  Reaction{UserID: p.UserID, Emoji: p.Emoji},
			Added:     p.Action == "add",
		}, nil

	case EventMessageRead:
		var p readPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
		return MessagesRead{ThreadKey: p.ThreadKey, ReaderID: p.ReaderID, ReadAt: p.ReadAt}, nil

	case EventChatCleared, EventChannelCleared:
		var p threadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
		return ThreadCleared{ThreadKey: p.ThreadKey}, nil

	case EventTypingStart, EventTypingStop:
		var p threadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
		return TypingChanged{ThreadKey: p.ThreadKey, UserID: p.UserID, IsTyping: env.Event == EventTypingStart}, nil

	case EventUserOnline, EventUserOffline:
		var p userPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", env.Event, err)
		}
		return PresenceChanged{UserID: p.UserID, Online: env.Event == EventUserOnline}, nil

	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
}
