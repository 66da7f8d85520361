package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageImage    MessageType = "IMAGE"
	MessageVideo    MessageType = "VIDEO"
	MessageDocument MessageType = "DOCUMENT"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageDocument:
		return true
	}
	return false
}

// Status is the delivery status of a message in a conversation thread.
type Status string

const (
	StatusNone Status = ""
	StatusSent Status = "SENT"
	StatusRead Status = "READ"
)

// DeleteScope selects who a delete applies to.
type DeleteScope string

const (
	DeleteForMe  DeleteScope = "me"
	DeleteForAll DeleteScope = "all"
)

// Valid reports whether s is a known scope.
func (s DeleteScope) Valid() bool {
	return s == DeleteForMe || s == DeleteForAll
}

// ProvisionalPrefix starts every client-generated message id.
const ProvisionalPrefix = "temp-"

// NewProvisionalID returns a temp-<unixmillis>-<random> id.
func NewProvisionalID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%d-%s", ProvisionalPrefix, now.UnixMilli(), random)
}

// IsProvisionalID reports whether id was generated by NewProvisionalID.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Reaction is a single emoji held by a user on a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is a cached chat message.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	ThreadKey ThreadKey `json:"thread_id"`
	SenderID  string    `json:"sender_id"`

	// Content
	Type      MessageType `json:"type"`
	Content   *string     `json:"content,omitempty"`
	MediaRef  *string     `json:"media_ref,omitempty"`
	ReplyToID *string     `json:"reply_to_id,omitempty"`

	// Timestamps
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Status    Status     `json:"status,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// Provisional reports whether the message still carries a client id.
func (m *Message) Provisional() bool {
	return IsProvisionalID(m.ID)
}

// Tombstoned reports whether the message was soft deleted.
func (m *Message) Tombstoned() bool {
	return m.DeletedAt != nil
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	c.Content = clonePtr(m.Content)
	c.MediaRef = clonePtr(m.MediaRef)
	c.ReplyToID = clonePtr(m.ReplyToID)
	c.DeletedAt = clonePtr(m.DeletedAt)
	if m.Reactions != nil {
		c.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return &c
}

// Renderable returns a copy safe to hand to the UI: tombstones lose their
// content and media reference.
func (m *Message) Renderable() Message {
	c := m.Clone()
	if c.Tombstoned() {
		c.Content = nil
		c.MediaRef = nil
	}
	return *c
}

// HasReaction reports whether userID holds emoji on the message.
func (m *Message) HasReaction(userID, emoji string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// ApplyReaction merges a reaction add or remove keyed by (user, emoji).
// It reports whether the set changed.
func (m *Message) ApplyReaction(r Reaction, added bool) bool {
	idx := -1
	for i, existing := range m.Reactions {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			idx = i
			break
		}
	}
	if added {
		if idx >= 0 {
			m.Reactions[idx] = r
			return false
		}
		m.Reactions = append(m.Reactions, r)
		return true
	}
	if idx < 0 {
		return false
	}
	m.Reactions = append(m.Reactions[:idx], m.Reactions[idx+1:]...)
	return true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SendMessageRequest is the outbound payload for a send, on either channel.
type SendMessageRequest struct {
	ThreadKey     ThreadKey   `json:"thread_id"`
	Type          MessageType `json:"type"`
	Content       *string     `json:"content,omitempty"`
	MediaRef      *string     `json:"media_ref,omitempty"`
	ReplyToID     *string     `json:"reply_to_id,omitempty"`
	CorrelationID string      `json:"correlation_id"`
}

// SendMessageResponse is the HTTP response to a send.
type SendMessageResponse struct {
	Message       Message `json:"message"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// DeleteMessageRequest is the outbound payload for a delete.
type DeleteMessageRequest struct {
	MessageID string      `json:"message_id"`
	Scope     DeleteScope `json:"scope"`
}

// ReactionRequest is the outbound payload for a reaction add.
type ReactionRequest struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MarkReadRequest is the outbound payload for mark-read.
type MarkReadRequest struct {
	ThreadKey ThreadKey `json:"thread_id"`
}

// TypingRequest is the outbound payload for typing start/stop.
type TypingRequest struct {
	ThreadKey ThreadKey `json:"thread_id"`
	IsTyping  bool      `json:"is_typing"`
}

// ListMessagesResponse is a page of messages, oldest first.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// ThreadView is the read contract exposed to the UI layer.
type ThreadView struct {
	ThreadKey      ThreadKey `json:"thread_id"`
	Messages       []Message `json:"messages"`
	IsLoadingOlder bool      `json:"is_loading_older"`
	HasMoreOlder   bool      `json:"has_more_older"`
	Unread         int       `json:"unread"`
	Typing         []string  `json:"typing,omitempty"`
}
