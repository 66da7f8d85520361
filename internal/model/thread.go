// Package model defines data structures for the support sync engine.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ThreadKind distinguishes the independent thread caches.
type ThreadKind string

const (
	ThreadConversation ThreadKind = "conversation"
	ThreadAdmin        ThreadKind = "admin"
	ThreadInternal     ThreadKind = "internal"
	ThreadDirect       ThreadKind = "direct"
)

// InternalKey is the literal key of the team-internal broadcast channel.
const InternalKey = "internal"

// ThreadKey identifies one cached thread.
type ThreadKey struct {
	Kind ThreadKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// ConversationThread returns the key of a support conversation.
func ConversationThread(conversationID string) ThreadKey {
	return ThreadKey{Kind: ThreadConversation, ID: conversationID}
}

// AdminThread returns the key of an admin-moderated conversation with a partner.
func AdminThread(partnerID string) ThreadKey {
	return ThreadKey{Kind: ThreadAdmin, ID: partnerID}
}

// InternalThread returns the key of the internal broadcast channel.
func InternalThread() ThreadKey {
	return ThreadKey{Kind: ThreadInternal}
}

// DirectThread returns the key of a direct-message pairing with counterpartID.
func DirectThread(counterpartID string) ThreadKey {
	return ThreadKey{Kind: ThreadDirect, ID: counterpartID}
}

// String renders the key as used on the wire and in URLs.
func (k ThreadKey) String() string {
	if k.Kind == ThreadInternal {
		return InternalKey
	}
	return string(k.Kind) + ":" + k.ID
}

// TracksStatus reports whether SENT/READ status is meaningful for the thread.
func (k ThreadKey) TracksStatus() bool {
	return k.Kind == ThreadConversation
}

// StaffOnly reports whether only agents and admins may use the thread. End
// users see their own support conversation.
func (k ThreadKey) StaffOnly() bool {
	return k.Kind != ThreadConversation
}

// Validate checks that the key is well formed.
func (k ThreadKey) Validate() error {
	switch k.Kind {
	case ThreadInternal:
		if k.ID != "" {
			return errors.New("internal thread takes no id")
		}
		return nil
	case ThreadConversation, ThreadAdmin, ThreadDirect:
		if k.ID == "" {
			return fmt.Errorf("%s thread requires an id", k.Kind)
		}
		if strings.ContainsAny(k.ID, ": /") {
			return fmt.Errorf("invalid thread id %q", k.ID)
		}
		return nil
	default:
		return fmt.Errorf("unknown thread kind %q", k.Kind)
	}
}

// ParseThreadKey parses the output of ThreadKey.String.
func ParseThreadKey(s string) (ThreadKey, error) {
	if s == InternalKey {
		return InternalThread(), nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return ThreadKey{}, fmt.Errorf("invalid thread key %q", s)
	}
	key := ThreadKey{Kind: ThreadKind(kind), ID: id}
	if err := key.Validate(); err != nil {
		return ThreadKey{}, err
	}
	return key, nil
}

// MarshalText lets ThreadKey travel as a plain JSON string.
func (k ThreadKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *ThreadKey) UnmarshalText(b []byte) error {
	parsed, err := ParseThreadKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
