package engine

import (
	"errors"
	"time"

	"github.com/capitalize-ai/support-sync/internal/model"
)

var (
	// ErrThreadNotCached is returned for actions against a thread that was
	// never opened.
	ErrThreadNotCached = errors.New("thread not cached")
	// ErrMessageNotFound is returned when the target message is not cached.
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessagePending is returned for deletes and reactions on a message
	// that has no server id yet.
	ErrMessagePending = errors.New("message not yet confirmed")
	// ErrInvalidMessage is returned for a send without a usable payload.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrIllegalTransition is returned by the pending-send state machine.
	ErrIllegalTransition = errors.New("illegal pending transition")
	// ErrSendTimeout marks a send that was never confirmed in time.
	ErrSendTimeout = errors.New("send not confirmed in time")
)

// NoticeKind classifies a user-visible failure.
type NoticeKind string

const (
	NoticeSendFailed     NoticeKind = "send_failed"
	NoticeDeleteFailed   NoticeKind = "delete_failed"
	NoticeReactionFailed NoticeKind = "reaction_failed"
	NoticeFetchFailed    NoticeKind = "fetch_failed"
)

// Notice is a transient failure the UI should show once.
type Notice struct {
	Kind      NoticeKind      `json:"kind"`
	ThreadKey model.ThreadKey `json:"thread_id"`
	MessageID string          `json:"message_id,omitempty"`
	Message   string          `json:"message"`
	At        time.Time       `json:"at"`
	Err       error           `json:"-"`
}
