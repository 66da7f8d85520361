package transport

import "fmt"

const (
	// SubjectPrefix is the prefix for all support sync subjects.
	SubjectPrefix = "support"

	// OutboxStream is the JetStream stream holding client sends.
	OutboxStream = "SUPPORT_OUTBOX"
)

// Outbound event names, carried in the envelope of client publishes.
const (
	EventSend     = "message:send"
	EventMarkRead = "message:read"
	EventTyping   = "typing"
)

// UserSubject carries every event addressed to one user, on all devices.
func UserSubject(userID string) string {
	return fmt.Sprintf("%s.user.%s.events", SubjectPrefix, userID)
}

// PresenceSubject carries online/offline broadcasts.
func PresenceSubject() string {
	return SubjectPrefix + ".presence"
}

// OutboxSubject is where a client publishes an action for the server.
func OutboxSubject(userID, action string) string {
	return fmt.Sprintf("%s.out.%s.%s", SubjectPrefix, userID, action)
}
