package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrOutboxMissing is returned by EnsureOutbox when the stream does not exist
// and creation was not requested.
var ErrOutboxMissing = errors.New("outbox stream missing")

// DedupWindow is how long the broker remembers a send's correlation id.
const DedupWindow = 2 * time.Minute

// OutboxConfig is the stream the server consumes client sends from.
func OutboxConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        OutboxStream,
		Subjects:    []string{SubjectPrefix + ".out.*.send"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  DedupWindow,
		Description: "Client message sends awaiting the support server",
	}
}

// EnsureOutbox checks that the outbox stream exists, creating it when create
// is set. Local development runs without the server's provisioning step.
func (c *Client) EnsureOutbox(ctx context.Context, create bool) error {
	conn, js := c.connection()
	if conn == nil || js == nil {
		return ErrNotConnected
	}

	// Check if stream exists
	_, err := js.Stream(ctx, OutboxStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up outbox stream: %w", err)
	}
	if !create {
		return ErrOutboxMissing
	}

	if _, err := js.CreateStream(ctx, OutboxConfig()); err != nil {
		return fmt.Errorf("failed to create outbox stream: %w", err)
	}
	return nil
}
