package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/cache"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/internal/transport"
	"github.com/capitalize-ai/support-sync/pkg/logger"
	"github.com/capitalize-ai/support-sync/pkg/metrics"
)

const (
	channelPush = "push"
	channelHTTP = "http"
)

// Draft is the user input of a send.
type Draft struct {
	Type      model.MessageType `json:"type"`
	Content   string            `json:"content,omitempty"`
	MediaRef  string            `json:"media_ref,omitempty"`
	ReplyToID string            `json:"reply_to_id,omitempty"`
}

func (d Draft) validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, d.Type)
	}
	if d.Type == model.MessageText && strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	if d.Type != model.MessageText && d.MediaRef == "" {
		return fmt.Errorf("%w: %s without media reference", ErrInvalidMessage, d.Type)
	}
	return nil
}

// Send inserts a provisional message and hands it to the push channel when
// connected, or to the HTTP API otherwise. It returns the provisional id.
// Delivery failures never come back as errors: the provisional entry is
// removed and a NoticeSendFailed is emitted exactly once.
func (e *Engine) Send(ctx context.Context, key model.ThreadKey, draft Draft) (string, error) {
	if err := draft.validate(); err != nil {
		return "", err
	}

	ctx, span := e.tracer.Start(ctx, "engine.Send")
	defer span.End()
	span.SetAttributes(attribute.String("thread", key.String()))

	now := e.clock.Now()
	id := model.NewProvisionalID(now)
	stub := &model.Message{
		ID:        id,
		ThreadKey: key,
		SenderID:  e.opts.UserID,
		Type:      draft.Type,
		Content:   model.StringPtr(draft.Content),
		MediaRef:  model.StringPtr(draft.MediaRef),
		ReplyToID: model.StringPtr(draft.ReplyToID),
		CreatedAt: now,
	}

	found := e.store.Update(key, func(t *cache.Thread) bool {
		t.InsertNewest(stub)
		e.pending.Begin(id, key, now)
		return true
	})
	if !found {
		return "", ErrThreadNotCached
	}

	e.signaler.StopTyping(ctx, key)

	req := model.SendMessageRequest{
		ThreadKey:     key,
		Type:          draft.Type,
		Content:       model.StringPtr(draft.Content),
		MediaRef:      model.StringPtr(draft.MediaRef),
		ReplyToID:     model.StringPtr(draft.ReplyToID),
		CorrelationID: id,
	}

	if e.transport.Connected() {
		// The confirmation window starts at insertion, not at the broker ack.
		timer := e.clock.AfterFunc(e.opts.SendTimeout, func() {
			e.failSend(key, id, "timeout", ErrSendTimeout)
		})
		e.pending.Arm(id, timer)

		err := e.transport.PublishSend(ctx, req)
		if err == nil {
			metrics.RecordOptimistic("send", channelPush)
			return id, nil
		}
		if !errors.Is(err, transport.ErrNotPublished) {
			// The broker may have stored it; the event or the timer settles it.
			metrics.RecordOptimistic("send", channelPush)
			e.logger.Warn("push send outcome unknown, awaiting confirmation",
				logger.Thread(key),
				logger.CorrelationID(id),
				zap.Error(err),
			)
			return id, nil
		}
		if !e.pending.Disarm(id) {
			return id, nil
		}
		e.logger.Warn("push send not published, falling back to http",
			logger.Thread(key),
			logger.CorrelationID(id),
			zap.Error(err),
		)
	}

	metrics.RecordOptimistic("send", channelHTTP)
	resp, err := e.api.SendMessage(ctx, req)
	if err != nil {
		span.RecordError(err)
		e.failSend(key, id, "rejected", err)
		return id, nil
	}
	e.resolve(key, resp.Message, id, false)
	return id, nil
}

// failSend reverts a provisional entry. Only the first caller for a given id
// wins the transition, so the notice goes out once.
func (e *Engine) failSend(key model.ThreadKey, id, reason string, cause error) {
	failed := false
	found := e.store.Update(key, func(t *cache.Thread) bool {
		if _, err := e.pending.Transition(id, StateFailed); err != nil {
			return false
		}
		failed = true
		return t.Remove(id)
	})
	if !found {
		if _, err := e.pending.Transition(id, StateFailed); err == nil {
			failed = true
		}
	}
	if !failed {
		return
	}

	metrics.RecordSendFailure(reason)
	e.logger.Warn("send failed",
		logger.Thread(key),
		logger.CorrelationID(id),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	e.notify(Notice{
		Kind:      NoticeSendFailed,
		ThreadKey: key,
		MessageID: id,
		Message:   "Message could not be sent",
		Err:       cause,
	})
}

// Delete tombstones a message locally, then asks the server to delete it.
// A server failure leaves the tombstone in place and emits a notice.
func (e *Engine) Delete(ctx context.Context, key model.ThreadKey, messageID string, scope model.DeleteScope) error {
	if !scope.Valid() {
		return fmt.Errorf("invalid delete scope %q", scope)
	}
	if model.IsProvisionalID(messageID) {
		return ErrMessagePending
	}

	ctx, span := e.tracer.Start(ctx, "engine.Delete")
	defer span.End()

	var missing bool
	found := e.store.Update(key, func(t *cache.Thread) bool {
		if !t.Contains(messageID) {
			missing = true
			return false
		}
		return t.Tombstone(messageID, e.clock.Now())
	})
	if !found {
		return ErrThreadNotCached
	}
	if missing {
		return ErrMessageNotFound
	}
	metrics.RecordOptimistic("delete", channelHTTP)

	err := e.api.DeleteMessage(ctx, key, model.DeleteMessageRequest{MessageID: messageID, Scope: scope})
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("delete failed", logger.Thread(key), logger.MessageID(messageID), zap.Error(err))
		e.notify(Notice{
			Kind:      NoticeDeleteFailed,
			ThreadKey: key,
			MessageID: messageID,
			Message:   "Message could not be deleted",
			Err:       err,
		})
	}
	return nil
}

// ToggleReaction removes emoji if the current user holds it on the message
// and adds it otherwise. It reports whether the reaction is now held. A
// server failure keeps the local change and emits a notice.
func (e *Engine) ToggleReaction(ctx context.Context, key model.ThreadKey, messageID, emoji string) (bool, error) {
	if emoji == "" {
		return false, errors.New("empty emoji")
	}
	if model.IsProvisionalID(messageID) {
		return false, ErrMessagePending
	}

	ctx, span := e.tracer.Start(ctx, "engine.ToggleReaction")
	defer span.End()

	reaction := model.Reaction{UserID: e.opts.UserID, Emoji: emoji}
	var missing, add bool
	found := e.store.Update(key, func(t *cache.Thread) bool {
		msg := t.Get(messageID)
		if msg == nil {
			missing = true
			return false
		}
		add = !msg.HasReaction(reaction.UserID, emoji)
		_, changed := t.ApplyReaction(messageID, reaction, add)
		return changed
	})
	if !found {
		return false, ErrThreadNotCached
	}
	if missing {
		return false, ErrMessageNotFound
	}
	metrics.RecordOptimistic("reaction", channelHTTP)

	var err error
	if add {
		err = e.api.AddReaction(ctx, key, model.ReactionRequest{MessageID: messageID, Emoji: emoji})
	} else {
		err = e.api.RemoveReaction(ctx, key, messageID, emoji)
	}
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("reaction failed",
			logger.Thread(key),
			logger.MessageID(messageID),
			zap.Bool("add", add),
			zap.Error(err),
		)
		e.notify(Notice{
			Kind:      NoticeReactionFailed,
			ThreadKey: key,
			MessageID: messageID,
			Message:   "Reaction could not be saved",
			Err:       err,
		})
	}
	return add, nil
}

// MarkRead zeroes the unread counter and tells the server. Server errors are
// only logged.
func (e *Engine) MarkRead(ctx context.Context, key model.ThreadKey) error {
	found := e.store.Update(key, func(t *cache.Thread) bool {
		return t.ResetUnread()
	})
	if !found {
		return ErrThreadNotCached
	}

	req := model.MarkReadRequest{ThreadKey: key}
	if e.transport.Connected() {
		err := e.transport.PublishMarkRead(ctx, req)
		if err == nil {
			metrics.RecordOptimistic("mark_read", channelPush)
			return nil
		}
		e.logger.Debug("push mark-read failed, falling back to http", logger.Thread(key), zap.Error(err))
	}

	metrics.RecordOptimistic("mark_read", channelHTTP)
	if err := e.api.MarkRead(ctx, req); err != nil {
		e.logger.Warn("mark read failed", logger.Thread(key), zap.Error(err))
	}
	return nil
}

// Typing forwards local typing activity to the signaler.
func (e *Engine) Typing(ctx context.Context, key model.ThreadKey, typing bool) error {
	if !e.store.Has(key) {
		return ErrThreadNotCached
	}
	if typing {
		e.signaler.Keystroke(ctx, key)
	} else {
		e.signaler.StopTyping(ctx, key)
	}
	return nil
}
