package engine

import (
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/cache"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
	"github.com/capitalize-ai/support-sync/pkg/metrics"
)

// Resolution is how an authoritative message record landed in the cache.
type Resolution string

const (
	ResolvedReplaced  Resolution = "replaced"
	ResolvedDuplicate Resolution = "duplicate"
	ResolvedInserted  Resolution = "inserted"
	ResolvedDropped   Resolution = "dropped"
)

// resolve applies one authoritative message record to its thread:
//  1. an entry with the correlation id is replaced in place;
//  2. otherwise an entry with the authoritative id means a duplicate;
//  3. otherwise the record is inserted into page 0 by CreatedAt.
func (e *Engine) resolve(key model.ThreadKey, msg model.Message, correlationID string, countUnread bool) Resolution {
	if msg.ThreadKey.Kind == "" {
		msg.ThreadKey = key
	}

	var outcome Resolution
	var confirmed *PendingSend
	found := e.store.Update(key, func(t *cache.Thread) bool {
		if correlationID != "" {
			if rec, err := e.pending.Transition(correlationID, StateConfirmed); err == nil {
				confirmed = &rec
			}
			if t.Contains(correlationID) {
				t.ReplaceInPlace(correlationID, msg.Clone())
				outcome = ResolvedReplaced
				return true
			}
		}
		if t.Contains(msg.ID) {
			outcome = ResolvedDuplicate
			return false
		}
		t.InsertNewest(msg.Clone())
		if countUnread && msg.SenderID != e.opts.UserID {
			t.IncrementUnread()
		}
		outcome = ResolvedInserted
		return true
	})
	if !found {
		outcome = ResolvedDropped
		if correlationID != "" {
			if rec, err := e.pending.Transition(correlationID, StateConfirmed); err == nil {
				confirmed = &rec
			}
		}
	}

	if confirmed != nil {
		metrics.SendConfirmDuration.Observe(e.clock.Now().Sub(confirmed.StartedAt).Seconds())
	}
	metrics.RecordReconcile(string(outcome))

	fields := []zap.Field{
		logger.Thread(key),
		logger.MessageID(msg.ID),
		zap.String("resolution", string(outcome)),
	}
	if correlationID != "" {
		fields = append(fields, logger.CorrelationID(correlationID))
	}
	e.logger.Debug("message resolved", fields...)
	return outcome
}

// Handle applies one inbound event. It is safe to call from the transport's
// delivery goroutine.
func (e *Engine) Handle(ev model.Event) {
	result := "applied"

	switch ev := ev.(type) {
	case model.MessageCreated:
		if e.resolve(ev.Message.ThreadKey, ev.Message, ev.CorrelationID, true) == ResolvedDropped {
			result = "dropped"
		}

	case model.MessageConfirmed:
		if e.resolve(ev.Message.ThreadKey, ev.Message, ev.CorrelationID, false) == ResolvedDropped {
			result = "dropped"
		}

	case model.MessageDeleted:
		if model.IsProvisionalID(ev.MessageID) {
			result = "ignored"
			break
		}
		if !e.store.Update(ev.ThreadKey, func(t *cache.Thread) bool {
			return t.Tombstone(ev.MessageID, ev.DeletedAt)
		}) {
			result = "dropped"
		}

	case model.ReactionChanged:
		var known bool
		e.store.Update(ev.ThreadKey, func(t *cache.Thread) bool {
			var changed bool
			known, changed = t.ApplyReaction(ev.MessageID, ev.Reaction, ev.Added)
			return changed
		})
		if !known {
			result = "dropped"
		}

	case model.MessagesRead:
		if !ev.ThreadKey.TracksStatus() || ev.ReaderID == e.opts.UserID {
			result = "ignored"
			break
		}
		if !e.store.Update(ev.ThreadKey, func(t *cache.Thread) bool {
			return t.MarkRead(e.opts.UserID, ev.ReadAt) > 0
		}) {
			result = "dropped"
		}

	case model.ThreadCleared:
		if !e.store.Update(ev.ThreadKey, func(t *cache.Thread) bool {
			t.Clear()
			return true
		}) {
			result = "dropped"
		}

	case model.TypingChanged:
		if ev.UserID == e.opts.UserID {
			result = "ignored"
			break
		}
		if !e.store.Has(ev.ThreadKey) {
			result = "dropped"
			break
		}
		e.signaler.RemoteTyping(ev.ThreadKey, ev.UserID, ev.IsTyping)

	case model.PresenceChanged:
		e.signaler.SetOnline(ev.UserID, ev.Online)

	case model.ConnectionChanged:
		metrics.SetTransportConnected(ev.Connected)
		if ev.Connected && ev.Reconnected {
			metrics.TransportReconnectsTotal.Inc()
			e.signaler.ResetOnline()
		}

	default:
		result = "unknown"
		e.logger.Warn("unhandled event", zap.String("event", ev.EventName()))
	}

	metrics.RecordPushEvent(ev.EventName(), result)
	if result == "dropped" {
		e.logger.Debug("event for uncached thread dropped", zap.String("event", ev.EventName()))
	}
}
