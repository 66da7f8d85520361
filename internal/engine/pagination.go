package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/cache"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
	"github.com/capitalize-ai/support-sync/pkg/metrics"
)

// OpenThread loads the newest page of key unless it is already cached.
func (e *Engine) OpenThread(ctx context.Context, key model.ThreadKey) (model.ThreadView, error) {
	if err := key.Validate(); err != nil {
		return model.ThreadView{}, err
	}
	if view, ok := e.View(key); ok {
		return view, nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.OpenThread")
	defer span.End()
	span.SetAttributes(attribute.String("thread", key.String()))

	resp, err := e.api.ListMessages(ctx, key, "", e.opts.PageSize)
	if err != nil {
		span.RecordError(err)
		metrics.PageFetchesTotal.WithLabelValues("error").Inc()
		return model.ThreadView{}, fmt.Errorf("failed to load thread %s: %w", key, err)
	}
	metrics.PageFetchesTotal.WithLabelValues("initial").Inc()

	if e.store.Open(key, resp.Messages, resp.HasMore) {
		e.logger.Debug("thread opened", logger.Thread(key), zap.Int("messages", len(resp.Messages)))
	}
	view, _ := e.View(key)
	return view, nil
}

// FetchOlder loads the page before the oldest cached message and appends it.
// It returns the number of messages added; zero with a nil error means there
// was nothing to fetch or a fetch was already running.
func (e *Engine) FetchOlder(ctx context.Context, key model.ThreadKey) (int, error) {
	var cursor string
	var claimed bool
	var epoch uint64
	found := e.store.Update(key, func(t *cache.Thread) bool {
		cursor, claimed = t.BeginLoadOlder()
		epoch = t.Epoch()
		return claimed
	})
	if !found {
		return 0, ErrThreadNotCached
	}
	if !claimed {
		metrics.PageFetchesTotal.WithLabelValues("skipped").Inc()
		return 0, nil
	}

	ctx, span := e.tracer.Start(ctx, "engine.FetchOlder")
	defer span.End()
	span.SetAttributes(
		attribute.String("thread", key.String()),
		attribute.String("before", cursor),
	)

	resp, err := e.api.ListMessages(ctx, key, cursor, e.opts.PageSize)
	if err != nil {
		span.RecordError(err)
		metrics.PageFetchesTotal.WithLabelValues("error").Inc()
		e.store.Update(key, func(t *cache.Thread) bool {
			if t.Epoch() != epoch {
				return false
			}
			t.AbortLoadOlder()
			return true
		})
		e.logger.Warn("older page fetch failed", logger.Thread(key), zap.String("before", cursor), zap.Error(err))
		e.notify(Notice{
			Kind:      NoticeFetchFailed,
			ThreadKey: key,
			Message:   "Older messages could not be loaded",
			Err:       err,
		})
		return 0, fmt.Errorf("failed to fetch messages before %s: %w", cursor, err)
	}

	var added int
	e.store.Update(key, func(t *cache.Thread) bool {
		if t.Epoch() != epoch {
			return false
		}
		added = t.AppendOlderPage(cursor, resp.Messages, resp.HasMore)
		return true
	})
	metrics.PageFetchesTotal.WithLabelValues("older").Inc()
	return added, nil
}
