package handler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/engine"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
)

const noticeSubscriberBuffer = 16

// NoticeHub fans the engine's notice channel out to stream subscribers.
// Each subscriber sees only the notices of its thread.
type NoticeHub struct {
	logger *logger.Logger

	mu   sync.Mutex
	subs map[chan engine.Notice]model.ThreadKey
}

// NewNoticeHub creates an empty hub.
func NewNoticeHub(log *logger.Logger) *NoticeHub {
	return &NoticeHub{
		logger: log,
		subs:   make(map[chan engine.Notice]model.ThreadKey),
	}
}

// Run forwards notices until ctx is done or notices is closed.
func (h *NoticeHub) Run(ctx context.Context, notices <-chan engine.Notice) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			h.logger.Info("notice",
				zap.String("kind", string(n.Kind)),
				logger.Thread(n.ThreadKey),
				logger.MessageID(n.MessageID),
			)
			h.publish(n)
		}
	}
}

func (h *NoticeHub) publish(n engine.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, key := range h.subs {
		if key != n.ThreadKey {
			continue
		}
		select {
		case ch <- n:
		default:
			h.logger.Warn("stream subscriber lagging, notice dropped", logger.Thread(key))
		}
	}
}

// Subscribe returns the notices for key and a cancel func.
func (h *NoticeHub) Subscribe(key model.ThreadKey) (<-chan engine.Notice, func()) {
	ch := make(chan engine.Notice, noticeSubscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = key
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of open subscriptions.
func (h *NoticeHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
