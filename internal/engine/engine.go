// Package engine keeps cached threads in sync with the server: optimistic
// writes go out through the pipeline and come back through reconciliation.
package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/cache"
	"github.com/capitalize-ai/support-sync/internal/clock"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/internal/presence"
	"github.com/capitalize-ai/support-sync/pkg/logger"
	"github.com/capitalize-ai/support-sync/pkg/tracing"
)

// Transport is the push channel. Publishes are fire-and-forget; results come
// back as inbound events. PublishSend errors wrapping
// transport.ErrNotPublished mean the send never left the client; any other
// error leaves the outcome unknown.
type Transport interface {
	Connected() bool
	PublishSend(ctx context.Context, req model.SendMessageRequest) error
	PublishMarkRead(ctx context.Context, req model.MarkReadRequest) error
	PublishTyping(ctx context.Context, req model.TypingRequest) error
}

// API is the request/response channel.
type API interface {
	ListMessages(ctx context.Context, key model.ThreadKey, before string, limit int) (*model.ListMessagesResponse, error)
	SendMessage(ctx context.Context, req model.SendMessageRequest) (*model.SendMessageResponse, error)
	DeleteMessage(ctx context.Context, key model.ThreadKey, req model.DeleteMessageRequest) error
	AddReaction(ctx context.Context, key model.ThreadKey, req model.ReactionRequest) error
	RemoveReaction(ctx context.Context, key model.ThreadKey, messageID, emoji string) error
	MarkRead(ctx context.Context, req model.MarkReadRequest) error
}

// Options configures an Engine.
type Options struct {
	UserID           string
	PageSize         int
	SendTimeout      time.Duration
	NoticeBufferSize int
	Presence         presence.Options
}

// DefaultOptions returns production timings for userID.
func DefaultOptions(userID string) Options {
	return Options{
		UserID:           userID,
		PageSize:         30,
		SendTimeout:      8 * time.Second,
		NoticeBufferSize: 64,
		Presence:         presence.DefaultOptions(),
	}
}

// Engine is the synchronization engine of one signed-in session.
type Engine struct {
	opts      Options
	store     *cache.Store
	pending   *Tracker
	signaler  *presence.Signaler
	transport Transport
	api       API
	clock     clock.Clock
	notices   chan Notice
	tracer    trace.Tracer
	logger    *logger.Logger
}

// New creates an Engine with its own cache and presence state.
func New(transport Transport, api API, clk clock.Clock, opts Options, log *logger.Logger) *Engine {
	if opts.NoticeBufferSize <= 0 {
		opts.NoticeBufferSize = 64
	}
	e := &Engine{
		opts:      opts,
		store:     cache.NewStore(),
		pending:   NewTracker(),
		transport: transport,
		api:       api,
		clock:     clk,
		notices:   make(chan Notice, opts.NoticeBufferSize),
		tracer:    tracing.Tracer("support-sync/engine"),
		logger:    log.Named("engine"),
	}
	e.signaler = presence.New(clk, transport, opts.Presence, e.store.Touch, log.Named("presence"))
	return e
}

// UserID returns the signed-in user.
func (e *Engine) UserID() string { return e.opts.UserID }

// Presence exposes the typing and online state owned by this engine.
func (e *Engine) Presence() *presence.Signaler { return e.signaler }

// Pending exposes the send state machine.
func (e *Engine) Pending() *Tracker { return e.pending }

// Notices delivers user-visible failures. Each failure is delivered once.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// View returns the UI read contract of a cached thread.
func (e *Engine) View(key model.ThreadKey) (model.ThreadView, bool) {
	view, ok := e.store.View(key)
	if !ok {
		return view, false
	}
	view.Typing = e.signaler.Typing(key)
	return view, true
}

// Watch signals after each change to key, including typing changes.
func (e *Engine) Watch(key model.ThreadKey) (<-chan struct{}, func()) {
	return e.store.Watch(key)
}

// Threads lists the cached thread keys.
func (e *Engine) Threads() []model.ThreadKey { return e.store.Keys() }

// CloseThread evicts a thread together with its typing state and any sends
// still waiting on it.
func (e *Engine) CloseThread(ctx context.Context, key model.ThreadKey) bool {
	e.signaler.StopTyping(ctx, key)
	e.signaler.ForgetThread(key)
	e.pending.Abandon(key)
	return e.store.Drop(key)
}

// Logout discards all session state. The engine must not be used afterwards.
func (e *Engine) Logout() {
	e.signaler.Close()
	e.pending.Reset()
	e.store.Reset()
	e.logger.Info("session state cleared")
}

func (e *Engine) notify(n Notice) {
	if n.At.IsZero() {
		n.At = e.clock.Now()
	}
	if n.Message == "" && n.Err != nil {
		n.Message = n.Err.Error()
	}
	select {
	case e.notices <- n:
	default:
		e.logger.Warn("notice dropped, buffer full",
			zap.String("kind", string(n.Kind)),
			logger.Thread(n.ThreadKey),
		)
	}
}
