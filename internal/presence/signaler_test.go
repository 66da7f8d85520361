package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/support-sync/internal/clock"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
)

type recordingEmitter struct {
	mu   sync.Mutex
	sent []model.TypingRequest
}

func (r *recordingEmitter) PublishTyping(_ context.Context, req model.TypingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, req)
	return nil
}

func (r *recordingEmitter) states() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, 0, len(r.sent))
	for _, req := range r.sent {
		out = append(out, req.IsTyping)
	}
	return out
}

func newTestSignaler() (*Signaler, *clock.FakeClock, *recordingEmitter, *[]model.ThreadKey) {
	clk := clock.Fake(time.Unix(1_700_000_000, 0))
	em := &recordingEmitter{}
	var changes []model.ThreadKey
	s := New(clk, em, DefaultOptions(), func(k model.ThreadKey) {
		changes = append(changes, k)
	}, logger.NewNop())
	return s, clk, em, &changes
}

func TestKeystrokeCoalescesAndAutoStops(t *testing.T) {
	s, clk, em, _ := newTestSignaler()
	ctx := context.Background()
	key := model.ConversationThread("c1")

	s.Keystroke(ctx, key)
	clk.Advance(500 * time.Millisecond)
	s.Keystroke(ctx, key)
	clk.Advance(500 * time.Millisecond)
	s.Keystroke(ctx, key)
	assert.Equal(t, []bool{true}, em.states())
	assert.True(t, s.IsTyping(key))

	// Continuous typing renews the start once the idle window has passed.
	clk.Advance(1 * time.Second)
	s.Keystroke(ctx, key)
	assert.Equal(t, []bool{true, true}, em.states())

	clk.Advance(1999 * time.Millisecond)
	assert.Equal(t, []bool{true, true}, em.states())

	clk.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, true, false}, em.states())
	assert.False(t, s.IsTyping(key))
}

func TestStopTypingIsImmediate(t *testing.T) {
	s, clk, em, _ := newTestSignaler()
	ctx := context.Background()
	key := model.DirectThread("u2")

	s.StopTyping(ctx, key)
	assert.Empty(t, em.states())

	s.Keystroke(ctx, key)
	s.StopTyping(ctx, key)
	assert.Equal(t, []bool{true, false}, em.states())

	// The idle timer was cancelled, so no second stop.
	clk.Advance(5 * time.Second)
	assert.Equal(t, []bool{true, false}, em.states())
}

func TestRemoteTypingExpires(t *testing.T) {
	s, clk, _, changes := newTestSignaler()
	key := model.ConversationThread("c1")

	s.RemoteTyping(key, "agent-1", true)
	s.RemoteTyping(key, "agent-2", true)
	assert.Equal(t, []string{"agent-1", "agent-2"}, s.Typing(key))

	clk.Advance(3 * time.Second)
	s.RemoteTyping(key, "agent-1", true)

	clk.Advance(1 * time.Second)
	assert.Equal(t, []string{"agent-1"}, s.Typing(key))

	clk.Advance(3 * time.Second)
	assert.Empty(t, s.Typing(key))
	assert.Len(t, *changes, 4)
}

func TestRemoteTypingStop(t *testing.T) {
	s, clk, _, changes := newTestSignaler()
	key := model.InternalThread()

	s.RemoteTyping(key, "u3", false)
	assert.Empty(t, *changes)

	s.RemoteTyping(key, "u3", true)
	s.RemoteTyping(key, "u3", false)
	assert.Empty(t, s.Typing(key))
	assert.Len(t, *changes, 2)

	clk.Advance(10 * time.Second)
	assert.Len(t, *changes, 2)
}

func TestOnlineSetIsInstanceScoped(t *testing.T) {
	a, _, _, _ := newTestSignaler()
	b, _, _, _ := newTestSignaler()

	a.SetOnline("u1", true)
	a.SetOnline("u2", true)
	a.SetOnline("u2", false)

	assert.Equal(t, []string{"u1"}, a.Online())
	assert.True(t, a.IsOnline("u1"))
	assert.Empty(t, b.Online())

	a.ResetOnline()
	assert.Empty(t, a.Online())
}

func TestCloseTearsDown(t *testing.T) {
	s, clk, em, _ := newTestSignaler()
	ctx := context.Background()
	key := model.ConversationThread("c1")

	s.Keystroke(ctx, key)
	s.RemoteTyping(key, "agent", true)
	s.SetOnline("agent", true)

	s.Close()
	assert.Empty(t, s.Online())
	assert.Empty(t, s.Typing(key))
	assert.Equal(t, 0, clk.PendingCount())

	s.SetOnline("agent", true)
	s.Keystroke(ctx, key)
	assert.Empty(t, s.Online())
	assert.Equal(t, []bool{true}, em.states())
}
