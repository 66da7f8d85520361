package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-sync/internal/api"
	"github.com/capitalize-ai/support-sync/internal/engine"
	"github.com/capitalize-ai/support-sync/internal/middleware"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
)

const (
	testSecret = "bridge-secret"
	testUser   = "user-1"
)

type fakeEngine struct {
	mu      sync.Mutex
	views   map[model.ThreadKey]model.ThreadView
	changes chan struct{}

	openErr   error
	olderErr  error
	deleteErr error
	sent      []engine.Draft
	deleted   []string
	scopes    []model.DeleteScope
	typing    []bool
	typingCtx context.Context
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		views:   make(map[model.ThreadKey]model.ThreadView),
		changes: make(chan struct{}, 1),
	}
}

func (f *fakeEngine) setView(view model.ThreadView) {
	f.mu.Lock()
	f.views[view.ThreadKey] = view
	f.mu.Unlock()
}

func (f *fakeEngine) Threads() []model.ThreadKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]model.ThreadKey, 0, len(f.views))
	for key := range f.views {
		keys = append(keys, key)
	}
	return keys
}

func (f *fakeEngine) View(key model.ThreadKey) (model.ThreadView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[key]
	return v, ok
}

func (f *fakeEngine) Watch(model.ThreadKey) (<-chan struct{}, func()) {
	return f.changes, func() {}
}

func (f *fakeEngine) OpenThread(_ context.Context, key model.ThreadKey) (model.ThreadView, error) {
	if f.openErr != nil {
		return model.ThreadView{}, f.openErr
	}
	view := model.ThreadView{ThreadKey: key, Messages: []model.Message{}, HasMoreOlder: true}
	f.setView(view)
	return view, nil
}

func (f *fakeEngine) FetchOlder(_ context.Context, key model.ThreadKey) (int, error) {
	if f.olderErr != nil {
		return 0, f.olderErr
	}
	if _, ok := f.View(key); !ok {
		return 0, engine.ErrThreadNotCached
	}
	return 3, nil
}

func (f *fakeEngine) CloseThread(_ context.Context, key model.ThreadKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.views[key]
	delete(f.views, key)
	return ok
}

func (f *fakeEngine) Send(_ context.Context, key model.ThreadKey, draft engine.Draft) (string, error) {
	if _, ok := f.View(key); !ok {
		return "", engine.ErrThreadNotCached
	}
	f.mu.Lock()
	f.sent = append(f.sent, draft)
	f.mu.Unlock()
	return "temp-1714554000000-ab12cd34", nil
}

func (f *fakeEngine) Delete(_ context.Context, _ model.ThreadKey, id string, scope model.DeleteScope) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	f.scopes = append(f.scopes, scope)
	return nil
}

func (f *fakeEngine) ToggleReaction(_ context.Context, _ model.ThreadKey, id, emoji string) (bool, error) {
	if id == "missing" {
		return false, engine.ErrMessageNotFound
	}
	return true, nil
}

func (f *fakeEngine) MarkRead(_ context.Context, key model.ThreadKey) error {
	if _, ok := f.View(key); !ok {
		return engine.ErrThreadNotCached
	}
	return nil
}

func (f *fakeEngine) Typing(ctx context.Context, _ model.ThreadKey, typing bool) error {
	f.typing = append(f.typing, typing)
	f.typingCtx = ctx
	return nil
}

type fakePresence []string

func (p fakePresence) Online() []string { return p }

type fakeConn bool

func (c fakeConn) Connected() bool { return bool(c) }

type bridge struct {
	engine *fakeEngine
	hub    *NoticeHub
	router http.Handler
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	return newBridgeFor(t, true)
}

func newBridgeFor(t *testing.T, staff bool) *bridge {
	t.Helper()
	b := &bridge{engine: newFakeEngine(), hub: NewNoticeHub(logger.NewNop())}
	b.router = NewRouter(RouterConfig{
		Engine:            b.engine,
		Presence:          fakePresence{"agent-1"},
		Transport:         fakeConn(true),
		Notices:           b.hub,
		Logger:            logger.NewNop(),
		UserID:            testUser,
		Staff:             staff,
		Secret:            testSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	})
	return b
}

func bridgeToken(t *testing.T, scopes ...string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: testUser},
		Scopes:           scopes,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (b *bridge) do(t *testing.T, method, target, body string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if scopes == nil {
		scopes = []string{middleware.ScopeRead, middleware.ScopeWrite}
	}
	req.Header.Set("Authorization", "Bearer "+bridgeToken(t, scopes...))
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	b := newBridge(t)

	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	b.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(fakeConn(false)).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestThreadRoutesRequireAuth(t *testing.T) {
	b := newBridge(t)

	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(t, http.MethodPost, "/threads/internal/open", "", middleware.ScopeRead)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOpenGetAndList(t *testing.T) {
	b := newBridge(t)

	rec := b.do(t, http.MethodGet, "/threads/conversation:c1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = b.do(t, http.MethodPost, "/threads/conversation:c1/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view model.ThreadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, model.ConversationThread("c1"), view.ThreadKey)
	assert.True(t, view.HasMoreOlder)

	rec = b.do(t, http.MethodGet, "/threads/conversation:c1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = b.do(t, http.MethodGet, "/threads", "")
	assert.JSONEq(t, `{"threads":["conversation:c1"]}`, rec.Body.String())

	rec = b.do(t, http.MethodGet, "/threads/group:g1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndUserReachesOnlyConversations(t *testing.T) {
	b := newBridgeFor(t, false)

	for _, target := range []string{"/threads/internal/open", "/threads/admin:p1/open", "/threads/direct:u2/open"} {
		rec := b.do(t, http.MethodPost, target, "")
		assert.Equal(t, http.StatusForbidden, rec.Code, target)
	}
	_, opened := b.engine.View(model.InternalThread())
	assert.False(t, opened)

	rec := b.do(t, http.MethodPost, "/threads/internal/messages", `{"type":"TEXT","content":"hi"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = b.do(t, http.MethodPost, "/threads/conversation:c1/open", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenMapsServerErrors(t *testing.T) {
	b := newBridge(t)

	b.engine.openErr = &api.Error{Status: http.StatusForbidden, Message: "not a participant"}
	rec := b.do(t, http.MethodPost, "/threads/direct:u2/open", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"not a participant"}`, rec.Body.String())

	b.engine.openErr = context.DeadlineExceeded
	rec = b.do(t, http.MethodPost, "/threads/direct:u2/open", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestOlderAndClose(t *testing.T) {
	b := newBridge(t)

	rec := b.do(t, http.MethodPost, "/threads/internal/older", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	b.engine.setView(model.ThreadView{ThreadKey: model.InternalThread()})
	rec = b.do(t, http.MethodPost, "/threads/internal/older", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OlderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Added)

	rec = b.do(t, http.MethodDelete, "/threads/internal", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = b.do(t, http.MethodDelete, "/threads/internal", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendRoute(t *testing.T) {
	b := newBridge(t)
	b.engine.setView(model.ThreadView{ThreadKey: model.DirectThread("u2")})

	rec := b.do(t, http.MethodPost, "/threads/direct:u2/messages", `{"content":"hello"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"id":"temp-1714554000000-ab12cd34"}`, rec.Body.String())
	require.Len(t, b.engine.sent, 1)
	assert.Equal(t, model.MessageText, b.engine.sent[0].Type)

	rec = b.do(t, http.MethodPost, "/threads/direct:u2/messages", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.do(t, http.MethodPost, "/threads/direct:u2/messages", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.do(t, http.MethodPost, "/threads/direct:u9/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRoute(t *testing.T) {
	b := newBridge(t)

	rec := b.do(t, http.MethodDelete, "/threads/internal/messages/m1?scope=all", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = b.do(t, http.MethodDelete, "/threads/internal/messages/m2", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"m1", "m2"}, b.engine.deleted)
	assert.Equal(t, []model.DeleteScope{model.DeleteForAll, model.DeleteForMe}, b.engine.scopes)

	rec = b.do(t, http.MethodDelete, "/threads/internal/messages/m1?scope=everyone", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.engine.deleteErr = engine.ErrMessagePending
	rec = b.do(t, http.MethodDelete, "/threads/internal/messages/temp-1-a", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReactionRoute(t *testing.T) {
	b := newBridge(t)

	rec := b.do(t, http.MethodPost, "/threads/internal/messages/m1/reactions", `{"emoji":"👍"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"added":true}`, rec.Body.String())

	rec = b.do(t, http.MethodPost, "/threads/internal/messages/m1/reactions", `{"emoji":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.do(t, http.MethodPost, "/threads/internal/messages/missing/reactions", `{"emoji":"👍"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadTypingAndPresence(t *testing.T) {
	b := newBridge(t)

	rec := b.do(t, http.MethodPost, "/threads/conversation:c1/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	b.engine.setView(model.ThreadView{ThreadKey: model.ConversationThread("c1")})
	rec = b.do(t, http.MethodPost, "/threads/conversation:c1/read", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = b.do(t, http.MethodPost, "/threads/conversation:c1/typing", `{"is_typing":true}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []bool{true}, b.engine.typing)
	assert.NoError(t, b.engine.typingCtx.Err())

	rec = b.do(t, http.MethodGet, "/presence", "", middleware.ScopeRead)
	assert.JSONEq(t, `{"online":["agent-1"]}`, rec.Body.String())
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, scanner *bufio.Scanner, n int) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	for len(events) < n && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.Len(t, events, n)
	return events
}

func TestStream(t *testing.T) {
	b := newBridge(t)
	key := model.ConversationThread("c1")
	b.engine.setView(model.ThreadView{ThreadKey: key, Unread: 1})

	server := httptest.NewServer(b.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server.URL+"/threads/conversation:c1/stream?access_token="+bridgeToken(t, middleware.ScopeRead), nil)
	require.NoError(t, err)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	first := readEvents(t, scanner, 1)[0]
	assert.Equal(t, "snapshot", first.name)
	assert.Contains(t, first.data, `"unread":1`)

	b.engine.setView(model.ThreadView{ThreadKey: key, Unread: 0})
	b.engine.changes <- struct{}{}
	second := readEvents(t, scanner, 1)[0]
	assert.Equal(t, "snapshot", second.name)
	assert.Contains(t, second.data, `"unread":0`)

	require.Eventually(t, func() bool { return b.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	b.hub.publish(engine.Notice{Kind: engine.NoticeSendFailed, ThreadKey: key, MessageID: "temp-1-a"})
	b.hub.publish(engine.Notice{Kind: engine.NoticeSendFailed, ThreadKey: model.InternalThread()})
	notice := readEvents(t, scanner, 1)[0]
	assert.Equal(t, "notice", notice.name)
	assert.Contains(t, notice.data, `"message_id":"temp-1-a"`)

	b.engine.CloseThread(ctx, key)
	b.engine.changes <- struct{}{}
	closed := readEvents(t, scanner, 1)[0]
	assert.Equal(t, "closed", closed.name)
}

func TestStreamUnknownThread(t *testing.T) {
	b := newBridge(t)
	rec := b.do(t, http.MethodGet, "/threads/internal/stream", "", middleware.ScopeRead)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, b.hub.Subscribers())
}

func TestNoticeHubRun(t *testing.T) {
	hub := NewNoticeHub(logger.NewNop())
	key := model.DirectThread("u2")
	ch, cancelSub := hub.Subscribe(key)

	notices := make(chan engine.Notice, 2)
	notices <- engine.Notice{Kind: engine.NoticeDeleteFailed, ThreadKey: key, MessageID: "m1"}
	close(notices)

	require.NoError(t, hub.Run(context.Background(), notices))
	got := <-ch
	assert.Equal(t, "m1", got.MessageID)

	cancelSub()
	cancelSub()
	assert.Zero(t, hub.Subscribers())
}
