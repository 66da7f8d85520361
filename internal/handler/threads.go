package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/engine"
	"github.com/capitalize-ai/support-sync/internal/middleware"
	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
)

// Engine is the slice of the sync engine the bridge drives.
type Engine interface {
	Threads() []model.ThreadKey
	View(key model.ThreadKey) (model.ThreadView, bool)
	Watch(key model.ThreadKey) (<-chan struct{}, func())
	OpenThread(ctx context.Context, key model.ThreadKey) (model.ThreadView, error)
	FetchOlder(ctx context.Context, key model.ThreadKey) (int, error)
	CloseThread(ctx context.Context, key model.ThreadKey) bool
	Send(ctx context.Context, key model.ThreadKey, draft engine.Draft) (string, error)
	Delete(ctx context.Context, key model.ThreadKey, messageID string, scope model.DeleteScope) error
	ToggleReaction(ctx context.Context, key model.ThreadKey, messageID, emoji string) (bool, error)
	MarkRead(ctx context.Context, key model.ThreadKey) error
	Typing(ctx context.Context, key model.ThreadKey, typing bool) error
}

// OnlineLister lists the users currently online.
type OnlineLister interface {
	Online() []string
}

// ThreadHandler handles thread endpoints.
type ThreadHandler struct {
	engine   Engine
	presence OnlineLister
	staff    bool
	logger   *logger.Logger
}

// NewThreadHandler creates a new thread handler. Unless staff is set, only
// conversation threads are reachable.
func NewThreadHandler(eng Engine, presence OnlineLister, staff bool, log *logger.Logger) *ThreadHandler {
	return &ThreadHandler{
		engine:   eng,
		presence: presence,
		staff:    staff,
		logger:   log,
	}
}

// SendResponse is the result of a send.
type SendResponse struct {
	ID string `json:"id"`
}

// OlderResponse is the result of an older-page fetch.
type OlderResponse struct {
	Added int              `json:"added"`
	View  model.ThreadView `json:"view"`
}

// ReactionBody is the body of a reaction toggle.
type ReactionBody struct {
	Emoji string `json:"emoji"`
}

// ReactionResponse reports whether the reaction is held after the toggle.
type ReactionResponse struct {
	Added bool `json:"added"`
}

// TypingBody is the body of a typing update.
type TypingBody struct {
	IsTyping bool `json:"is_typing"`
}

func (h *ThreadHandler) threadKey(w http.ResponseWriter, r *http.Request) (model.ThreadKey, bool) {
	key, err := validateKeyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.ThreadKey{}, false
	}
	if key.StaffOnly() && !h.staff {
		writeError(w, http.StatusForbidden, "thread requires a staff session")
		return model.ThreadKey{}, false
	}
	return key, true
}

// List handles GET /threads
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	keys := h.engine.Threads()
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"threads": out})
}

// Get handles GET /threads/{key}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}

	view, ok := h.engine.View(key)
	if !ok {
		writeError(w, http.StatusNotFound, "thread not open")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Open handles POST /threads/{key}/open
func (h *ThreadHandler) Open(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}

	view, err := h.engine.OpenThread(r.Context(), key)
	if err != nil {
		h.logger.Warn("failed to open thread", logger.Thread(key), zap.Error(err))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Close handles DELETE /threads/{key}
func (h *ThreadHandler) Close(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}

	if !h.engine.CloseThread(r.Context(), key) {
		writeError(w, http.StatusNotFound, "thread not open")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Older handles POST /threads/{key}/older
func (h *ThreadHandler) Older(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}

	added, err := h.engine.FetchOlder(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view, _ := h.engine.View(key)
	writeJSON(w, http.StatusOK, OlderResponse{Added: added, View: view})
}

// Send handles POST /threads/{key}/messages
func (h *ThreadHandler) Send(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}

	var draft engine.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if draft.Type == "" {
		draft.Type = model.MessageText
	}
	if draft.Type == model.MessageText {
		if err := middleware.ValidateMessageContent(draft.Content); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id, err := h.engine.Send(r.Context(), key, draft)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// The send resolves asynchronously; the stream reports the outcome.
	writeJSON(w, http.StatusAccepted, SendResponse{ID: id})
}

// Delete handles DELETE /threads/{key}/messages/{id}?scope=me|all
func (h *ThreadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "id")
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scope, err := middleware.ValidateDeleteScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.Delete(r.Context(), key, messageID, scope); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// React handles POST /threads/{key}/messages/{id}/reactions
func (h *ThreadHandler) React(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "id")
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body ReactionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateEmoji(body.Emoji); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	added, err := h.engine.ToggleReaction(r.Context(), key, messageID, body.Emoji)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReactionResponse{Added: added})
}

// MarkRead handles POST /threads/{key}/read
func (h *ThreadHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}

	if err := h.engine.MarkRead(r.Context(), key); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Typing handles POST /threads/{key}/typing
func (h *ThreadHandler) Typing(w http.ResponseWriter, r *http.Request) {
	key, ok := h.threadKey(w, r)
	if !ok {
		return
	}

	var body TypingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Keystrokes outlive the request; the signaler's timers emit the stop.
	if err := h.engine.Typing(context.WithoutCancel(r.Context()), key, body.IsTyping); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Presence handles GET /presence
func (h *ThreadHandler) Presence(w http.ResponseWriter, r *http.Request) {
	online := h.presence.Online()
	if online == nil {
		online = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"online": online})
}
