package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/capitalize-ai/support-sync/pkg/logger"
	"github.com/capitalize-ai/support-sync/pkg/metrics"
)

const heartbeatInterval = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	engine    Engine
	notices   *NoticeHub
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(eng Engine, notices *NoticeHub, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		engine:    eng,
		notices:   notices,
		logger:    log,
		heartbeat: heartbeatInterval,
	}
}

// HeartbeatEvent keeps idle streams open through proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /threads/{key}/stream. It sends the current view, then
// a fresh view after every change to the thread, and each failure notice for
// it. Changes that land while a view is being written coalesce into one.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := validateKeyParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Subscribe before reading the first view so no change is missed.
	changes, stopWatch := h.engine.Watch(key)
	defer stopWatch()
	notices, stopNotices := h.notices.Subscribe(key)
	defer stopNotices()

	view, ok := h.engine.View(key)
	if !ok {
		writeError(w, http.StatusNotFound, "thread not open")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Track active connection
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	if err := sendSSEEvent(w, flusher, "snapshot", view); err != nil {
		h.logger.Error("failed to encode snapshot", logger.Thread(key))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", logger.Thread(key))
			return

		case _, ok := <-changes:
			if !ok {
				return
			}
			view, open := h.engine.View(key)
			if !open {
				sendSSEEvent(w, flusher, "closed", map[string]string{"thread_id": key.String()})
				return
			}
			sendSSEEvent(w, flusher, "snapshot", view)

		case n := <-notices:
			sendSSEEvent(w, flusher, "notice", n)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
