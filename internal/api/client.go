// Package api is the request/response channel to the support server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// Config holds API client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// HTTPClient overrides the instrumented default client. Tests pass the
	// httptest server's client.
	HTTPClient *http.Client
}

// Client talks to the support REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates an API client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     log,
	}, nil
}

// ThreadPath returns the REST path of a thread.
func ThreadPath(key model.ThreadKey) string {
	switch key.Kind {
	case model.ThreadConversation:
		return "/conversations/" + url.PathEscape(key.ID)
	case model.ThreadAdmin:
		return "/admin/conversations/" + url.PathEscape(key.ID)
	case model.ThreadDirect:
		return "/direct/" + url.PathEscape(key.ID)
	default:
		return "/internal"
	}
}

func messagesPath(key model.ThreadKey) string {
	return ThreadPath(key) + "/messages"
}

func messagePath(key model.ThreadKey, messageID string) string {
	return messagesPath(key) + "/" + url.PathEscape(messageID)
}

// ListMessages returns the page of messages strictly older than before, or
// the newest page when before is empty. Messages are oldest first.
func (c *Client) ListMessages(ctx context.Context, key model.ThreadKey, before string, limit int) (*model.ListMessagesResponse, error) {
	query := url.Values{}
	if before != "" {
		query.Set("before", before)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := messagesPath(key)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp model.ListMessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Messages {
		if resp.Messages[i].ThreadKey.Kind == "" {
			resp.Messages[i].ThreadKey = key
		}
	}
	return &resp, nil
}

// SendMessage posts a message. The response echoes the correlation id.
func (c *Client) SendMessage(ctx context.Context, req model.SendMessageRequest) (*model.SendMessageResponse, error) {
	var resp model.SendMessageResponse
	if err := c.do(ctx, http.MethodPost, messagesPath(req.ThreadKey), req, &resp); err != nil {
		return nil, err
	}
	if resp.Message.ID == "" {
		return nil, fmt.Errorf("api: send response without message id")
	}
	if resp.Message.ThreadKey.Kind == "" {
		resp.Message.ThreadKey = req.ThreadKey
	}
	return &resp, nil
}

// DeleteMessage deletes a message for the caller or for everyone.
func (c *Client) DeleteMessage(ctx context.Context, key model.ThreadKey, req model.DeleteMessageRequest) error {
	return c.do(ctx, http.MethodDelete, messagePath(key, req.MessageID), req, nil)
}

// AddReaction adds the caller's emoji to a message.
func (c *Client) AddReaction(ctx context.Context, key model.ThreadKey, req model.ReactionRequest) error {
	return c.do(ctx, http.MethodPost, messagePath(key, req.MessageID)+"/reactions", req, nil)
}

// RemoveReaction removes the caller's emoji from a message.
func (c *Client) RemoveReaction(ctx context.Context, key model.ThreadKey, messageID, emoji string) error {
	path := messagePath(key, messageID) + "/reactions/" + url.PathEscape(emoji)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// MarkRead marks the thread read for the caller.
func (c *Client) MarkRead(ctx context.Context, req model.MarkReadRequest) error {
	return c.do(ctx, http.MethodPost, ThreadPath(req.ThreadKey)+"/read", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp.StatusCode, data)
		c.logger.Debug("api request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apiErr
	}

	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
