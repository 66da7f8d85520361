// Package transport provides the single NATS connection shared by every
// thread: inbound push events and low-latency client actions.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-sync/internal/model"
	"github.com/capitalize-ai/support-sync/pkg/logger"
	"github.com/capitalize-ai/support-sync/pkg/metrics"
)

// ErrNotPublished marks a send that never reached the outbox stream. Any
// other PublishSend error leaves the outcome unknown: the server may still
// have stored the message.
var ErrNotPublished = errors.New("send not published")

// ErrNotConnected is returned by publishes while the connection is down.
var ErrNotConnected = fmt.Errorf("transport not connected: %w", ErrNotPublished)

// Config holds NATS connection configuration.
type Config struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string

	// UserID scopes the inbound subscription and the outbox subjects.
	UserID string

	// PublishTimeout bounds the wait for a JetStream ack on sends.
	PublishTimeout time.Duration
}

// Handler receives every decoded inbound event, including connection
// changes. Calls for one subscription are sequential.
type Handler func(model.Event)

// Client wraps the NATS connection and its declarative subscriptions.
type Client struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	cfg     Config
	handler Handler
	logger  *logger.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func newClient(cfg Config, handler Handler, log *logger.Logger) *Client {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  log,
		subs:    make(map[string]*nats.Subscription),
	}
}

// New creates a disconnected client. Publishes fail with ErrNotConnected
// until Connect succeeds.
func New(cfg Config, log *logger.Logger) *Client {
	return newClient(cfg, nil, log)
}

// Connect dials NATS, routes every inbound event to handler and registers the
// user's subscriptions. An unreachable server is not an error: the client
// keeps retrying in the background and reports ConnectionChanged once it
// gets through.
func (c *Client) Connect(ctx context.Context, handler Handler) error {
	cfg := c.cfg
	log := c.logger
	c.handler = handler

	opts := []nats.Option{
		nats.Name("support-sync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info("NATS connected", zap.String("url", nc.ConnectedUrl()))
			c.handler(model.ConnectionChanged{Connected: true})
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
			c.handler(model.ConnectionChanged{Connected: false})
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			c.ensureSubscriptions()
			c.handler(model.ConnectionChanged{Connected: true, Reconnected: true})
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			log.Error("NATS error", fields...)
		}),
	}

	// Add TLS configuration if certificates are provided
	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	// Add token authentication if provided
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.mu.Lock()
	c.conn = nc
	c.js = js
	c.mu.Unlock()

	for _, subject := range []string{UserSubject(cfg.UserID), PresenceSubject()} {
		if err := c.Subscribe(subject); err != nil {
			nc.Close()
			return err
		}
	}

	return nil
}

// Subscribe registers subject. Registration is idempotent and survives
// reconnects.
func (c *Client) Subscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[subject]; ok && sub != nil && sub.IsValid() {
		return nil
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	sub, err := c.conn.Subscribe(subject, c.deliver)
	if err != nil {
		c.subs[subject] = nil
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs[subject] = sub
	return nil
}

// ensureSubscriptions re-applies every registered subject that lost its
// subscription.
func (c *Client) ensureSubscriptions() {
	for _, subject := range c.Subscriptions() {
		if err := c.Subscribe(subject); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("subject", subject), zap.Error(err))
		}
	}
}

// Subscriptions lists the registered subjects.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	subjects := make([]string, 0, len(c.subs))
	for subject := range c.subs {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

func (c *Client) deliver(msg *nats.Msg) {
	ev, err := model.DecodeEnvelope(msg.Data)
	if err != nil {
		metrics.RecordPushEvent("malformed", "rejected")
		c.logger.Warn("dropping malformed push frame",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}
	c.handler(ev)
}

func (c *Client) connection() (*nats.Conn, jetstream.JetStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.js
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	conn, _ := c.connection()
	return conn != nil && conn.IsConnected()
}

// classifyPublishError marks errors that prove no stream stored the message.
// Timeouts and dropped connections are left unmarked.
func classifyPublishError(err error) error {
	if errors.Is(err, jetstream.ErrNoStreamResponse) || errors.Is(err, nats.ErrNoResponders) {
		return fmt.Errorf("%w: %w", ErrNotPublished, err)
	}
	return fmt.Errorf("failed to publish send: %w", err)
}

// PublishSend hands a send to the server through the JetStream outbox. The
// correlation id doubles as the JetStream message id, so a duplicate publish
// inside the dedup window is discarded by the broker.
// Errors wrapping ErrNotPublished mean the send never left the client.
func (c *Client) PublishSend(ctx context.Context, req model.SendMessageRequest) error {
	conn, js := c.connection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	data, err := encode(EventSend, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotPublished, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	msg := c.newMsg(OutboxSubject(c.cfg.UserID, "send"), data)
	if _, err := js.PublishMsg(ctx, msg, jetstream.WithMsgID(req.CorrelationID)); err != nil {
		return classifyPublishError(err)
	}
	return nil
}

// PublishMarkRead publishes a mark-read. No ack is awaited.
func (c *Client) PublishMarkRead(ctx context.Context, req model.MarkReadRequest) error {
	return c.publish(ctx, OutboxSubject(c.cfg.UserID, "read"), EventMarkRead, req)
}

// PublishTyping publishes a typing start or stop. No ack is awaited.
func (c *Client) PublishTyping(ctx context.Context, req model.TypingRequest) error {
	return c.publish(ctx, OutboxSubject(c.cfg.UserID, "typing"), EventTyping, req)
}

func (c *Client) publish(ctx context.Context, subject, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, _ := c.connection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	if err := conn.PublishMsg(c.newMsg(subject, data)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	return nil
}

func (c *Client) newMsg(subject string, data []byte) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Header.Set("User-Id", c.cfg.UserID)
	msg.Data = data
	return msg
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", event, err)
	}
	data, err := json.Marshal(model.Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() {
	conn, _ := c.connection()
	if conn == nil {
		return
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
