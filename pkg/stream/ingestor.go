// Copyright 2024-2026 Aiku AI

// Package stream reads events from the Mattermost WebSocket and hands
// them to the router tree, reconnecting with backoff whenever the
// connection fails.
package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/metrics"
)

// Conn is the part of a WebSocket connection the ingestor uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Deliverer receives every event that survives filtering.
type Deliverer interface {
	Broadcast(ctx context.Context, eventType event.Type, evt event.Event) []error
}

// Config holds the connection settings.
type Config struct {
	URL       string
	Token     string
	BotUserID string

	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithDialer replaces the WebSocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(in *Ingestor) {
		in.dial = dial
	}
}

// WithSleep replaces the function used to wait between reconnects.
func WithSleep(sleep SleepFunc) Option {
	return func(in *Ingestor) {
		in.sleep = sleep
	}
}

// Ingestor owns the WebSocket connection lifecycle.
type Ingestor struct {
	cfg     Config
	target  Deliverer
	log     zerolog.Logger
	dial    DialFunc
	sleep   SleepFunc
	backoff *Backoff
}

// NewIngestor creates an ingestor delivering to target.
func NewIngestor(cfg Config, target Deliverer, log zerolog.Logger, opts ...Option) *Ingestor {
	in := &Ingestor{
		cfg:     cfg,
		target:  target,
		log:     log.With().Str("component", "mm_stream").Logger(),
		backoff: NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		sleep:   sleepContext,
	}
	in.dial = NewDialer(cfg)
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// NewDialer returns a DialFunc backed by gorilla/websocket.
func NewDialer(cfg Config) DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 45 * time.Second
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// WebSocketURL derives the WebSocket endpoint from a server URL.
func WebSocketURL(serverURL string) string {
	u := strings.TrimSuffix(serverURL, "/")
	if strings.HasPrefix(u, "https://") {
		u = "wss://" + strings.TrimPrefix(u, "https://")
	} else if strings.HasPrefix(u, "http://") {
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + model.APIURLSuffix + "/websocket"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run connects and processes frames until ctx is cancelled. Connection
// failures are logged and retried; Run only returns ctx's error.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		err := in.session(ctx)
		if ctx.Err() != nil {
			in.log.Info().Msg("Stream stopped")
			return ctx.Err()
		}
		category := Classify(err)
		delay := in.backoff.Next()
		metrics.Reconnects.WithLabelValues(string(category)).Inc()
		metrics.BackoffSeconds.Set(delay.Seconds())
		level := zerolog.ErrorLevel
		if category == CategoryClosed {
			level = zerolog.WarnLevel
		}
		in.log.WithLevel(level).
			Err(err).
			Str("category", string(category)).
			Dur("retry_in", delay).
			Msg("WebSocket connection failed, reconnecting")
		if err := in.sleep(ctx, delay); err != nil {
			in.log.Info().Msg("Stream stopped")
			return ctx.Err()
		}
	}
}

func (in *Ingestor) session(ctx context.Context) error {
	if err := validateURL(in.cfg.URL); err != nil {
		return err
	}
	conn, err := in.dial(ctx, in.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	auth := model.WebSocketRequest{
		Seq:    1,
		Action: string(model.WebsocketAuthenticationChallenge),
		Data:   map[string]any{"token": in.cfg.Token},
	}
	if err := conn.WriteJSON(&auth); err != nil {
		return fmt.Errorf("failed to send authentication challenge: %w", err)
	}
	in.backoff.Reset()
	metrics.BackoffSeconds.Set(0)
	in.log.Info().Str("ws_url", in.cfg.URL).Msg("WebSocket connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		in.handleFrame(ctx, raw)
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConnError{Category: CategoryInvalidURI, Err: err}
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return &ConnError{Category: CategoryInvalidURI, Err: fmt.Errorf("invalid websocket url %q", raw)}
	}
	return nil
}

func (in *Ingestor) handleFrame(ctx context.Context, raw []byte) {
	metrics.FramesReceived.Inc()
	evt, err := event.ParseFrame(raw)
	if err != nil {
		in.rejectFrame(raw, err)
		return
	}
	if reason := in.suppressReason(evt); reason != "" {
		metrics.EventsSuppressed.WithLabelValues(reason).Inc()
		in.log.Debug().
			Str("reason", reason).
			Str("post_id", evt.(*event.Posted).PostID).
			Msg("Ignoring post")
		return
	}

	log := in.log.With().Str("event_type", string(evt.EventType())).Logger()
	for _, err := range in.target.Broadcast(log.WithContext(ctx), evt.EventType(), evt) {
		log.Error().Err(err).Msg("Failed to handle event")
	}
}

func (in *Ingestor) rejectFrame(raw []byte, err error) {
	var classifyErr *event.ClassifyError
	switch {
	case errors.Is(err, event.ErrNotEvent):
		metrics.FramesRejected.WithLabelValues("reply").Inc()
		status := gjson.GetBytes(raw, "status")
		evt := in.log.Debug()
		if status.String() == "FAIL" {
			evt = in.log.Warn()
		}
		evt.Str("status", status.String()).
			Int64("seq_reply", gjson.GetBytes(raw, "seq_reply").Int()).
			Msg("Received reply")
	case errors.As(err, &classifyErr):
		metrics.FramesRejected.WithLabelValues("classify").Inc()
		in.log.Error().
			Err(err).
			Str("event_type", string(classifyErr.Type)).
			Bytes("raw", raw).
			Msg("Failed to parse event")
	default:
		metrics.FramesRejected.WithLabelValues("malformed").Inc()
		in.log.Error().
			Err(err).
			Bytes("raw", raw).
			Msg("Failed to parse frame")
	}
}

func (in *Ingestor) suppressReason(evt event.Event) string {
	posted, ok := evt.(*event.Posted)
	if !ok {
		return ""
	}
	switch {
	case in.cfg.BotUserID != "" && posted.UserID == in.cfg.BotUserID:
		return "own"
	case posted.IsSystem():
		return "system"
	case posted.FromBot:
		return "from_bot"
	default:
		return ""
	}
}
