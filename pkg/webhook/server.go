// Copyright 2024-2026 Aiku AI

// Package webhook serves the HTTP side of a Mattermost bot: interactive
// button presses, outgoing webhooks and slash commands.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/router"
)

const maxBodySize = 1 << 20

// Dispatcher routes one event and returns the first non-empty response.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType event.Type, evt event.Event) (router.Response, error)
}

// Options configures the handler.
type Options struct {
	// Prefix is prepended to every Mattermost route, such as "/mattermost".
	Prefix string
	// Metrics serves Prometheus metrics on /metrics.
	Metrics bool
}

// Handler holds the HTTP surface's dependencies.
type Handler struct {
	dispatcher Dispatcher
	log        zerolog.Logger
	router     *mux.Router
}

// New creates the HTTP handler and registers all routes.
func New(dispatcher Dispatcher, log zerolog.Logger, opts Options) http.Handler {
	h := &Handler{
		dispatcher: dispatcher,
		log:        log.With().Str("component", "http").Logger(),
		router:     mux.NewRouter(),
	}
	prefix := ""
	if opts.Prefix != "" {
		prefix = "/" + strings.Trim(opts.Prefix, "/")
	}
	h.router.HandleFunc(prefix+"/action", h.handleAction).Methods(http.MethodPost)
	h.router.PathPrefix(prefix + "/action/").HandlerFunc(h.handleAction).Methods(http.MethodPost)
	h.router.HandleFunc(prefix+"/webhook", h.handleWebhook).Methods(http.MethodPost)
	h.router.HandleFunc(prefix+"/command", h.handleCommand).Methods(http.MethodPost)
	h.router.HandleFunc(prefix+"/health", h.handleHealth).Methods(http.MethodGet)
	if opts.Metrics {
		h.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	return h.middleware(h.router)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	exhttp.WriteJSONResponse(w, status, map[string]string{"error": msg})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

// POST <prefix>/action: interactive message button presses.
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "empty request body")
		return
	}
	bq, err := event.ParseButtonQuery(body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse button action")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().
		Str("user_id", bq.UserID).
		Str("action", bq.Action).
		Msg("Button action received")

	resp, err := h.dispatcher.Dispatch(r.Context(), event.TypeButtonQuery, bq)
	if err != nil {
		log.Error().Err(err).Msg("Failed to handle button action")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.IsEmpty() {
		resp = router.Response{
			"event_type": string(event.TypeButtonQuery),
			"status":     "processed",
			"trigger_id": bq.TriggerID,
		}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

// webhookEventType reads the event tag of a webhook payload, which is
// either a string or an object with its own "event" key.
func webhookEventType(payload map[string]any) event.Type {
	switch v := payload["event"].(type) {
	case string:
		if v != "" {
			return event.Type(v)
		}
	case map[string]any:
		if tag, ok := v["event"].(string); ok && tag != "" {
			return event.Type(tag)
		}
	}
	return "unknown"
}

// POST <prefix>/webhook: generic payloads dispatched by their event tag.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	eventType := webhookEventType(payload)
	log.Info().Str("event_type", string(eventType)).Msg("Webhook received")

	resp, err := h.dispatcher.Dispatch(r.Context(), eventType, event.NewGeneric(eventType, payload))
	if err != nil {
		log.Error().Err(err).Msg("Failed to handle webhook")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.IsEmpty() {
		resp = router.Response{"status": "ok", "event_type": string(eventType)}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

// POST <prefix>/command: custom slash commands.
func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	sc := event.ParseSlashCommand(r.PostForm)
	log.Info().
		Str("user_id", sc.UserID).
		Str("command", sc.Command).
		Msg("Slash command received")

	resp, err := h.dispatcher.Dispatch(r.Context(), event.TypeSlashCommand, sc)
	if err != nil {
		log.Error().Err(err).Msg("Failed to handle slash command")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp.IsEmpty() {
		resp = router.Response{"response_type": "ephemeral", "text": "Command processed"}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

// GET <prefix>/health: liveness probe.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "mattermost-integration",
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// middleware attaches a request-scoped logger with a request ID, logs each
// request and turns handler panics into 500 responses.
func (h *Handler) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		log := h.log.With().Str("request_id", requestID).Logger()
		w.Header().Set("X-Request-Id", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Any("panic", p).Msg("Handler panicked")
				writeError(rec, http.StatusInternalServerError, fmt.Sprint(p))
			}
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(started)).
				Msg("Request handled")
		}()
		next.ServeHTTP(rec, r.WithContext(log.WithContext(r.Context())))
	})
}
