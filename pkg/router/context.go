// Copyright 2024-2026 Aiku AI

package router

import (
	"context"
	"time"
)

type contextKey int

const (
	contextKeyBotUserID contextKey = iota
	contextKeyDefaultTTL
)

// WithBotUserIDContext returns a context carrying the bot's own user ID.
func WithBotUserIDContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyBotUserID, userID)
}

// BotUserIDFromContext returns the bot user ID carried by ctx, or "".
func BotUserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyBotUserID).(string)
	return id
}

// WithDefaultTTLContext returns a context carrying the TTL handlers' state
// changes get when they do not pick one.
func WithDefaultTTLContext(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, contextKeyDefaultTTL, ttl)
}

// DefaultTTLFromContext returns the default state TTL carried by ctx, or 0.
func DefaultTTLFromContext(ctx context.Context) time.Duration {
	ttl, _ := ctx.Value(contextKeyDefaultTTL).(time.Duration)
	return ttl
}
