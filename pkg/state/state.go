// Copyright 2024-2026 Aiku AI

// Package state holds the per-user finite state handlers are gated on and
// the stores that persist it.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/aiku/mmbot/pkg/event"
)

// ErrNoStore is returned by Context methods when no store is configured.
var ErrNoStore = errors.New("no state store configured")

// ErrNoUser is returned by Context methods that touch a user's record when
// the event carried no user.
var ErrNoUser = errors.New("event has no user")

// State is an opaque label compared by value.
type State struct {
	Group string
	Name  string
}

// String returns the stored form of the state, "Group:Name" or just
// "Name" for ungrouped states.
func (s State) String() string {
	if s.Group == "" {
		return s.Name
	}
	return s.Group + ":" + s.Name
}

// IsZero reports whether s is the empty state.
func (s State) IsZero() bool {
	return s.Group == "" && s.Name == ""
}

// Group is a named set of states.
type Group struct {
	name string
}

// NewGroup returns a group whose states are stored as "name:State".
func NewGroup(name string) Group {
	return Group{name: name}
}

// State returns the state called name in the group.
func (g Group) State(name string) State {
	return State{Group: g.name, Name: name}
}

// Store persists per-user state names and data blobs. Every call is an
// independent round trip; there is no atomicity across calls.
type Store interface {
	// GetState returns the current state name, or "" if none is set.
	GetState(ctx context.Context, userID string) (string, error)
	// SetState stores st for the user. A ttl of zero means no expiry.
	SetState(ctx context.Context, userID string, st State, ttl time.Duration) error
	DeleteState(ctx context.Context, userID string) error
	// GetData returns the user's data blob, or an empty map if absent.
	GetData(ctx context.Context, userID string) (map[string]any, error)
	// UpdateData shallow-merges patch into the user's data blob.
	UpdateData(ctx context.Context, userID string, patch map[string]any) error
}

// UserIDFromEvent returns the user state is keyed on for evt.
func UserIDFromEvent(evt event.Event) string {
	if evt == nil {
		return ""
	}
	return evt.EventUserID()
}

// Bearing reports whether events of type t are gated on user state.
func Bearing(t event.Type) bool {
	return t == event.TypePosted || t == event.TypeButtonQuery
}

func stateKey(userID string) string { return "state:" + userID }
func dataKey(userID string) string  { return "data:" + userID }

type storeContextKey struct{}

// WithStore returns a context carrying store.
func WithStore(ctx context.Context, store Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// StoreFromContext returns the store carried by ctx, or nil.
func StoreFromContext(ctx context.Context) Store {
	store, _ := ctx.Value(storeContextKey{}).(Store)
	return store
}
