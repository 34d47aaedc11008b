// Copyright 2024-2026 Aiku AI

package state

import (
	"context"
	"time"
)

// Context binds a store to the user an event belongs to. Handlers use it to
// read and move their user's state.
type Context struct {
	store  Store
	userID string
	ttl    time.Duration
}

// NewContext returns a Context for userID. defaultTTL applies to SetState.
func NewContext(store Store, userID string, defaultTTL time.Duration) *Context {
	return &Context{store: store, userID: userID, ttl: defaultTTL}
}

// UserID returns the user the context is bound to.
func (c *Context) UserID() string {
	if c == nil {
		return ""
	}
	return c.userID
}

// Store returns the underlying store, or nil.
func (c *Context) Store() Store {
	if c == nil {
		return nil
	}
	return c.store
}

func (c *Context) usable() error {
	if c == nil || c.store == nil {
		return ErrNoStore
	}
	return nil
}

func (c *Context) bound() error {
	if err := c.usable(); err != nil {
		return err
	}
	if c.userID == "" {
		return ErrNoUser
	}
	return nil
}

// State returns the user's current state name, or "" when the event has
// no user.
func (c *Context) State(ctx context.Context) (string, error) {
	if err := c.usable(); err != nil {
		return "", err
	}
	if c.userID == "" {
		return "", nil
	}
	return c.store.GetState(ctx, c.userID)
}

// SetState moves the user to st using the default TTL.
func (c *Context) SetState(ctx context.Context, st State) error {
	if err := c.usable(); err != nil {
		return err
	}
	return c.SetStateTTL(ctx, st, c.ttl)
}

// SetStateTTL moves the user to st, expiring after ttl (zero for never).
func (c *Context) SetStateTTL(ctx context.Context, st State, ttl time.Duration) error {
	if err := c.bound(); err != nil {
		return err
	}
	return c.store.SetState(ctx, c.userID, st, ttl)
}

// Clear resets the user's state. Data is kept.
func (c *Context) Clear(ctx context.Context) error {
	if err := c.bound(); err != nil {
		return err
	}
	return c.store.DeleteState(ctx, c.userID)
}

// Data returns the user's data blob.
func (c *Context) Data(ctx context.Context) (map[string]any, error) {
	if err := c.bound(); err != nil {
		return nil, err
	}
	return c.store.GetData(ctx, c.userID)
}

// UpdateData merges patch into the user's data blob.
func (c *Context) UpdateData(ctx context.Context, patch map[string]any) error {
	if err := c.bound(); err != nil {
		return err
	}
	return c.store.UpdateData(ctx, c.userID, patch)
}
