// Copyright 2024-2026 Aiku AI

package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/state"
)

var (
	// ErrRouterAttached is returned when including a router that already
	// has a parent.
	ErrRouterAttached = errors.New("router is already attached")
	// ErrRouterCycle is returned when including a router would make it its
	// own ancestor.
	ErrRouterCycle = errors.New("router would become its own ancestor")
)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithBotUserID sets the identity whose own posts the router ignores. When
// unset the identity carried by the dispatch context is used.
func WithBotUserID(userID string) RouterOption {
	return func(r *Router) {
		r.botUserID = userID
	}
}

// WithStore sets the store used when the dispatch context carries none.
func WithStore(store state.Store) RouterOption {
	return func(r *Router) {
		r.store = store
	}
}

// Router is a named node in the handler tree. It holds one observer per
// event type and an ordered list of child routers.
type Router struct {
	name      string
	botUserID string
	store     state.Store

	Posted       *EventObserver
	ButtonQuery  *EventObserver
	UserAdded    *EventObserver
	SlashCommand *EventObserver

	mu        sync.RWMutex
	observers map[event.Type]*EventObserver
	children  []*Router
	parent    string
	attached  bool
}

// New creates a router. An empty name is replaced with a random one.
func New(name string, opts ...RouterOption) *Router {
	if name == "" {
		name = "router-" + uuid.NewString()[:8]
	}
	r := &Router{
		name:      name,
		observers: make(map[event.Type]*EventObserver),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Posted = r.Observer(event.TypePosted)
	r.ButtonQuery = r.Observer(event.TypeButtonQuery)
	r.UserAdded = r.Observer(event.TypeUserAdded)
	r.SlashCommand = r.Observer(event.TypeSlashCommand)
	return r
}

// Name returns the router's name.
func (r *Router) Name() string {
	return r.name
}

// Parent returns the name of the router this one is included in, or "".
func (r *Router) Parent() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parent
}

// Observer returns the observer for eventType, creating it if needed.
func (r *Router) Observer(eventType event.Type) *EventObserver {
	r.mu.RLock()
	obs, ok := r.observers[eventType]
	r.mu.RUnlock()
	if ok {
		return obs
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if obs, ok = r.observers[eventType]; !ok {
		obs = newObserver(eventType, r.name)
		r.observers[eventType] = obs
	}
	return obs
}

func (r *Router) lookup(eventType event.Type) *EventObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observers[eventType]
}

// Children returns the included routers in order.
func (r *Router) Children() []*Router {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.children)
}

// IncludeRouter appends child to r's children.
func (r *Router) IncludeRouter(child *Router) error {
	if child == nil {
		return fmt.Errorf("router: nil child")
	}
	if child == r || child.contains(r) {
		return fmt.Errorf("%w: %s into %s", ErrRouterCycle, child.name, r.name)
	}
	if err := child.attach(r.name); err != nil {
		return err
	}
	r.mu.Lock()
	r.children = append(r.children, child)
	r.mu.Unlock()
	return nil
}

func (r *Router) attach(parent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return fmt.Errorf("%w: %s", ErrRouterAttached, r.name)
	}
	r.attached = true
	r.parent = parent
	return nil
}

func (r *Router) contains(target *Router) bool {
	for _, child := range r.Children() {
		if child == target || child.contains(target) {
			return true
		}
	}
	return false
}

// postAuthor returns who wrote evt when it is a post, including posts
// delivered untyped through a webhook.
func postAuthor(eventType event.Type, evt event.Event) string {
	if posted, ok := evt.(*event.Posted); ok {
		return posted.UserID
	}
	if eventType == event.TypePosted && evt != nil {
		return evt.EventUserID()
	}
	return ""
}

// Propagate offers evt to this router's observer for eventType and then to
// its children depth first. The first non-empty response is returned.
func (r *Router) Propagate(ctx context.Context, eventType event.Type, evt event.Event) (Response, error) {
	if author := postAuthor(eventType, evt); author != "" {
		botID := r.botUserID
		if botID == "" {
			botID = BotUserIDFromContext(ctx)
		}
		if botID != "" && author == botID {
			return nil, nil
		}
	}
	if r.store != nil && state.StoreFromContext(ctx) == nil {
		ctx = state.WithStore(ctx, r.store)
	}

	if obs := r.lookup(eventType); obs != nil {
		resp, err := obs.Trigger(ctx, evt)
		if err != nil {
			return nil, fmt.Errorf("router %s: %w", r.name, err)
		} else if !resp.IsEmpty() {
			return resp, nil
		}
	}
	for _, child := range r.Children() {
		resp, err := child.Propagate(ctx, eventType, evt)
		if err != nil {
			return nil, err
		} else if !resp.IsEmpty() {
			return resp, nil
		}
	}
	return nil, nil
}
