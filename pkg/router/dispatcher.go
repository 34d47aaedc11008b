// Copyright 2024-2026 Aiku AI

package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/metrics"
	"github.com/aiku/mmbot/pkg/state"
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherBotUserID sets the bot identity handed to every router
// that does not have its own.
func WithDispatcherBotUserID(userID string) DispatcherOption {
	return func(d *Dispatcher) {
		d.botUserID = userID
	}
}

// WithDefaultTTL sets the TTL applied by state.Context.SetState.
func WithDefaultTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.defaultTTL = ttl
	}
}

// WithLogger sets the logger used when the dispatch context has none.
func WithLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// Dispatcher is the root of the handler tree and the single entry point
// for delivering events.
type Dispatcher struct {
	store      state.Store
	botUserID  string
	defaultTTL time.Duration
	log        zerolog.Logger

	mu      sync.RWMutex
	routers []*Router
}

// NewDispatcher creates a dispatcher sharing store with all its routers.
// store may be nil, in which case state gating is disabled.
func NewDispatcher(store state.Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() state.Store {
	return d.store
}

// SetBotUserID replaces the bot identity, for when it is only known after
// logging in.
func (d *Dispatcher) SetBotUserID(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.botUserID = userID
}

// IncludeRouter appends root routers in order.
func (d *Dispatcher) IncludeRouter(routers ...*Router) error {
	for _, r := range routers {
		if r == nil {
			return fmt.Errorf("router: nil router")
		}
		if err := r.attach(""); err != nil {
			return err
		}
		d.mu.Lock()
		d.routers = append(d.routers, r)
		d.mu.Unlock()
	}
	return nil
}

// Routers returns the root routers in order.
func (d *Dispatcher) Routers() []*Router {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.routers)
}

func (d *Dispatcher) prepare(ctx context.Context) context.Context {
	if state.StoreFromContext(ctx) == nil && d.store != nil {
		ctx = state.WithStore(ctx, d.store)
	}
	d.mu.RLock()
	botID := d.botUserID
	d.mu.RUnlock()
	if BotUserIDFromContext(ctx) == "" && botID != "" {
		ctx = WithBotUserIDContext(ctx, botID)
	}
	if DefaultTTLFromContext(ctx) == 0 && d.defaultTTL > 0 {
		ctx = WithDefaultTTLContext(ctx, d.defaultTTL)
	}
	if zerolog.Ctx(ctx) == zerolog.DefaultContextLogger || zerolog.Ctx(ctx).GetLevel() == zerolog.Disabled {
		ctx = d.log.WithContext(ctx)
	}
	return ctx
}

// sinceMillis returns the time elapsed since started in fractional
// milliseconds.
func sinceMillis(started time.Time) float64 {
	return float64(time.Since(started).Microseconds()) / 1000
}

// Dispatch offers evt to each root router in order and returns the first
// non-empty response.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType event.Type, evt event.Event) (Response, error) {
	ctx = d.prepare(ctx)
	started := time.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(string(eventType)).
			Observe(sinceMillis(started))
	}()
	for _, r := range d.Routers() {
		resp, err := r.Propagate(ctx, eventType, evt)
		if err != nil {
			return nil, err
		} else if !resp.IsEmpty() {
			return resp, nil
		}
	}
	return nil, nil
}

// DeliveryError is a failure of one root router during Broadcast.
type DeliveryError struct {
	Router string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to router %s failed: %v", e.Router, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Broadcast delivers evt to every root router in order, whatever they
// return. A failing or panicking router does not stop delivery to the
// rest; each failure is returned as a *DeliveryError.
func (d *Dispatcher) Broadcast(ctx context.Context, eventType event.Type, evt event.Event) []error {
	ctx = d.prepare(ctx)
	started := time.Now()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(string(eventType)).
			Observe(sinceMillis(started))
	}()
	var errs []error
	for _, r := range d.Routers() {
		if err := deliver(ctx, r, eventType, evt); err != nil {
			metrics.Deliveries.WithLabelValues(r.Name(), "error").Inc()
			errs = append(errs, &DeliveryError{Router: r.Name(), Err: err})
		} else {
			metrics.Deliveries.WithLabelValues(r.Name(), "ok").Inc()
		}
	}
	return errs
}

func deliver(ctx context.Context, r *Router, eventType event.Type, evt event.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			zerolog.Ctx(ctx).Error().
				Str("router", r.Name()).
				Bytes(zerolog.ErrorStackFieldName, debug.Stack()).
				Any("panic", p).
				Msg("Handler panicked")
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	_, err = r.Propagate(ctx, eventType, evt)
	return err
}
