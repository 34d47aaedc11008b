// Copyright 2024-2026 Aiku AI

package router

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/state"
)

// Option configures a registration.
type Option func(*Registration)

// WithFilters appends filters to the registration's chain.
func WithFilters(filters ...Filter) Option {
	return func(r *Registration) {
		r.filters = append(r.filters, filters...)
	}
}

// WithState gates the registration on the user being in st.
func WithState(st state.State) Option {
	return func(r *Registration) {
		r.required = st
	}
}

// WithButtonData prepends a button action matcher to the chain.
func WithButtonData(b ButtonData) Option {
	return func(r *Registration) {
		r.button = b
	}
}

// Registration is a handler together with the conditions it runs under.
// It does not change once registered.
type Registration struct {
	handler  Handler
	filters  []Filter
	required state.State
	button   ButtonData
	index    int
}

// Filters returns a copy of the registration's filter chain, including
// the button matcher when one was given.
func (r *Registration) Filters() []Filter {
	return slices.Clone(r.filters)
}

// RequiredState returns the state the registration is gated on, or the
// zero State.
func (r *Registration) RequiredState() state.State {
	return r.required
}

// Index returns the registration's position within its observer.
func (r *Registration) Index() int {
	return r.index
}

// EventObserver holds the ordered registrations for one event type.
type EventObserver struct {
	eventType event.Type
	router    string

	mu            sync.RWMutex
	registrations []*Registration
}

func newObserver(eventType event.Type, routerName string) *EventObserver {
	return &EventObserver{eventType: eventType, router: routerName}
}

// EventType returns the tag the observer is registered under.
func (o *EventObserver) EventType() event.Type {
	return o.eventType
}

// Register appends h to the observer. Registration order decides which
// handler runs when several match.
func (o *EventObserver) Register(h Handler, opts ...Option) *Registration {
	if h == nil {
		panic("router: nil handler")
	}
	reg := &Registration{handler: h}
	for _, opt := range opts {
		opt(reg)
	}
	if !reg.button.isZero() {
		reg.filters = append([]Filter{reg.button.Filter()}, reg.filters...)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	reg.index = len(o.registrations)
	o.registrations = append(o.registrations, reg)
	return reg
}

// Registrations returns the observer's registrations in order.
func (o *EventObserver) Registrations() []*Registration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.registrations)
}

// Trigger selects and runs at most one handler for evt.
//
// When the user is in a state, registrations gated on that exact state are
// tried first. The first one whose filters pass runs and Trigger returns an
// empty response whatever the handler returned. Otherwise the ungated
// registrations are tried in order and the first whose filters pass runs;
// its response is returned and no further registration is evaluated.
func (o *EventObserver) Trigger(ctx context.Context, evt event.Event) (Response, error) {
	store := state.StoreFromContext(ctx)
	log := zerolog.Ctx(ctx).With().
		Str("router", o.router).
		Str("event_type", string(o.eventType)).
		Logger()

	var userID, current string
	if store != nil && state.Bearing(evt.EventType()) {
		userID = state.UserIDFromEvent(evt)
		if userID != "" {
			var err error
			current, err = store.GetState(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to read state of %s: %w", userID, err)
			}
		}
	}
	fsm := state.NewContext(store, state.UserIDFromEvent(evt), DefaultTTLFromContext(ctx))
	regs := o.Registrations()

	if current != "" {
		for _, reg := range regs {
			if reg.required.IsZero() || reg.required.String() != current {
				continue
			}
			ok, err := runFilters(ctx, reg.filters, evt)
			if err != nil {
				return nil, err
			} else if !ok {
				continue
			}
			log.Debug().
				Int("registration", reg.index).
				Str("state", current).
				Msg("Running state handler")
			if _, err := reg.handler(ctx, evt, fsm); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	for _, reg := range regs {
		if !reg.required.IsZero() {
			continue
		}
		ok, err := runFilters(ctx, reg.filters, evt)
		if err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		log.Debug().Int("registration", reg.index).Msg("Running handler")
		resp, err := reg.handler(ctx, evt, fsm)
		if err != nil {
			return nil, err
		}
		if userID != "" {
			next, err := store.GetState(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to re-read state of %s: %w", userID, err)
			}
			if next != current {
				log.Debug().
					Str("user_id", userID).
					Str("from", current).
					Str("to", next).
					Msg("Handler changed user state")
			}
		}
		return resp, nil
	}
	return nil, nil
}
