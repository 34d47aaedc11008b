// Copyright 2024-2026 Aiku AI

package router

import (
	"context"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/state"
)

// Filter decides whether a registration applies to an event.
type Filter func(ctx context.Context, evt event.Event) (bool, error)

// Response is what a handler hands back to the caller of Dispatch. A nil or
// zero-length Response is empty and lets dispatch continue.
type Response map[string]any

// IsEmpty reports whether r carries nothing.
func (r Response) IsEmpty() bool {
	return len(r) == 0
}

// Handler processes an event. fsm is bound to the event's user and is never
// nil, though its methods return state.ErrNoStore when no store is set.
type Handler func(ctx context.Context, evt event.Event, fsm *state.Context) (Response, error)

// ButtonData matches the action carried by a button press.
type ButtonData struct {
	literal string
	match   func(action string) bool
}

// ButtonEquals matches actions equal to action.
func ButtonEquals(action string) ButtonData {
	return ButtonData{literal: action}
}

// ButtonMatch matches actions accepted by fn.
func ButtonMatch(fn func(action string) bool) ButtonData {
	return ButtonData{match: fn}
}

func (b ButtonData) isZero() bool {
	return b.literal == "" && b.match == nil
}

// Filter returns the filter form of b. It fails for anything but a button
// press with a non-empty action.
func (b ButtonData) Filter() Filter {
	return func(_ context.Context, evt event.Event) (bool, error) {
		bq, ok := evt.(*event.ButtonQuery)
		if !ok || bq.Action == "" {
			return false, nil
		}
		if b.match != nil {
			return b.match(bq.Action), nil
		}
		return bq.Action == b.literal, nil
	}
}

// runFilters evaluates filters in order and stops at the first that fails.
func runFilters(ctx context.Context, filters []Filter, evt event.Event) (bool, error) {
	for _, f := range filters {
		ok, err := f(ctx, evt)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
