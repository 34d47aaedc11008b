// Copyright 2024-2026 Aiku AI

package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/state"
)

// recorder counts handler calls by name.
type recorder struct {
	calls []string
}

func (r *recorder) handler(name string, resp Response) Handler {
	return func(_ context.Context, _ event.Event, _ *state.Context) (Response, error) {
		r.calls = append(r.calls, name)
		return resp, nil
	}
}

func (r *recorder) joined() string {
	return strings.Join(r.calls, ",")
}

func pass(context.Context, event.Event) (bool, error) { return true, nil }
func fail(context.Context, event.Event) (bool, error) { return false, nil }

func storeCtx(t *testing.T, userID, current string) (context.Context, *state.MemoryStore) {
	t.Helper()
	m := state.NewMemoryStore()
	if current != "" {
		if err := m.SetState(context.Background(), userID, state.State{Name: current}, 0); err != nil {
			t.Fatalf("SetState: %v", err)
		}
	}
	return state.WithStore(context.Background(), m), m
}

func TestTrigger_StateHandlerResultDiscarded(t *testing.T) {
	t.Parallel()
	ctx, _ := storeCtx(t, "u1", "TEST_STATE")
	rec := &recorder{}
	obs := newObserver(event.TypePosted, "test")
	obs.Register(rec.handler("gated", Response{"text": "ignored"}), WithState(state.State{Name: "TEST_STATE"}))

	resp, err := obs.Trigger(ctx, &event.Posted{UserID: "u1"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !resp.IsEmpty() {
		t.Errorf("got response %v, want empty", resp)
	}
	if rec.joined() != "gated" {
		t.Errorf("calls = %q, want gated once", rec.joined())
	}
}

func TestTrigger_FirstPassingStatelessHandler(t *testing.T) {
	t.Parallel()
	ctx, _ := storeCtx(t, "u1", "")
	rec := &recorder{}
	obs := newObserver(event.TypePosted, "test")
	obs.Register(rec.handler("first", Response{"text": "no"}), WithFilters(fail))
	obs.Register(rec.handler("second", Response{"text": "ok"}), WithFilters(pass))
	obs.Register(rec.handler("third", Response{"text": "late"}))

	resp, err := obs.Trigger(ctx, &event.Posted{UserID: "u1"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if resp["text"] != "ok" {
		t.Errorf("got %v, want text=ok", resp)
	}
	if rec.joined() != "second" {
		t.Errorf("calls = %q, want second", rec.joined())
	}
}

func TestTrigger_NoFallthroughAfterEmptyResult(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	obs := newObserver(event.TypePosted, "test")
	obs.Register(rec.handler("a", nil))
	obs.Register(rec.handler("b", Response{"text": "b"}))

	resp, err := obs.Trigger(context.Background(), &event.Posted{UserID: "u1"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !resp.IsEmpty() || rec.joined() != "a" {
		t.Errorf("got %v with calls %q, want empty with a", resp, rec.joined())
	}
}

func TestTrigger_StateChangedMidHandler(t *testing.T) {
	t.Parallel()
	ctx, m := storeCtx(t, "u1", "")
	form := state.NewGroup("Form")
	rec := &recorder{}
	obs := newObserver(event.TypePosted, "test")
	obs.Register(func(ctx context.Context, _ event.Event, fsm *state.Context) (Response, error) {
		rec.calls = append(rec.calls, "start")
		if err := fsm.SetState(ctx, form.State("name")); err != nil {
			return nil, err
		}
		return Response{"text": "What is your name?"}, nil
	})
	obs.Register(rec.handler("other", Response{"text": "other"}))
	obs.Register(rec.handler("name", Response{"text": "thanks"}), WithState(form.State("name")))

	resp, err := obs.Trigger(ctx, &event.Posted{UserID: "u1"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if resp["text"] != "What is your name?" || rec.joined() != "start" {
		t.Errorf("got %v with calls %q", resp, rec.joined())
	}
	if got, _ := m.GetState(context.Background(), "u1"); got != "Form:name" {
		t.Fatalf("state = %q, want Form:name", got)
	}

	// The next message from the same user goes to the gated handler.
	resp, err = obs.Trigger(ctx, &event.Posted{UserID: "u1"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !resp.IsEmpty() || rec.joined() != "start,name" {
		t.Errorf("got %v with calls %q, want empty with start,name", resp, rec.joined())
	}
}

func TestTrigger_StateMismatchFallsBackToStateless(t *testing.T) {
	t.Parallel()
	ctx, _ := storeCtx(t, "u1", "Other:state")
	rec := &recorder{}
	obs := newObserver(event.TypePosted, "test")
	obs.Register(rec.handler("gated", nil), WithState(state.State{Name: "TEST_STATE"}))
	obs.Register(rec.handler("plain", Response{"ok": true}))

	resp, err := obs.Trigger(ctx, &event.Posted{UserID: "u1"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if resp["ok"] != true || rec.joined() != "plain" {
		t.Errorf("got %v with calls %q", resp, rec.joined())
	}
}

func TestTrigger_GatedFiltersFailFallsBack(t *testing.T) {
	t.Parallel()
	ctx, _ := storeCtx(t, "u1", "TEST_STATE")
	rec := &recorder{}
	obs := newObserver(event.TypePosted, "test")
	obs.Register(rec.handler("gated", nil), WithState(state.State{Name: "TEST_STATE"}), WithFilters(fail))
	obs.Register(rec.handler("plain", Response{"ok": true}))

	resp, _ := obs.Trigger(ctx, &event.Posted{UserID: "u1"})
	if resp["ok"] != true || rec.joined() != "plain" {
		t.Errorf("got %v with calls %q", resp, rec.joined())
	}
}

func TestTrigger_NoStoreSkipsGated(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	obs := newObserver(event.TypePosted, "test")
	obs.Register(rec.handler("gated", nil), WithState(state.State{Name: "s"}))

	resp, err := obs.Trigger(context.Background(), &event.Posted{UserID: "u1"})
	if err != nil || !resp.IsEmpty() || len(rec.calls) != 0 {
		t.Errorf("got %v, %v with calls %q, want nothing", resp, err, rec.joined())
	}
}

func TestTrigger_NonBearingEventIgnoresState(t *testing.T) {
	t.Parallel()
	ctx, _ := storeCtx(t, "u1", "TEST_STATE")
	rec := &recorder{}
	obs := newObserver(event.TypeUserAdded, "test")
	obs.Register(rec.handler("gated", nil), WithState(state.State{Name: "TEST_STATE"}))
	obs.Register(rec.handler("welcome", Response{"text": "hi"}))

	resp, _ := obs.Trigger(ctx, &event.UserAdded{UserID: "u1"})
	if resp["text"] != "hi" || rec.joined() != "welcome" {
		t.Errorf("got %v with calls %q", resp, rec.joined())
	}
}

func TestTrigger_ButtonData(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	obs := newObserver(event.TypeButtonQuery, "test")
	obs.Register(rec.handler("hello", Response{"a": 1}), WithButtonData(ButtonEquals("hello")))
	obs.Register(rec.handler("bye", Response{"b": 1}), WithButtonData(ButtonEquals("bye")))

	resp, err := obs.Trigger(context.Background(), &event.ButtonQuery{
		UserID:  "u1",
		Action:  "hello",
		Context: map[string]any{"action": "hello"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if rec.joined() != "hello" || resp["a"] != 1 {
		t.Errorf("got %v with calls %q, want hello only", resp, rec.joined())
	}
}

func TestButtonData_Filter(t *testing.T) {
	t.Parallel()
	prefix := ButtonMatch(func(a string) bool { return strings.HasPrefix(a, "opt_") })
	tests := []struct {
		name string
		bd   ButtonData
		evt  event.Event
		want bool
	}{
		{"literal match", ButtonEquals("hello"), &event.ButtonQuery{Action: "hello"}, true},
		{"literal mismatch", ButtonEquals("hello"), &event.ButtonQuery{Action: "hello!"}, false},
		{"predicate match", prefix, &event.ButtonQuery{Action: "opt_1"}, true},
		{"predicate mismatch", prefix, &event.ButtonQuery{Action: "other"}, false},
		{"missing action", prefix, &event.ButtonQuery{}, false},
		{"missing action literal", ButtonEquals(""), &event.ButtonQuery{}, false},
		{"not a button", ButtonEquals("hello"), &event.Posted{Text: "hello"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.bd.Filter()(context.Background(), tt.evt)
			if err != nil {
				t.Fatalf("Filter: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrigger_FiltersShortCircuit(t *testing.T) {
	t.Parallel()
	var evaluated []string
	mk := func(name string, ok bool) Filter {
		return func(context.Context, event.Event) (bool, error) {
			evaluated = append(evaluated, name)
			return ok, nil
		}
	}
	obs := newObserver(event.TypePosted, "test")
	reg := obs.Register((&recorder{}).handler("h", nil), WithFilters(mk("a", true), mk("b", false), mk("c", true)))
	_, _ = obs.Trigger(context.Background(), &event.Posted{UserID: "u"})
	if strings.Join(evaluated, ",") != "a,b" {
		t.Errorf("evaluated %v, want a,b", evaluated)
	}
	if len(reg.Filters()) != 3 || reg.Index() != 0 || !reg.RequiredState().IsZero() {
		t.Errorf("registration accessors mismatch")
	}
}

func TestTrigger_ButtonFilterPrepended(t *testing.T) {
	t.Parallel()
	called := false
	later := func(context.Context, event.Event) (bool, error) {
		called = true
		return true, nil
	}
	obs := newObserver(event.TypeButtonQuery, "test")
	reg := obs.Register((&recorder{}).handler("h", nil), WithFilters(later), WithButtonData(ButtonEquals("x")))
	if len(reg.Filters()) != 2 {
		t.Fatalf("filters = %d, want 2", len(reg.Filters()))
	}
	_, _ = obs.Trigger(context.Background(), &event.ButtonQuery{Action: "y"})
	if called {
		t.Error("filter after a failing button matcher was evaluated")
	}
}

func TestTrigger_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	obs := newObserver(event.TypePosted, "test")
	obs.Register(func(context.Context, event.Event, *state.Context) (Response, error) {
		return nil, boom
	})
	if _, err := obs.Trigger(context.Background(), &event.Posted{}); !errors.Is(err, boom) {
		t.Errorf("handler error = %v, want boom", err)
	}

	obs = newObserver(event.TypePosted, "test")
	obs.Register((&recorder{}).handler("h", nil), WithFilters(func(context.Context, event.Event) (bool, error) {
		return false, boom
	}))
	if _, err := obs.Trigger(context.Background(), &event.Posted{}); !errors.Is(err, boom) {
		t.Errorf("filter error = %v, want boom", err)
	}
}

func TestRegister_Order(t *testing.T) {
	t.Parallel()
	obs := newObserver(event.TypePosted, "test")
	rec := &recorder{}
	for i := range 3 {
		reg := obs.Register(rec.handler("h", nil))
		if reg.Index() != i {
			t.Errorf("Index = %d, want %d", reg.Index(), i)
		}
	}
	if len(obs.Registrations()) != 3 || obs.EventType() != event.TypePosted {
		t.Error("observer accessors mismatch")
	}
}
