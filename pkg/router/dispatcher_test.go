// Copyright 2024-2026 Aiku AI

package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/state"
)

func TestDispatcher_FirstResponseWins(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	a, b, c := New("a"), New("b"), New("c")
	a.Posted.Register(rec.handler("a", nil))
	b.Posted.Register(rec.handler("b", Response{"from": "b"}))
	c.Posted.Register(rec.handler("c", Response{"from": "c"}))
	d := NewDispatcher(nil)
	if err := d.IncludeRouter(a, b, c); err != nil {
		t.Fatalf("IncludeRouter: %v", err)
	}
	resp, err := d.Dispatch(context.Background(), event.TypePosted, &event.Posted{UserID: "u"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp["from"] != "b" || rec.joined() != "a,b" {
		t.Errorf("got %v with calls %q", resp, rec.joined())
	}
	if len(d.Routers()) != 3 {
		t.Errorf("routers = %d, want 3", len(d.Routers()))
	}
}

func TestDispatcher_Empty(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	_ = d.IncludeRouter(New("a"))
	resp, err := d.Dispatch(context.Background(), event.TypePosted, &event.Posted{})
	if err != nil || !resp.IsEmpty() {
		t.Errorf("got %v, %v, want empty", resp, err)
	}
}

func TestDispatcher_InjectsStoreAndSettings(t *testing.T) {
	t.Parallel()
	m := state.NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	m.SetClock(func() time.Time { return now })
	d := NewDispatcher(m, WithDispatcherBotUserID("bot"), WithDefaultTTL(time.Minute))
	r := New("r")
	_ = d.IncludeRouter(r)

	var seen state.Store
	r.Posted.Register(func(ctx context.Context, _ event.Event, fsm *state.Context) (Response, error) {
		seen = fsm.Store()
		if BotUserIDFromContext(ctx) != "bot" {
			t.Errorf("bot id = %q, want bot", BotUserIDFromContext(ctx))
		}
		return nil, fsm.SetState(ctx, state.State{Name: "x"})
	})
	if _, err := d.Dispatch(context.Background(), event.TypePosted, &event.Posted{UserID: "u1"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if seen != state.Store(m) {
		t.Error("handler did not receive the dispatcher's store")
	}
	now = now.Add(2 * time.Minute)
	if got, _ := m.GetState(context.Background(), "u1"); got != "" {
		t.Errorf("state = %q, want expired by default ttl", got)
	}

	// A store supplied by the caller is kept.
	other := state.NewMemoryStore()
	ctx := state.WithStore(context.Background(), other)
	_, _ = d.Dispatch(ctx, event.TypePosted, &event.Posted{UserID: "u2"})
	if seen != state.Store(other) {
		t.Error("caller's store was replaced")
	}

	// The dispatcher identity feeds the echo guard.
	seen = nil
	_, _ = d.Dispatch(context.Background(), event.TypePosted, &event.Posted{UserID: "bot"})
	if seen != nil {
		t.Error("bot's own post was dispatched")
	}
}

func TestDispatcher_IncludeAttached(t *testing.T) {
	t.Parallel()
	r := New("r")
	d := NewDispatcher(nil)
	if err := d.IncludeRouter(r); err != nil {
		t.Fatalf("IncludeRouter: %v", err)
	}
	if err := d.IncludeRouter(r); !errors.Is(err, ErrRouterAttached) {
		t.Errorf("err = %v, want ErrRouterAttached", err)
	}
	if err := New("p").IncludeRouter(r); !errors.Is(err, ErrRouterAttached) {
		t.Errorf("err = %v, want ErrRouterAttached", err)
	}
}

func TestDispatcher_BroadcastIsolatesFailures(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	boom := errors.New("boom")
	failing, panicking, ok, answering := New("failing"), New("panicking"), New("ok"), New("answering")
	failing.Posted.Register(func(context.Context, event.Event, *state.Context) (Response, error) {
		rec.calls = append(rec.calls, "failing")
		return nil, boom
	})
	panicking.Posted.Register(func(context.Context, event.Event, *state.Context) (Response, error) {
		rec.calls = append(rec.calls, "panicking")
		panic("handler bug")
	})
	answering.Posted.Register(rec.handler("answering", Response{"x": 1}))
	ok.Posted.Register(rec.handler("ok", nil))
	d := NewDispatcher(nil)
	_ = d.IncludeRouter(failing, panicking, answering, ok)

	errs := d.Broadcast(context.Background(), event.TypePosted, &event.Posted{UserID: "u"})
	if rec.joined() != "failing,panicking,answering,ok" {
		t.Errorf("calls = %q, want every router", rec.joined())
	}
	if len(errs) != 2 {
		t.Fatalf("errs = %v, want 2", errs)
	}
	var de *DeliveryError
	if !errors.As(errs[0], &de) || de.Router != "failing" || !errors.Is(errs[0], boom) {
		t.Errorf("errs[0] = %v", errs[0])
	}
	if !errors.As(errs[1], &de) || de.Router != "panicking" {
		t.Errorf("errs[1] = %v", errs[1])
	}
}

func TestDispatcher_SetBotUserID(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	r := New("r")
	r.Posted.Register(rec.handler("h", nil))
	d := NewDispatcher(nil)
	_ = d.IncludeRouter(r)
	d.SetBotUserID("bot")
	_, _ = d.Dispatch(context.Background(), event.TypePosted, &event.Posted{UserID: "bot"})
	if len(rec.calls) != 0 {
		t.Error("bot's own post was dispatched after SetBotUserID")
	}
}

func TestSinceMillis(t *testing.T) {
	t.Parallel()
	got := sinceMillis(time.Now().Add(-1500 * time.Microsecond))
	if got < 1.5 || got >= 1000 {
		t.Errorf("sinceMillis = %v, want at least 1.5", got)
	}
}
