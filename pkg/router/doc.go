// Copyright 2024-2026 Aiku AI

// Package router delivers events to handlers through a tree of routers.
//
// A Dispatcher holds the root routers. Each Router has one EventObserver
// per event type and may include child routers. An event is offered to a
// router's observer first and then to its children, depth first, and
// delivery stops at the first handler that returns a non-empty Response.
//
// Within an observer at most one handler runs per event. Handlers
// registered with WithState only run while the event's user is in that
// state, and they take priority over ungated handlers:
//
//	form := state.NewGroup("Form")
//	r := router.New("form")
//	r.Posted.Register(askName, router.WithFilters(filters.Command("start")))
//	r.Posted.Register(saveName, router.WithState(form.State("name")))
//
// The state store is taken from the context, where the Dispatcher puts
// its own unless the caller already supplied one.
package router
