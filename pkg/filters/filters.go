// Copyright 2024-2026 Aiku AI

// Package filters provides ready-made router filters.
package filters

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/router"
)

// text returns the user-entered text of evt and whether it has any.
func text(evt event.Event) (string, bool) {
	switch e := evt.(type) {
	case *event.Posted:
		return e.Text, true
	case *event.SlashCommand:
		return strings.TrimSpace(e.Command + " " + e.Text), true
	default:
		return "", false
	}
}

func channelID(evt event.Event) string {
	switch e := evt.(type) {
	case *event.Posted:
		return e.ChannelID
	case *event.ButtonQuery:
		return e.ChannelID
	case *event.SlashCommand:
		return e.ChannelID
	case *event.Generic:
		id, _ := e.Data["channel_id"].(string)
		return id
	default:
		return ""
	}
}

// Text matches messages equal to one of values.
func Text(values ...string) router.Filter {
	return func(_ context.Context, evt event.Event) (bool, error) {
		t, ok := text(evt)
		return ok && slices.Contains(values, t), nil
	}
}

// TextPrefix matches messages starting with prefix.
func TextPrefix(prefix string) router.Filter {
	return func(_ context.Context, evt event.Event) (bool, error) {
		t, ok := text(evt)
		return ok && strings.HasPrefix(t, prefix), nil
	}
}

// Regexp matches messages containing a match of pattern. It panics if the
// pattern does not compile.
func Regexp(pattern string) router.Filter {
	re := regexp.MustCompile(pattern)
	return func(_ context.Context, evt event.Event) (bool, error) {
		t, ok := text(evt)
		return ok && re.MatchString(t), nil
	}
}

var commandRegex = regexp.MustCompile(`(?s)^/([A-Za-z0-9_\-]+)(?:@\S+)?(?:\s+(.*))?$`)

// ParseCommand splits "/name args" into name and args.
func ParseCommand(s string) (name, args string, ok bool) {
	m := commandRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

// Command matches "/name" messages and slash commands for any of names.
// Names are given without the leading slash and compared case-insensitively.
func Command(names ...string) router.Filter {
	return func(_ context.Context, evt event.Event) (bool, error) {
		t, ok := text(evt)
		if !ok {
			return false, nil
		}
		name, _, ok := ParseCommand(t)
		if !ok {
			return false, nil
		}
		return slices.ContainsFunc(names, func(n string) bool {
			return strings.EqualFold(strings.TrimPrefix(n, "/"), name)
		}), nil
	}
}

// ChannelType matches posts in channels of the given types, such as
// model.ChannelTypeDirect ("D") or model.ChannelTypeOpen ("O").
func ChannelType(types ...string) router.Filter {
	return func(_ context.Context, evt event.Event) (bool, error) {
		p, ok := evt.(*event.Posted)
		return ok && slices.Contains(types, p.ChannelType), nil
	}
}

// Channel matches events that happened in one of ids.
func Channel(ids ...string) router.Filter {
	return func(_ context.Context, evt event.Event) (bool, error) {
		id := channelID(evt)
		return id != "" && slices.Contains(ids, id), nil
	}
}

// User matches events acted by one of ids.
func User(ids ...string) router.Filter {
	return func(_ context.Context, evt event.Event) (bool, error) {
		id := evt.EventUserID()
		return id != "" && slices.Contains(ids, id), nil
	}
}

// And matches when every filter matches, evaluated in order.
func And(fs ...router.Filter) router.Filter {
	return func(ctx context.Context, evt event.Event) (bool, error) {
		for _, f := range fs {
			if ok, err := f(ctx, evt); err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Or matches when any filter matches, evaluated in order.
func Or(fs ...router.Filter) router.Filter {
	return func(ctx context.Context, evt event.Event) (bool, error) {
		for _, f := range fs {
			if ok, err := f(ctx, evt); err != nil {
				return false, err
			} else if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Not inverts f. Errors are passed through.
func Not(f router.Filter) router.Filter {
	return func(ctx context.Context, evt event.Event) (bool, error) {
		ok, err := f(ctx, evt)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}
