// Copyright 2024-2026 Aiku AI

// Package event defines the normalized events the bot routes to handlers.
package event

import (
	"encoding/json"

	"github.com/mattermost/mattermost/server/public/model"
)

// Type is the tag used to look up observers for an event.
type Type string

const (
	TypePosted       Type = Type(model.WebsocketEventPosted)
	TypeUserAdded    Type = Type(model.WebsocketEventUserAdded)
	TypeButtonQuery  Type = "button_query"
	TypeSlashCommand Type = "slash_command"
)

// Event is implemented by every event variant.
type Event interface {
	EventType() Type
	// EventUserID returns the acting user, or "" if the variant has none.
	EventUserID() string
}

var (
	_ Event = (*Posted)(nil)
	_ Event = (*ButtonQuery)(nil)
	_ Event = (*UserAdded)(nil)
	_ Event = (*Generic)(nil)
	_ Event = (*SlashCommand)(nil)
)

// Posted is a new message in a channel the bot can see.
type Posted struct {
	Seq         int64
	UserID      string
	ChannelID   string
	PostID      string
	RootID      string
	TeamID      string
	Text        string
	SystemType  string
	FromBot     bool
	SenderName  string
	ChannelName string
	ChannelType string
	Mentions    []string

	Post      *model.Post
	Broadcast *model.WebsocketBroadcast
	// Extra holds data fields the schema does not name.
	Extra map[string]any
}

func (p *Posted) EventType() Type     { return TypePosted }
func (p *Posted) EventUserID() string { return p.UserID }

// IsSystem reports whether the post carries a system message type.
func (p *Posted) IsSystem() bool {
	return p.SystemType != model.PostTypeDefault
}

// ButtonQuery is an interactive message button press, delivered over HTTP.
type ButtonQuery struct {
	UserID     string
	UserName   string
	ChannelID  string
	TeamID     string
	TeamDomain string
	PostID     string
	TriggerID  string
	DataSource string
	// Action is context.action, or "" when the button carries none.
	Action  string
	Context map[string]any
	Extra   map[string]any
}

func (b *ButtonQuery) EventType() Type     { return TypeButtonQuery }
func (b *ButtonQuery) EventUserID() string { return b.UserID }

// UserAdded is emitted when a user joins a team or channel.
type UserAdded struct {
	Seq       int64
	TeamID    string
	UserID    string
	Broadcast *model.WebsocketBroadcast
}

func (u *UserAdded) EventType() Type     { return TypeUserAdded }
func (u *UserAdded) EventUserID() string { return u.UserID }

// SlashCommand is a custom slash command invocation, delivered over HTTP.
type SlashCommand struct {
	UserID      string
	UserName    string
	ChannelID   string
	ChannelName string
	TeamID      string
	TeamDomain  string
	Command     string
	Text        string
	TriggerID   string
	ResponseURL string
	Extra       map[string]any
}

func (s *SlashCommand) EventType() Type     { return TypeSlashCommand }
func (s *SlashCommand) EventUserID() string { return s.UserID }

// Generic carries any event the schema does not model. Nested JSON-encoded
// string fields in Data are already decoded.
type Generic struct {
	Seq       int64
	Type      Type
	Data      map[string]any
	Broadcast *model.WebsocketBroadcast
}

func (g *Generic) EventType() Type { return g.Type }

// EventUserID looks for data.user_id, then data.post.user_id.
func (g *Generic) EventUserID() string {
	if uid, ok := g.Data["user_id"].(string); ok {
		return uid
	}
	if post, ok := g.Data["post"].(map[string]any); ok {
		if uid, ok := post["user_id"].(string); ok {
			return uid
		}
	}
	return ""
}

// JSON renders the event as a compact {"event_type","data"} document.
func (g *Generic) JSON() ([]byte, error) {
	return json.Marshal(struct {
		EventType Type           `json:"event_type"`
		Data      map[string]any `json:"data"`
	}{g.Type, g.Data})
}

// NewGeneric builds a Generic event, decoding nested JSON strings in data.
func NewGeneric(eventType Type, data map[string]any) *Generic {
	decoded, _ := decodeNested(data).(map[string]any)
	if decoded == nil {
		decoded = map[string]any{}
	}
	return &Generic{Type: eventType, Data: decoded}
}
