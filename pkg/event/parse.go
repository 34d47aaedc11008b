// Copyright 2024-2026 Aiku AI

package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedFrame is returned for frames that are not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrNotEvent is returned for well-formed frames without an event tag,
	// such as replies to the authentication challenge.
	ErrNotEvent = errors.New("frame is not an event")
)

// ClassifyError reports a recognized event whose payload could not be
// mapped to its typed variant.
type ClassifyError struct {
	Type Type
	Raw  []byte
	Err  error
}

func (e *ClassifyError) Error() string {
	return fmt.Sprintf("failed to classify %s event: %v", e.Type, e.Err)
}

func (e *ClassifyError) Unwrap() error { return e.Err }

var postedDataKeys = map[string]struct{}{
	"post":                 {},
	"team_id":              {},
	"sender_name":          {},
	"channel_name":         {},
	"channel_type":         {},
	"channel_display_name": {},
	"mentions":             {},
}

// ParseFrame decodes a single WebSocket frame into an Event.
func ParseFrame(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformedFrame, root.Type)
	}
	if tag := root.Get("event"); !tag.Exists() || tag.String() == "" {
		return nil, ErrNotEvent
	}

	evt, err := model.WebSocketEventFromJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if evt.EventType() == "" {
		return nil, ErrNotEvent
	}

	switch Type(evt.EventType()) {
	case TypePosted:
		posted, err := parsePosted(evt)
		if err != nil {
			return nil, &ClassifyError{Type: TypePosted, Raw: raw, Err: err}
		}
		return posted, nil
	case TypeUserAdded:
		added, err := parseUserAdded(evt)
		if err != nil {
			return nil, &ClassifyError{Type: TypeUserAdded, Raw: raw, Err: err}
		}
		return added, nil
	default:
		g := NewGeneric(Type(evt.EventType()), evt.GetData())
		g.Seq = evt.GetSequence()
		g.Broadcast = evt.GetBroadcast()
		return g, nil
	}
}

func parsePosted(evt *model.WebSocketEvent) (*Posted, error) {
	data := evt.GetData()
	postJSON, ok := data["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	if post.UserId == "" {
		return nil, fmt.Errorf("post %q has no user_id", post.Id)
	}

	p := &Posted{
		Seq:        evt.GetSequence(),
		UserID:     post.UserId,
		ChannelID:  post.ChannelId,
		PostID:     post.Id,
		RootID:     post.RootId,
		Text:       post.Message,
		SystemType: post.Type,
		FromBot:    isTrue(post.GetProp(model.PostPropsFromBot)),
		Post:       &post,
		Broadcast:  evt.GetBroadcast(),
	}
	p.TeamID, _ = data["team_id"].(string)
	p.ChannelName, _ = data["channel_name"].(string)
	p.ChannelType, _ = data["channel_type"].(string)
	senderName, _ := data["sender_name"].(string)
	p.SenderName = strings.TrimPrefix(senderName, "@")
	if mentions, ok := data["mentions"].(string); ok && mentions != "" {
		// Mentions are best effort; a bad list never drops the post.
		_ = json.Unmarshal([]byte(mentions), &p.Mentions)
	}

	for key, value := range data {
		if _, known := postedDataKeys[key]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[key] = value
	}
	return p, nil
}

func parseUserAdded(evt *model.WebSocketEvent) (*UserAdded, error) {
	data := evt.GetData()
	userID, ok := data["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("user_added event missing user_id")
	}
	teamID, _ := data["team_id"].(string)
	return &UserAdded{
		Seq:       evt.GetSequence(),
		TeamID:    teamID,
		UserID:    userID,
		Broadcast: evt.GetBroadcast(),
	}, nil
}

var buttonQueryKeys = map[string]struct{}{
	"user_id":      {},
	"user_name":    {},
	"channel_id":   {},
	"channel_name": {},
	"team_id":      {},
	"team_name":    {},
	"team_domain":  {},
	"post_id":      {},
	"trigger_id":   {},
	"type":         {},
	"data_source":  {},
	"context":      {},
}

// ParseButtonQuery decodes an interactive button request body.
func ParseButtonQuery(body []byte) (*ButtonQuery, error) {
	var req model.PostActionIntegrationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal button query: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal button query: %w", err)
	}

	bq := &ButtonQuery{
		UserID:     req.UserId,
		UserName:   req.UserName,
		ChannelID:  req.ChannelId,
		TeamID:     req.TeamId,
		PostID:     req.PostId,
		TriggerID:  req.TriggerId,
		DataSource: req.DataSource,
		Context:    req.Context,
	}
	bq.TeamDomain, _ = raw["team_domain"].(string)
	if req.Context != nil {
		bq.Action, _ = req.Context["action"].(string)
	}
	for key, value := range raw {
		if _, known := buttonQueryKeys[key]; known {
			continue
		}
		if bq.Extra == nil {
			bq.Extra = make(map[string]any)
		}
		bq.Extra[key] = value
	}
	return bq, nil
}

var slashCommandKeys = map[string]struct{}{
	"user_id":      {},
	"user_name":    {},
	"channel_id":   {},
	"channel_name": {},
	"team_id":      {},
	"team_domain":  {},
	"command":      {},
	"text":         {},
	"trigger_id":   {},
	"response_url": {},
}

// ParseSlashCommand maps the form a slash command posts to its variant.
func ParseSlashCommand(form url.Values) *SlashCommand {
	sc := &SlashCommand{
		UserID:      form.Get("user_id"),
		UserName:    form.Get("user_name"),
		ChannelID:   form.Get("channel_id"),
		ChannelName: form.Get("channel_name"),
		TeamID:      form.Get("team_id"),
		TeamDomain:  form.Get("team_domain"),
		Command:     form.Get("command"),
		Text:        form.Get("text"),
		TriggerID:   form.Get("trigger_id"),
		ResponseURL: form.Get("response_url"),
	}
	for key := range form {
		if _, known := slashCommandKeys[key]; known {
			continue
		}
		if sc.Extra == nil {
			sc.Extra = make(map[string]any)
		}
		sc.Extra[key] = form.Get(key)
	}
	return sc
}

// decodeNested walks v and replaces strings holding a JSON object or array
// with their decoded value.
func decodeNested(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = decodeNested(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = decodeNested(item)
		}
		return out
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
			return val
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return val
		}
		return decodeNested(decoded)
	default:
		return v
	}
}

func isTrue(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}
