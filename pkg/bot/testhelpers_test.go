// Copyright 2024-2026 Aiku AI

package bot

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mattermost/mattermost/server/public/model"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM wraps an httptest.Server simulating the Mattermost REST API and
// WebSocket endpoint. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Members maps "channelID:userID" to a channel membership.
	Members map[string]*model.ChannelMember
	// Frames are written to every WebSocket client after authentication.
	Frames [][]byte
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool

	challenges chan map[string]any
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Members:       make(map[string]*model.ChannelMember),
		FailEndpoints: make(map[string]bool),
		challenges:    make(chan map[string]any, 4),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// LastCall returns the most recent call to path.
func (f *fakeMM) LastCall(method, path string) (endpointCall, bool) {
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method && calls[i].Path == path {
			return calls[i], true
		}
	}
	return endpointCall{}, false
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()
	var challenge map[string]any
	if err := c.ReadJSON(&challenge); err != nil {
		return
	}
	f.challenges <- challenge
	for _, frame := range f.Frames {
		if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v4/websocket" {
		f.record(r.Method, path, "")
		f.serveWebSocket(w, r)
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/username/{username}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/username/"):
		name := path[len("/api/v4/users/username/"):]
		for _, u := range f.Users {
			if u.Username == name {
				_ = json.NewEncoder(w).Encode(u)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "user not found"})

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && !strings.Contains(path[len("/api/v4/users/"):], "/"):
		uid := path[len("/api/v4/users/"):]
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "user not found"})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		_ = json.NewEncoder(w).Encode(&post)

	// POST /api/v4/files (upload)
	case r.Method == "POST" && path == "/api/v4/files":
		_ = json.NewEncoder(w).Encode(&model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: "uploaded-file-id", Name: "upload"}},
		})

	// POST /api/v4/posts/ephemeral
	case r.Method == "POST" && path == "/api/v4/posts/ephemeral":
		var eph model.PostEphemeral
		_ = json.Unmarshal(body, &eph)
		if eph.Post == nil {
			eph.Post = &model.Post{}
		}
		eph.Post.Id = "ephemeral-post-id"
		_ = json.NewEncoder(w).Encode(eph.Post)

	// PUT /api/v4/posts/{post_id}/patch
	case r.Method == "PUT" && strings.HasSuffix(path, "/patch"):
		var patch model.PostPatch
		_ = json.Unmarshal(body, &patch)
		post := &model.Post{Id: strings.Split(path, "/")[4]}
		if patch.Message != nil {
			post.Message = *patch.Message
		}
		_ = json.NewEncoder(w).Encode(post)

	// DELETE /api/v4/posts/{post_id}
	case r.Method == "DELETE" && strings.HasPrefix(path, "/api/v4/posts/"):
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

	// POST /api/v4/channels/direct
	case r.Method == "POST" && path == "/api/v4/channels/direct":
		var ids []string
		_ = json.Unmarshal(body, &ids)
		_ = json.NewEncoder(w).Encode(&model.Channel{
			Id:   "dm-" + strings.Join(ids, "-"),
			Type: model.ChannelTypeDirect,
		})

	// GET /api/v4/channels/{channel_id}/members/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && strings.Contains(path, "/members/"):
		parts := strings.Split(path, "/")
		if len(parts) >= 7 {
			if m, ok := f.Members[parts[4]+":"+parts[6]]; ok {
				_ = json.NewEncoder(w).Encode(m)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "member not found"})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newBotFakeMM returns a fake server that knows the bot user behind token
// "bot-token".
func newBotFakeMM() *fakeMM {
	f := newFakeMM()
	f.Users["bot-id"] = &model.User{Id: "bot-id", Username: "helper", IsBot: true}
	f.TokenToUser["bot-token"] = "bot-id"
	return f
}
