// Copyright 2024-2026 Aiku AI

package bot

import (
	"context"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// Client is the bot's outbound Mattermost REST boundary.
type Client struct {
	api *model.Client4
	log zerolog.Logger

	userID string
}

// NewClient creates a client authenticated with a bot access token.
func NewClient(serverURL, token string, log zerolog.Logger) *Client {
	api := model.NewAPIv4Client(serverURL)
	api.SetToken(token)
	return &Client{
		api: api,
		log: log.With().Str("component", "mm_client").Logger(),
	}
}

// API exposes the underlying REST client for calls Client does not wrap.
func (c *Client) API() *model.Client4 {
	return c.api
}

// UserID returns the bot's user ID once Me has succeeded.
func (c *Client) UserID() string {
	return c.userID
}

// Me fetches the bot's own user and remembers its ID.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	me, _, err := c.api.GetMe(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get own user: %w", err)
	}
	c.userID = me.Id
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	return me, nil
}

// GetUser fetches a user by ID.
func (c *Client) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, _, err := c.api.GetUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return user, nil
}

// GetUserByUsername fetches a user by username.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	user, _, err := c.api.GetUserByUsername(ctx, username, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user @%s: %w", username, err)
	}
	return user, nil
}

// Button is an interactive message button.
type Button struct {
	ID     string
	Name   string
	Action string
}

// Actions builds post actions whose presses are sent to actionURL with
// the button's action in context.action.
func Actions(actionURL string, buttons ...Button) []*model.PostAction {
	actions := make([]*model.PostAction, 0, len(buttons))
	for _, b := range buttons {
		actions = append(actions, &model.PostAction{
			Id:   b.ID,
			Name: b.Name,
			Type: model.PostActionTypeButton,
			Integration: &model.PostActionIntegration{
				URL:     actionURL,
				Context: map[string]any{"action": b.Action},
			},
		})
	}
	return actions
}

func withActions(post *model.Post, actions []*model.PostAction) {
	if len(actions) == 0 {
		return
	}
	post.AddProp(model.PostPropsAttachments, []*model.SlackAttachment{{Actions: actions}})
}

// SendMessage posts text to a channel, optionally with buttons.
func (c *Client) SendMessage(ctx context.Context, channelID, text string, actions []*model.PostAction) (*model.Post, error) {
	return c.Reply(ctx, channelID, "", text, actions)
}

// Reply posts text in the thread rooted at rootID. An empty rootID posts
// to the channel.
func (c *Client) Reply(ctx context.Context, channelID, rootID, text string, actions []*model.PostAction) (*model.Post, error) {
	post := &model.Post{
		ChannelId: channelID,
		RootId:    rootID,
		Message:   text,
	}
	withActions(post, actions)
	created, _, err := c.api.CreatePost(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	c.log.Debug().
		Str("channel_id", channelID).
		Str("post_id", created.Id).
		Msg("Sent message")
	return created, nil
}

// UploadFile uploads data to channelID and returns the new file ID.
func (c *Client) UploadFile(ctx context.Context, channelID, filename string, data []byte) (string, error) {
	resp, _, err := c.api.UploadFile(ctx, data, channelID, filename)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	if len(resp.FileInfos) == 0 {
		return "", fmt.Errorf("upload of %s returned no file info", filename)
	}
	return resp.FileInfos[0].Id, nil
}

// SendMessageWithFiles posts text with previously uploaded files attached.
func (c *Client) SendMessageWithFiles(ctx context.Context, channelID, text string, fileIDs []string) (*model.Post, error) {
	created, _, err := c.api.CreatePost(ctx, &model.Post{
		ChannelId: channelID,
		Message:   text,
		FileIds:   fileIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create post with files: %w", err)
	}
	return created, nil
}

// UpdatePost replaces the text and buttons of a post. A nil actions
// slice removes any buttons.
func (c *Client) UpdatePost(ctx context.Context, postID, text string, actions []*model.PostAction) (*model.Post, error) {
	props := model.StringInterface{}
	if len(actions) > 0 {
		props[model.PostPropsAttachments] = []*model.SlackAttachment{{Actions: actions}}
	}
	patch := &model.PostPatch{
		Message: &text,
		Props:   &props,
	}
	updated, _, err := c.api.PatchPost(ctx, postID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to edit post: %w", err)
	}
	return updated, nil
}

// DeletePost deletes a post.
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	if _, err := c.api.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// SendDirectMessage opens (or reuses) the direct channel with userID and
// posts text there.
func (c *Client) SendDirectMessage(ctx context.Context, userID, text string, actions []*model.PostAction) (*model.Post, error) {
	if c.userID == "" {
		if _, err := c.Me(ctx); err != nil {
			return nil, err
		}
	}
	channel, _, err := c.api.CreateDirectChannel(ctx, c.userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open direct channel: %w", err)
	}
	return c.SendMessage(ctx, channel.Id, text, actions)
}

// SendEphemeral posts text visible only to userID.
func (c *Client) SendEphemeral(ctx context.Context, userID, channelID, text string) (*model.Post, error) {
	post, _, err := c.api.CreatePostEphemeral(ctx, &model.PostEphemeral{
		UserID: userID,
		Post:   &model.Post{ChannelId: channelID, Message: text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ephemeral post: %w", err)
	}
	return post, nil
}

// IsChannelAdmin reports whether userID administers channelID.
func (c *Client) IsChannelAdmin(ctx context.Context, userID, channelID string) (bool, error) {
	member, _, err := c.api.GetChannelMember(ctx, channelID, userID, "")
	if err != nil {
		return false, fmt.Errorf("failed to get channel member: %w", err)
	}
	return member.SchemeAdmin, nil
}
