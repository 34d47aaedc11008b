// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/mmbot/pkg/bot"
	"github.com/aiku/mmbot/pkg/event"
	"github.com/aiku/mmbot/pkg/filters"
	"github.com/aiku/mmbot/pkg/router"
	"github.com/aiku/mmbot/pkg/state"
)

var (
	signup         = state.NewGroup("Signup")
	awaitingName   = signup.State("name")
	awaitingAnswer = signup.State("confirm")
)

const (
	actionConfirm = "signup_confirm"
	actionCancel  = "signup_cancel"
)

// newSignupRouter asks for a name, then for confirmation with buttons.
// Replies are sent with the REST client since stream events carry no
// response channel.
func newSignupRouter(app *bot.App) *router.Router {
	r := router.New("signup")

	r.Posted.Register(func(ctx context.Context, evt event.Event, fsm *state.Context) (router.Response, error) {
		post := evt.(*event.Posted)
		if _, err := app.Client.Reply(ctx, post.ChannelID, post.PostID, "What should I call you?", nil); err != nil {
			return nil, err
		}
		return router.Response{"status": "asked"}, fsm.SetState(ctx, awaitingName)
	}, router.WithFilters(filters.Or(filters.Command("signup"), filters.Text("signup"))))

	r.Posted.Register(func(ctx context.Context, evt event.Event, fsm *state.Context) (router.Response, error) {
		post := evt.(*event.Posted)
		if err := fsm.Clear(ctx); err != nil {
			return nil, err
		}
		_, err := app.Client.Reply(ctx, post.ChannelID, post.PostID, "Sign-up cancelled.", nil)
		return nil, err
	}, router.WithState(awaitingName), router.WithFilters(filters.Command("cancel")))

	r.Posted.Register(func(ctx context.Context, evt event.Event, fsm *state.Context) (router.Response, error) {
		post := evt.(*event.Posted)
		if err := fsm.UpdateData(ctx, map[string]any{"name": post.Text}); err != nil {
			return nil, err
		}
		buttons := app.Buttons(
			bot.Button{ID: "confirm", Name: "Confirm", Action: actionConfirm},
			bot.Button{ID: "cancel", Name: "Cancel", Action: actionCancel},
		)
		text := fmt.Sprintf("Sign up as **%s**?", post.Text)
		if _, err := app.Client.Reply(ctx, post.ChannelID, post.PostID, text, buttons); err != nil {
			return nil, err
		}
		return nil, fsm.SetState(ctx, awaitingAnswer)
	}, router.WithState(awaitingName))

	r.ButtonQuery.Register(func(ctx context.Context, evt event.Event, fsm *state.Context) (router.Response, error) {
		press := evt.(*event.ButtonQuery)
		data, err := fsm.Data(ctx)
		if err != nil {
			return nil, err
		}
		if err := fsm.Clear(ctx); err != nil {
			return nil, err
		}
		_, err = app.Client.UpdatePost(ctx, press.PostID, fmt.Sprintf("Welcome aboard, %v!", data["name"]), nil)
		return nil, err
	}, router.WithState(awaitingAnswer), router.WithButtonData(router.ButtonEquals(actionConfirm)))

	r.ButtonQuery.Register(func(ctx context.Context, evt event.Event, fsm *state.Context) (router.Response, error) {
		press := evt.(*event.ButtonQuery)
		if err := fsm.Clear(ctx); err != nil {
			return nil, err
		}
		_, err := app.Client.UpdatePost(ctx, press.PostID, "Sign-up cancelled.", nil)
		return nil, err
	}, router.WithState(awaitingAnswer), router.WithButtonData(router.ButtonEquals(actionCancel)))

	// Stale buttons pressed outside the conversation.
	r.ButtonQuery.Register(func(context.Context, event.Event, *state.Context) (router.Response, error) {
		return router.Response{"ephemeral_text": "This sign-up has already finished."}, nil
	}, router.WithButtonData(router.ButtonMatch(func(action string) bool {
		return action == actionConfirm || action == actionCancel
	})))

	return r
}

// newUtilityRouter answers the /echo slash command and greets new users.
func newUtilityRouter(app *bot.App) *router.Router {
	r := router.New("utility")

	r.SlashCommand.Register(func(_ context.Context, evt event.Event, _ *state.Context) (router.Response, error) {
		cmd := evt.(*event.SlashCommand)
		return router.Response{"response_type": "in_channel", "text": cmd.Text}, nil
	}, router.WithFilters(filters.Command("echo")))

	r.UserAdded.Register(func(ctx context.Context, evt event.Event, _ *state.Context) (router.Response, error) {
		added := evt.(*event.UserAdded)
		if _, err := app.Client.SendDirectMessage(ctx, added.UserID, "Welcome! Send /signup to get started.", nil); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", added.UserID).Msg("Failed to greet new user")
		}
		return nil, nil
	})

	return r
}
