// Copyright 2024-2026 Aiku AI

// Package bot assembles a runnable Mattermost bot from a config file: the
// state store, the REST client, the dispatcher, the WebSocket ingestor and
// the HTTP surface for buttons, webhooks and slash commands.
//
// A minimal bot:
//
//	cfg, err := bot.LoadConfig("config.yaml")
//	app, err := bot.NewApp(ctx, cfg, log)
//	defer app.Close()
//	r := router.New("hello")
//	r.Posted.Register(sayHello, router.WithFilters(filters.Command("hello")))
//	_ = app.IncludeRouter(r)
//	err = app.Run(ctx)
package bot
