// Copyright 2024-2026 Aiku AI

package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/mmbot/pkg/router"
	"github.com/aiku/mmbot/pkg/state"
	"github.com/aiku/mmbot/pkg/stream"
	"github.com/aiku/mmbot/pkg/webhook"
)

const shutdownTimeout = 10 * time.Second

// App wires the configured store, REST client, dispatcher, WebSocket
// ingestor and HTTP surface together.
type App struct {
	Config     *Config
	Log        zerolog.Logger
	Client     *Client
	Dispatcher *router.Dispatcher

	store state.Store

	// StreamOptions are passed to the ingestor created by Run.
	StreamOptions []stream.Option
	// Listener replaces the listener opened on Config.HTTP.Addr.
	Listener net.Listener
}

// OpenStore creates the state store selected by cfg.
func OpenStore(ctx context.Context, cfg StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		return state.OpenRedis(ctx, cfg.RedisURL)
	case BackendSQLite:
		return state.OpenSQLite(ctx, cfg.SQLitePath)
	case BackendMemory, "":
		return state.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// NewApp opens the state store and builds the dispatcher. Routers are
// added with IncludeRouter before calling Run.
func NewApp(ctx context.Context, cfg *Config, log zerolog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s state store: %w", cfg.State.Backend, err)
	}
	log.Info().Str("backend", cfg.State.Backend).Msg("Opened state store")
	return &App{
		Config: cfg,
		Log:    log,
		Client: NewClient(cfg.ServerURL, cfg.Token, log),
		Dispatcher: router.NewDispatcher(store,
			router.WithDispatcherBotUserID(cfg.BotUserID),
			router.WithDefaultTTL(cfg.State.DefaultTTL),
			router.WithLogger(log),
		),
		store: store,
	}, nil
}

// Store returns the shared state store.
func (a *App) Store() state.Store {
	return a.store
}

// IncludeRouter attaches root routers to the dispatcher.
func (a *App) IncludeRouter(routers ...*router.Router) error {
	return a.Dispatcher.IncludeRouter(routers...)
}

// ActionURL is the integration URL interactive buttons should post to.
func (a *App) ActionURL() string {
	return a.Config.HTTP.PublicURL + a.Config.HTTP.Prefix + "/action"
}

// Buttons builds post actions that report back to this app's HTTP surface.
func (a *App) Buttons(buttons ...Button) []*model.PostAction {
	return Actions(a.ActionURL(), buttons...)
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return webhook.New(a.Dispatcher, a.Log, webhook.Options{
		Prefix:  a.Config.HTTP.Prefix,
		Metrics: a.Config.HTTP.Metrics,
	})
}

func (a *App) resolveBotUserID(ctx context.Context) error {
	if a.Config.BotUserID != "" {
		return nil
	}
	me, err := a.Client.Me(ctx)
	if err != nil {
		return err
	}
	a.Config.BotUserID = me.Id
	a.Dispatcher.SetBotUserID(me.Id)
	return nil
}

// Run resolves the bot identity and runs the ingestor and HTTP server
// until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.resolveBotUserID(ctx); err != nil {
		return err
	}
	ingestor := stream.NewIngestor(stream.Config{
		URL:                a.Config.WebSocketURL,
		Token:              a.Config.Token,
		BotUserID:          a.Config.BotUserID,
		InsecureSkipVerify: a.Config.InsecureSkipVerify,
		HandshakeTimeout:   a.Config.HandshakeTimeout,
	}, a.Dispatcher, a.Log, a.StreamOptions...)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return ingestor.Run(ctx)
	})
	if a.Config.HTTP.Addr != "" || a.Listener != nil {
		srv := &http.Server{
			Addr:              a.Config.HTTP.Addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return a.Log.WithContext(context.Background()) },
		}
		eg.Go(func() error {
			a.Log.Info().Str("addr", a.Config.HTTP.Addr).Msg("Starting HTTP server")
			var err error
			if a.Listener != nil {
				err = srv.Serve(a.Listener)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the state store.
func (a *App) Close() error {
	if closer, ok := a.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
