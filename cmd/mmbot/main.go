// Copyright 2024-2026 Aiku AI

// Command mmbot runs an example Mattermost bot: a small sign-up
// conversation driven by per-user state, interactive buttons and a slash
// command, all served by the mmbot framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/mmbot/pkg/bot"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var generateExample = flag.MakeFull("g", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
var wantVersion = flag.MakeFull("v", "version", "View bot version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles("mmbot - An example Mattermost bot.", "mmbot [-hgv] [-c <path>]")
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *wantVersion {
		fmt.Printf("mmbot %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *generateExample {
		if err := writeExampleConfig(*configPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func writeExampleConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(bot.ExampleConfig), 0o600)
}

func run() error {
	cfg, err := bot.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting mmbot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	app, err := bot.NewApp(ctx, cfg, *log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Err(err).Msg("Failed to close state store")
		}
	}()
	if err := app.IncludeRouter(newSignupRouter(app), newUtilityRouter(app)); err != nil {
		return err
	}
	if err := app.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shut down cleanly")
	return nil
}
