package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"ctxkeep/pkg/compaction"
	"ctxkeep/pkg/config"
	"ctxkeep/pkg/cron"
	"ctxkeep/pkg/delivery"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/memory"
	"ctxkeep/pkg/recall"
	"ctxkeep/pkg/session"
	"ctxkeep/pkg/state"
	"ctxkeep/pkg/summarizer"
	"ctxkeep/pkg/tasks"
	"ctxkeep/pkg/workspace"
)

// coreModules wires every retention component. The gateway is left to the
// daemon.
func coreModules() fx.Option {
	return fx.Options(
		config.ModuleWithPath(configPath),
		logger.Module,
		workspace.Module,
		session.Module,
		memory.Module,
		tasks.Module,
		delivery.Module,
		compaction.Module,
		recall.Module,
		summarizer.Module,
		state.Module,
		cron.Module,
	)
}

// withoutSchedule keeps one-shot commands from starting the scheduler.
func withoutSchedule(cfg *config.Config) *config.Config {
	cfg.Schedule.Enabled = false
	return cfg
}

// startApp builds and starts a short-lived app, filling targets via
// fx.Populate. The returned cleanup stops it.
func startApp(targets ...interface{}) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	app := fx.New(
		coreModules(),
		fx.Decorate(withoutSchedule),
		fx.Populate(targets...),
		fx.NopLogger,
	)
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting app: %w", err)
	}

	cleanup := func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer stopCancel()
		if err := app.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping app: %v\n", err)
		}
	}
	return cleanup, nil
}

// mustStartApp is startApp for command handlers.
func mustStartApp(targets ...interface{}) func() {
	cleanup, err := startApp(targets...)
	if err != nil {
		fail("%v", err)
	}
	return cleanup
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encoding output: %v", err)
	}
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
