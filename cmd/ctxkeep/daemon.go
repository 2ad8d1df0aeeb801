package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"ctxkeep/pkg/config"
	"ctxkeep/pkg/gateway"
	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/version"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Aliases: []string{"serve"},
	Short:   "Run the scheduler and HTTP gateway",
	Long: `Run ctxkeep in the foreground: the summarize, index, curate and prune
jobs run on their cron schedules, and the HTTP gateway serves recall and
message registration. Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	Run:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func daemonApp() *fx.App {
	return fx.New(
		coreModules(),
		gateway.Module,
		fx.Provide(config.ProvideWatcher),
		fx.Invoke(func(*config.Watcher) {}),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, log *logger.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					log.Info("ctxkeep daemon started",
						zap.String("version", version.GetVersion()),
						zap.String("workspace", cfg.WorkspacePath()),
						zap.Bool("schedule", cfg.Schedule.Enabled),
						zap.Bool("gateway", cfg.Gateway.Enabled),
					)
					return nil
				},
			})
		}),
		fx.NopLogger,
	)
}

func runDaemon(cmd *cobra.Command, args []string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := daemonApp()
	if err := app.Start(ctx); err != nil {
		fail("starting daemon: %v", err)
	}
	fmt.Println("ctxkeep daemon running (Ctrl+C to stop)")

	<-ctx.Done()
	fmt.Println("\nShutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping daemon: %v\n", err)
	}
}
