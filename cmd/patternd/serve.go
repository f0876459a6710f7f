package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ledgerline/patternd/internal/scheduler"
	"github.com/ledgerline/patternd/pkg/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine to agents over MCP stdio",
	Long: `Starts the MCP stdio server exposing pattern.run, pattern.validate,
pattern.list, capability.list and invocation.trace, plus the cron scheduler
for any configured recurring patterns. Blocks until stdin closes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		app, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		if len(cfg.Schedules) > 0 {
			sched, err := scheduler.New(app, cfg.Schedules, app.logger)
			if err != nil {
				return err
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
		}

		var replayer mcp.TraceReplayer
		if app.eventLog != nil {
			replayer = app.eventLog
		}

		server := mcp.NewPatternServer(mcp.ServerDeps{
			Interpreter: app.interpreter,
			Library:     app.library,
			Registry:    app.registry,
			Replayer:    replayer,
			Logger:      app.logger,
		})

		app.logger.Info("mcp server listening on stdio",
			slog.Int("patterns", app.library.Count()),
			slog.Int("capabilities", app.registry.Count()))
		return server.Serve(ctx)
	},
}
