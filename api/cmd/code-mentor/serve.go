package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"code-mentor/api/internal/handle"
	"code-mentor/api/internal/httpserver"
	"code-mentor/api/internal/purge"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Run the HTTP API and the scheduled purge; blocks until SIGINT/SIGTERM.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = a.context(ctx)

	stopPurge, err := startPurge(ctx, a)
	if err != nil {
		return err
	}
	defer stopPurge()

	mux := http.NewServeMux()
	handle.New(a.svc, handle.Options{
		Prompts:    a.prompts,
		DB:         a.store,
		Timeout:    a.cfg.RequestTimeout,
		AdminToken: a.cfg.AdminToken,
	}).Register(mux)

	return httpserver.Run(ctx, net.JoinHostPort("0.0.0.0", a.cfg.Port), mux, a.log)
}

// startPurge schedules stale-record cleanup unless the schedule is empty.
func startPurge(ctx context.Context, a *app) (func(), error) {
	if a.cfg.PurgeSchedule == "" {
		return func() {}, nil
	}
	return purge.Start(ctx, a.cfg.PurgeSchedule, a.cfg.PurgeAfter, a.store)
}
