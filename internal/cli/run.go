package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-restaurant-orders/internal/telemetry"
)

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the local order list in sync until interrupted",
		Long: `Start the terminal sync loop.

The loop probes the order API, drains queued orders whenever the API becomes
reachable, refreshes the order list on an interval and applies realtime pushes
for the configured restaurant.

Example:
  terminal run --config ./terminal.yaml
  TERMINAL_TENANT_ID=7 terminal run -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTerminal(cmd, rootOpts)
		},
	}
}

func runTerminal(cmd *cobra.Command, opts *RootOptions) error {
	t, err := openTerminal(opts)
	if err != nil {
		return err
	}
	defer t.Close()

	shutdown := telemetry.Setup(t.cfg.ServiceName)
	defer func() { _ = shutdown(context.Background()) }()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var count int
	updates, unsubscribe := t.cache.Subscribe()
	defer unsubscribe()

	slog.Info("terminal started", "tenant", t.cfg.TenantID, "api", t.cfg.APIURL)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.monitor.Run(gctx) })
	g.Go(func() error { return t.coord.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case list := <-updates:
				if len(list) != count {
					count = len(list)
					slog.Debug("order list changed", "orders", count)
				}
			}
		}
	})
	err = g.Wait()
	slog.Info("terminal stopped")
	return err
}
