package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/binacloud/relay/internal/dashboard"
	"github.com/binacloud/relay/internal/notify"
	"github.com/binacloud/relay/internal/relay"
	"github.com/binacloud/relay/internal/surface"
	"github.com/binacloud/relay/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the event server and relay events",
	Long: `Connect to the stored (or configured) event server and relay every
event until interrupted with Ctrl+C or SIGTERM.

The stored event log is printed first, oldest event at the top. The
connection is retried forever with the profile's fixed delay.`,
	RunE: runRelay,
}

var detailed bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&detailed, "detailed", false, "print the event description on each line")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := relay.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer store.Close()

	format := surface.Format{Detailed: detailed, PortalBase: cfg.PortalBase}
	console := surface.NewConsole(cmd.OutOrStdout(), format)

	opts := relay.FromConfig(cfg, store)
	opts.OnRestore = console.Replay
	r, err := relay.New(opts)
	if err != nil {
		return err
	}
	defer r.Close()
	r.Router().Register(console)

	if cfg.PushoverEnabled() {
		pushover, err := notify.NewPushoverNotifier(notify.PushoverConfig{
			Token:    cfg.PushoverToken,
			UserKey:  cfg.PushoverUser,
			Cooldown: cfg.PushoverCooldown,
			Format:   format,
		})
		if err != nil {
			return err
		}
		defer pushover.Close()
		r.Router().Register(pushover)
		logger.Infof("pushover notifications enabled")
	}

	if _, err := r.Start(ctx); err != nil {
		return err
	}

	errChan := make(chan error, 1)
	serving := cfg.DashboardAddr != ""
	if serving {
		srv := dashboard.New(dashboard.Options{Addr: cfg.DashboardAddr, Debug: cfg.Debug}, r, r.Router())
		go func() {
			errChan <- srv.Run(ctx)
		}()
	}

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
	case <-ctx.Done():
		logger.Infof("shutting down")
		if serving {
			if err := <-errChan; err != nil {
				logger.Warnf("dashboard: %v", err)
			}
		}
	}
	return nil
}
