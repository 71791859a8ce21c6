package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/binacloud/relay/internal/eventlog"
	"github.com/binacloud/relay/internal/relay"
	"github.com/binacloud/relay/internal/surface"
)

var eventsJSON bool

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the stored event log, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, err := relay.OpenStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
		}
		defer store.Close()

		log := eventlog.New(store)
		defer log.Close()
		events := log.Load(ctx)

		out := cmd.OutOrStdout()
		if eventsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "no events")
			return nil
		}
		format := surface.Format{Detailed: true, PortalBase: cfg.PortalBase}
		for _, e := range events {
			fmt.Fprintln(out, format.Line(e))
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(eventsCmd)
}
