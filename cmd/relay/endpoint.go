package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/binacloud/relay/internal/relay"
	"github.com/binacloud/relay/internal/storage"
	"github.com/binacloud/relay/internal/transport"
)

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Show or change the stored server URL",
}

var endpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the server URL the next run connects to",
	Args:  cobra.NoArgs,
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

		url, err := storage.LoadServerURL(ctx, store)
		if err != nil {
			return err
		}
		if url == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (default)\n", cfg.ServerURL)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

var endpointSetCmd = &cobra.Command{
	Use:   "set <url>",
	Short: "Store a new server URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := transport.ValidateEndpoint(args[0]); err != nil {
			return err
		}
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

		if err := storage.SaveServerURL(ctx, store, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "server URL set to %s\n", args[0])
		return nil
	},
}

func init() {
	endpointCmd.AddCommand(endpointShowCmd, endpointSetCmd)
	rootCmd.AddCommand(endpointCmd)
}
