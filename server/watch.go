package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"collabtext/internal/config"
	"collabtext/internal/relay"
	"collabtext/internal/reportstore"
)

// newWatchCommand follows the relay channel of one document and prints each
// event as a JSON line.
func newWatchCommand(configPath *string) *cobra.Command {
	var documentID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the relayed events of a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			rdb := redis.NewClient(reportstore.RedisOptions(cfg))
			defer rdb.Close()

			channel := cfg.Relay.ChannelPrefix + documentID
			events, err := relay.Subscribe(ctx, rdb, channel)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s\n", channel)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Document id to follow")
	cmd.MarkFlagRequired("document")
	return cmd
}
