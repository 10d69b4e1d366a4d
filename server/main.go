// Command server runs the collabtext sync server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Real-time sync server for collaborative report fields",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a .toml or .yaml config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address, overrides server.addr")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level, overrides logging.level")

	cmd.AddCommand(newWatchCommand(&opts.configPath))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
