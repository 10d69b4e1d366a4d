// Command agent is a terminal client for the collabtext sync server. Each line
// read from stdin becomes the new value of the shared field; remote changes
// and presence are printed as they arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"collabtext/internal/discovery"
	"collabtext/internal/logging"
)

type options struct {
	server   string
	service  string
	document string
	user     string
	name     string
	logLevel string
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "agent",
		Short:         "Edit a shared report field from the terminal",
		Long:          "Each input line replaces the field value. :save persists it, :who lists collaborators, :quit leaves.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.Flags().StringVarP(&opts.server, "server", "s", "", "WebSocket URL of the sync server; discovered over mDNS when empty")
	cmd.Flags().StringVar(&opts.service, "service", "_collabtext._tcp", "mDNS service to browse for")
	cmd.Flags().StringVarP(&opts.document, "document", "d", "", "Document id, e.g. report-1:summary")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "User id sent as X-User-Id")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Display name sent as X-User-Name")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	cmd.MarkFlagRequired("document")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out, errOut io.Writer) error {
	logger, err := logging.New(logging.Config{Level: opts.logLevel, Format: "text"}, errOut)
	if err != nil {
		return err
	}
	if opts.user == "" {
		opts.user = os.Getenv("USER")
	}
	if opts.user == "" {
		opts.user = "agent-" + uuid.NewString()[:8]
	}
	if opts.server == "" {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ep, err := discovery.First(dctx, opts.service)
		cancel()
		if err != nil {
			return fmt.Errorf("no --server given and discovery failed: %w", err)
		}
		opts.server = ep.URL()
		logger.Info("discovered server", "instance", ep.Instance, "url", opts.server)
	}

	a := newAgent(opts, out, logger.Logger)
	return a.run(ctx, readLines(in))
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
