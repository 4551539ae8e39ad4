package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/persona-gateway/internal/logger"
)

const defaultServer = "http://localhost:8080"

// options shared by every subcommand
type options struct {
	server  string
	timeout time.Duration
	verbose bool

	in     io.Reader
	out    io.Writer
	logger zerolog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &options{in: in, out: out, logger: zerolog.Nop()}

	server := os.Getenv("TAVERN_SERVER")
	if server == "" {
		server = defaultServer
	}

	rootCmd := &cobra.Command{
		Use:   "tavern",
		Short: "Talk to persona characters through the chat gateway",
		Long: `tavern is a terminal client for the persona chat gateway.

Messages are screened locally before they are sent; the gateway screens them again
and attaches the persona's instructions server-side.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			opts.logger = logger.NewWithWriter(errOut, level, "console")
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "Gateway base URL (or set TAVERN_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "Per-request timeout")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newPersonasCmd(opts),
		newClassifyCmd(opts),
		newChatCmd(opts),
	)
	return rootCmd
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
