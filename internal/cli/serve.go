package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/graphd/internal/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	SchemaFile string
	Workers    int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the store and run the core until interrupted",
		Long: `Open the store directory, recover it if the previous process died, and run
the request core until SIGINT or SIGTERM.

On shutdown, admission stops, queued requests fail, open transactions get
the shutdown grace period to finish and are then force-aborted, and the
directory lock is released.

Example:
  graphd serve --data-dir /data --schema graph.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SchemaFile, "schema", "", "CUE schema file declared at startup (overrides schema_file)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker count (overrides workers)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings(cmd, func(c *config.Config) {
		if opts.SchemaFile != "" {
			c.SchemaFile = opts.SchemaFile
		}
		if opts.Workers > 0 {
			c.Workers = opts.Workers
		}
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	log := opts.logger(cmd, cfg)

	ctx := cmd.Context()
	core, err := startCore(ctx, cfg, log)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to start", err)
	}
	log.Info("graphd ready", "dir", cfg.DataDir, "workers", cfg.Workers, "types", len(core.Schema().NodeTypes())+len(core.Schema().EdgeTypes()))

	<-ctx.Done()
	log.Info("shutting down", "grace", cfg.ShutdownGrace)
	if err := core.Stop(); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "unclean shutdown", err)
	}
	log.Info("graphd stopped")
	return nil
}
