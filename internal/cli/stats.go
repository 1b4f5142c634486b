package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/graphd/internal/graph"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Type string
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print node and edge counts per type",
		Long: `Print node and edge counts per type, read in one snapshot.

Example:
  graphd stats --data-dir /data
  graphd stats --type Person --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "count only this node or edge type")

	return cmd
}

type statsOutput struct {
	Counts []graph.Row `json:"counts"`
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings(cmd, nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	log := opts.logger(cmd, cfg)
	ctx := cmd.Context()

	core, err := startCore(ctx, cfg, log)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to start", err)
	}
	defer func() {
		if err := core.Stop(); err != nil {
			log.Warn("unclean shutdown", "error", err)
		}
	}()

	res, err := core.Do(ctx, "", graph.Count{Type: opts.Type})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "count failed", err)
	}
	counts, err := res.Rows.All()
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "count failed", err)
	}
	return formatter.Success(statsOutput{Counts: counts})
}

func (o statsOutput) RenderText(w io.Writer) {
	if len(o.Counts) == 0 {
		fmt.Fprintln(w, "empty graph")
		return
	}
	for _, c := range o.Counts {
		fmt.Fprintf(w, "%-4s %-24s %d\n", c.Entity, c.Type, c.Count)
	}
}
