package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/graphd/internal/lifecycle"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Recover and verify a store directory",
		Long: `Open the store directory the way serve does, recovering it if the previous
process died, run the engine's integrity check, count nodes and edges per
type, and close the store cleanly.

Fails if the directory is locked by a running server. Exits 1 if the
integrity check reports problems.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd)
		},
	}
}

type checkOutput struct {
	lifecycle.Report
	Healthy bool `json:"healthy"`
}

func runCheck(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings(cmd, nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	log := opts.logger(cmd, cfg)

	report, err := lifecycle.Check(cmd.Context(), cfg.DataDir, cfg.Lifecycle(), lifecycle.WithLogger(log))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "check failed", err)
	}
	out := checkOutput{Report: report, Healthy: report.Healthy()}
	if err := formatter.Success(out); err != nil {
		return err
	}
	if !out.Healthy {
		return NewExitError(ExitFailure, "integrity check reported problems")
	}
	return nil
}

func (o checkOutput) RenderText(w io.Writer) {
	fmt.Fprintf(w, "dir:       %s\n", o.Dir)
	fmt.Fprintf(w, "sqlite:    %s\n", o.SQLite)
	if o.Previous != nil {
		fmt.Fprintf(w, "previous:  pid %d, clean=%t\n", o.Previous.PID, o.Previous.Clean)
	}
	fmt.Fprintf(w, "recovered: %t\n", o.Recovered)
	for _, c := range o.Counts {
		fmt.Fprintf(w, "%-4s %-24s %d\n", c.Entity, c.Type, c.Count)
	}
	if o.Healthy {
		fmt.Fprintln(w, "integrity: ok")
		return
	}
	for _, p := range o.Integrity {
		fmt.Fprintf(w, "integrity: %s\n", p)
	}
}
