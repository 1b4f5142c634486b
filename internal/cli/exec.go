package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/graphd/internal/config"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/harness"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Scratch bool
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <script.yaml>",
		Short: "Run an operation script through the core",
		Long: `Run a YAML operation script through the request core and print its trace.

A schema named by the script is declared before the steps run. With
--scratch the script runs against a fresh temporary store that is removed
afterwards; otherwise it runs against the configured data directory, which
must not be in use by a server.

Exits 1 if any expectation or assertion of the script failed.

Example:
  graphd exec --scratch testdata/social.yaml
  graphd exec --data-dir /data --format json migrate.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Scratch, "scratch", false, "run against a fresh temporary store")

	return cmd
}

func runExec(opts *ExecOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	script, err := harness.LoadScript(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScript, "failed to load script", err)
	}

	var scratch string
	if opts.Scratch {
		if scratch, err = os.MkdirTemp("", "graphd-exec-"); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to create scratch store", err)
		}
		defer os.RemoveAll(scratch)
	}

	cfg, err := opts.settings(cmd, func(c *config.Config) {
		if scratch != "" {
			c.DataDir = scratch
		}
		if script.Schema != "" {
			c.SchemaFile = script.Schema
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
	formatter.VerboseLog("running %s (%d steps) against %s", script.Name, len(script.Steps), cfg.DataDir)

	result, runErr := harness.New(core.Engine, harness.WithLogger(log)).Run(ctx, script)
	if err := core.Stop(); err != nil {
		log.Warn("unclean shutdown", "error", err)
	}
	if runErr != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScript, "script aborted", runErr)
	}

	if err := formatter.Success(execOutput{harness.Snapshot{
		Script: script.Name,
		Pass:   result.Pass,
		Trace:  result.Trace,
		Errors: result.Errors,
	}}); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("script %s failed", script.Name))
	}
	return nil
}

type execOutput struct {
	harness.Snapshot
}

func (o execOutput) RenderText(w io.Writer) {
	for _, ev := range o.Trace {
		var b strings.Builder
		fmt.Fprintf(&b, "%3d  %-16s", ev.Step, ev.Op)
		if ev.Session != "" {
			fmt.Fprintf(&b, " [%s]", ev.Session)
		}
		if ev.Mode != "" {
			fmt.Fprintf(&b, " mode=%s", ev.Mode)
		}
		if ev.Affected > 0 {
			fmt.Fprintf(&b, " affected=%d", ev.Affected)
		}
		if len(ev.IDs) > 0 {
			fmt.Fprintf(&b, " ids=%v", ev.IDs)
		}
		if ev.Rows != nil {
			fmt.Fprintf(&b, " rows=%d", len(ev.Rows))
		}
		if ev.Error != "" {
			fmt.Fprintf(&b, " error=%s", ev.Error)
		}
		fmt.Fprintln(w, b.String())
		for _, row := range ev.Rows {
			fmt.Fprintf(w, "       %s\n", formatRow(row))
		}
	}

	if o.Pass {
		fmt.Fprintf(w, "PASS %s\n", o.Script)
		return
	}
	for _, e := range o.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	fmt.Fprintf(w, "FAIL %s\n", o.Script)
}

func formatRow(row graph.Row) string {
	switch row.Kind {
	case graph.RowCount:
		return fmt.Sprintf("%s %s: %d", row.Entity, row.Type, row.Count)
	case graph.RowPath:
		return fmt.Sprintf("depth %d via %s#%d: %s", row.Depth, row.Edge.Type, row.Edge.ID, formatNode(row.Node))
	default:
		return formatNode(row.Node)
	}
}

func formatNode(n *graph.Node) string {
	if n == nil {
		return "<nil>"
	}
	parts := make([]string, 0, len(n.Props))
	for _, k := range n.Props.SortedKeys() {
		parts = append(parts, k+"="+graph.FormatValue(n.Props[k]))
	}
	return fmt.Sprintf("%s#%d {%s}", n.Type, n.ID, strings.Join(parts, ", "))
}
