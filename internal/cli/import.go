package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/graphd/internal/config"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/importer"
	"github.com/roach88/graphd/internal/source"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Source    string
	Postgres  string
	Schema    string
	BatchSize int
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import (--postgres <url> [--schema <name>] | --source <sqlite-file>)",
		Short: "Load a relational database into the graph",
		Long: `Load every table of a PostgreSQL schema or a SQLite database into the
graph.

The PostgreSQL source defaults to import.postgres from the config file, or
a URL composed from POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_HOST,
POSTGRES_PORT and POSTGRES_DB when POSTGRES_HOST or POSTGRES_DB is set.
--source reads a SQLite file instead.

Tables with a single-column primary key become node types and their rows
nodes. Single-column foreign keys become edge types named
<parent>_<child>_edge, directed from the parent row to the child row.
Tables without a usable primary key are skipped and reported.

After loading, stored counts are read back and checked against what was
written.

Examples:
  graphd import --data-dir /data --postgres postgres://app@db:5432/calls
  POSTGRES_HOST=db POSTGRES_DB=calls graphd import --schema sales
  graphd import --data-dir /data --source shop.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "path to a source SQLite database")
	cmd.Flags().StringVar(&opts.Postgres, "postgres", "", "source PostgreSQL connection URL (overrides import.postgres)")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "PostgreSQL schema to import (overrides import.schema)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", importer.DefaultBatchSize, "writes committed per transaction")
	cmd.MarkFlagsMutuallyExclusive("source", "postgres")

	return cmd
}

// importOutput is the import command's result.
type importOutput struct {
	importer.Report
	Counts []graph.Row `json:"counts"`
}

func runImport(opts *ImportOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings(cmd, func(c *config.Config) {
		if cmd.Flags().Changed("postgres") {
			c.Import.Postgres = opts.Postgres
		}
		if cmd.Flags().Changed("schema") {
			c.Import.Schema = opts.Schema
		}
		if opts.Source != "" {
			c.Import.Postgres = ""
		}
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	log := opts.logger(cmd, cfg)
	ctx := cmd.Context()

	src, err := openSource(ctx, opts.Source, cfg.Import)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to open source", err)
	}
	defer src.Close()

	core, err := startCore(ctx, cfg, log)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to start", err)
	}
	defer func() {
		if err := core.Stop(); err != nil {
			log.Warn("unclean shutdown", "error", err)
		}
	}()

	im := importer.New(core.Engine, importer.WithLogger(log), importer.WithBatchSize(opts.BatchSize))
	report, err := im.Import(ctx, src)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "import failed", err)
	}
	counts, err := im.Verify(ctx, report)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "verification failed", err)
	}
	return formatter.Success(importOutput{Report: report, Counts: counts})
}

var errNoSource = errors.New("no source: pass --postgres or --source, or set POSTGRES_HOST or POSTGRES_DB")

// openSource opens the SQLite file at path when given, else the
// configured PostgreSQL schema.
func openSource(ctx context.Context, path string, ic config.ImportConfig) (*source.Source, error) {
	switch {
	case path != "":
		return source.OpenSQLite(ctx, path)
	case ic.Postgres != "":
		return source.OpenPostgres(ctx, ic.Postgres, ic.Schema)
	default:
		return nil, errNoSource
	}
}

func (o importOutput) RenderText(w io.Writer) {
	for _, t := range o.Tables {
		fmt.Fprintf(w, "node type %-24s %d nodes\n", t.Table, t.Nodes)
	}
	for _, e := range o.Edges {
		fmt.Fprintf(w, "edge type %-24s %d edges", e.Type, e.Edges)
		if e.Dangling > 0 {
			fmt.Fprintf(w, " (%d dangling references skipped)", e.Dangling)
		}
		fmt.Fprintln(w)
	}
	for _, s := range o.Skipped {
		fmt.Fprintf(w, "skipped %s: %s\n", s.Table, s.Reason)
	}
	fmt.Fprintln(w, "verified")
}
