package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/graphd/internal/schema"
)

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with CUE graph schema files",
	}
	cmd.AddCommand(newSchemaValidateCommand(rootOpts))
	return cmd
}

func newSchemaValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema.cue>",
		Short: "Compile a schema file and list its types",
		Long: `Compile a CUE schema file without opening a store and list the node and
edge types it declares. Errors carry file positions.

Example:
  graphd schema validate graph.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(rootOpts, args[0], cmd)
		},
	}
}

type schemaOutput struct {
	Valid bool              `json:"valid"`
	Nodes []schema.NodeType `json:"nodes"`
	Edges []schema.EdgeType `json:"edges"`
}

func runSchemaValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	formatter.VerboseLog("compiling %s", path)

	s, err := schema.CompileFile(path)
	if err != nil {
		var details any
		var cerr *schema.CompileError
		if errors.As(err, &cerr) && cerr.Pos.IsValid() {
			details = map[string]any{"file": cerr.Pos.Filename(), "line": cerr.Pos.Line(), "field": cerr.Field}
		}
		_ = formatter.Error(ErrCodeSchema, err.Error(), details)
		return WrapExitError(ExitCommandError, "invalid schema", err)
	}
	return formatter.Success(schemaOutput{Valid: true, Nodes: s.NodeTypes(), Edges: s.EdgeTypes()})
}

func (o schemaOutput) RenderText(w io.Writer) {
	for _, n := range o.Nodes {
		fmt.Fprintf(w, "node %s", n.Name)
		if n.PrimaryKey != "" {
			fmt.Fprintf(w, " key=%s", n.PrimaryKey)
		}
		fmt.Fprintf(w, " {%s}\n", formatProperties(n.Properties))
	}
	for _, e := range o.Edges {
		fmt.Fprintf(w, "edge %s %s->%s {%s}\n", e.Name, e.From, e.To, formatProperties(e.Properties))
	}
	fmt.Fprintf(w, "valid: %d node types, %d edge types\n", len(o.Nodes), len(o.Edges))
}

func formatProperties(props []schema.Property) string {
	parts := make([]string, len(props))
	for i, p := range props {
		opt := "?"
		if p.Required {
			opt = ""
		}
		parts[i] = fmt.Sprintf("%s%s: %s", p.Name, opt, p.Kind)
	}
	return strings.Join(parts, ", ")
}
