// Package importer bulk-loads a relational database into the graph.
//
// Every table with a single-column primary key becomes a node type and each
// of its rows a node. Every single-column foreign key from a child table to
// an imported parent becomes an edge type named <parent>_<child>_edge,
// directed from parent to child, with one edge per child row whose
// reference resolves. Tables with no or a composite primary key are
// skipped.
//
// All writes go through the service core like any other client, in one
// write session, committing every batch.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/graphd/internal/executor"
	"github.com/roach88/graphd/internal/failure"
	"github.com/roach88/graphd/internal/graph"
	"github.com/roach88/graphd/internal/logging"
	"github.com/roach88/graphd/internal/schema"
	"github.com/roach88/graphd/internal/source"
)

// DefaultBatchSize is the number of writes committed together.
const DefaultBatchSize = 500

// Core is the part of the service core the importer drives.
// *engine.Engine implements it.
type Core interface {
	BeginSession(mode graph.Mode) (string, error)
	CloseSession(id string) error
	Do(ctx context.Context, sessionID string, op graph.Operation) (*executor.Result, error)
}

// Source is a relational database to import. *source.Source implements it.
type Source interface {
	Tables(ctx context.Context) ([]source.Table, error)
	ScanTable(ctx context.Context, table string, columns []string, fn func(values []any) error) error
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(im *Importer) { im.log = l }
}

// WithBatchSize sets how many writes are committed per transaction.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batch = n
		}
	}
}

// Importer loads relational sources through a Core.
type Importer struct {
	core  Core
	log   *slog.Logger
	batch int
}

// New creates an importer.
func New(core Core, opts ...Option) *Importer {
	im := &Importer{core: core, log: logging.NewNop(), batch: DefaultBatchSize}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Skipped records a table or foreign key that was not imported.
type Skipped struct {
	Table  string `json:"table"`
	Reason string `json:"reason"`
}

// TableReport counts the nodes imported from one table.
type TableReport struct {
	Table string `json:"table"`
	Nodes int64  `json:"nodes"`
}

// EdgeReport counts the edges imported for one foreign key.
type EdgeReport struct {
	Type     string `json:"type"`
	Parent   string `json:"parent"`
	Child    string `json:"child"`
	Edges    int64  `json:"edges"`
	Dangling int64  `json:"dangling"`
}

// Report summarizes an import.
type Report struct {
	Tables  []TableReport `json:"tables"`
	Edges   []EdgeReport  `json:"edges"`
	Skipped []Skipped     `json:"skipped,omitempty"`
}

// plan is the node type derived from one source table.
type plan struct {
	table   source.Table
	pk      string
	kinds   map[string]schema.Kind
	columns []string
}

// Import loads src. It stops at the first failure; what was committed
// before stays committed and is reflected in the returned report.
func (im *Importer) Import(ctx context.Context, src Source) (Report, error) {
	var report Report

	tables, err := src.Tables(ctx)
	if err != nil {
		return report, failure.Wrap(failure.InvalidRequest, err, "read source schema")
	}

	plans := make(map[string]*plan)
	var order []*plan
	for _, t := range tables {
		p, reason := planTable(t)
		if p == nil {
			im.log.Warn("skipping table", "table", t.Name, "reason", reason)
			report.Skipped = append(report.Skipped, Skipped{Table: t.Name, Reason: reason})
			continue
		}
		plans[t.Name] = p
		order = append(order, p)
	}

	sess, err := im.core.BeginSession(graph.ModeWrite)
	if err != nil {
		return report, err
	}
	defer im.core.CloseSession(sess)
	w := &writer{im: im, ctx: ctx, session: sess}

	for _, p := range order {
		if err := w.add(defineNode(p)); err != nil {
			return report, fmt.Errorf("define %s: %w", p.table.Name, err)
		}
	}
	if err := w.flush(); err != nil {
		return report, err
	}

	for _, p := range order {
		tr, err := im.importRows(w, src, p)
		report.Tables = append(report.Tables, tr)
		if err != nil {
			return report, err
		}
		im.log.Info("imported nodes", "table", p.table.Name, "nodes", tr.Nodes)
	}

	for _, child := range order {
		for _, fk := range child.table.ForeignKeys {
			parent, ok := plans[fk.Parent]
			switch {
			case !ok:
				report.Skipped = append(report.Skipped, Skipped{
					Table:  child.table.Name,
					Reason: fmt.Sprintf("foreign key %s references unimported table %s", fk.Column, fk.Parent),
				})
				continue
			case fk.ParentColumn != parent.pk:
				report.Skipped = append(report.Skipped, Skipped{
					Table:  child.table.Name,
					Reason: fmt.Sprintf("foreign key %s references %s.%s, not its primary key", fk.Column, fk.Parent, fk.ParentColumn),
				})
				continue
			}
			er, err := im.importEdges(w, src, parent, child, fk)
			if er.Edges > 0 || er.Dangling > 0 {
				report.Edges = append(report.Edges, er)
			}
			if err != nil {
				return report, err
			}
			im.log.Info("imported edges", "type", er.Type, "edges", er.Edges, "dangling", er.Dangling)
		}
	}
	return report, nil
}

func (im *Importer) importRows(w *writer, src Source, p *plan) (TableReport, error) {
	tr := TableReport{Table: p.table.Name}
	err := src.ScanTable(w.ctx, p.table.Name, p.columns, func(values []any) error {
		props := make(graph.Props, len(values))
		for i, col := range p.columns {
			v, err := convert(p.kinds[col], values[i])
			if err != nil {
				return fmt.Errorf("%s.%s: %w", p.table.Name, col, err)
			}
			if v != nil {
				props[col] = v
			}
		}
		if err := w.add(graph.CreateNode{Type: p.table.Name, Props: props}); err != nil {
			return fmt.Errorf("import %s: %w", p.table.Name, err)
		}
		tr.Nodes++
		return nil
	})
	if err == nil {
		err = w.flush()
	}
	return tr, err
}

func (im *Importer) importEdges(w *writer, src Source, parent, child *plan, fk source.ForeignKey) (EdgeReport, error) {
	er := EdgeReport{
		Type:   EdgeTypeName(parent.table.Name, child.table.Name),
		Parent: parent.table.Name,
		Child:  child.table.Name,
	}

	type pair struct{ parent, child graph.Value }
	var pairs []pair
	err := src.ScanTable(w.ctx, child.table.Name, []string{fk.Column, child.pk}, func(values []any) error {
		pv, err := convert(parent.kinds[parent.pk], values[0])
		if err != nil || pv == nil {
			// A NULL or unconvertible reference has no parent to match.
			er.Dangling++
			return nil
		}
		cv, err := convert(child.kinds[child.pk], values[1])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", child.table.Name, child.pk, err)
		}
		pairs = append(pairs, pair{pv, cv})
		return nil
	})
	if err != nil || len(pairs) == 0 {
		return er, err
	}

	if err := w.add(graph.DefineEdgeType{Name: er.Type, From: parent.table.Name, To: child.table.Name}); err != nil {
		return er, fmt.Errorf("define %s: %w", er.Type, err)
	}
	for _, p := range pairs {
		err := w.add(graph.CreateEdge{
			Type: er.Type,
			From: graph.ByKey(parent.table.Name, p.parent),
			To:   graph.ByKey(child.table.Name, p.child),
		})
		switch {
		case failure.Is(err, failure.NotFound):
			er.Dangling++
		case err != nil:
			return er, fmt.Errorf("import %s: %w", er.Type, err)
		default:
			er.Edges++
		}
	}
	return er, w.flush()
}

// EdgeTypeName names the edge type derived from a foreign key of child
// referencing parent.
func EdgeTypeName(parent, child string) string {
	return parent + "_" + child + "_edge"
}

func planTable(t source.Table) (*plan, string) {
	pk := t.PrimaryKey()
	if len(pk) != 1 {
		return nil, fmt.Sprintf("primary key count = %d", len(pk))
	}
	p := &plan{table: t, pk: pk[0], kinds: make(map[string]schema.Kind, len(t.Columns))}
	for _, c := range t.Columns {
		p.kinds[c.Name] = InferKind(c.DeclType)
		p.columns = append(p.columns, c.Name)
	}
	if p.kinds[p.pk] == schema.KindDouble {
		return nil, fmt.Sprintf("primary key %s is a floating point column", p.pk)
	}
	return p, ""
}

func defineNode(p *plan) graph.DefineNodeType {
	op := graph.DefineNodeType{Name: p.table.Name, PrimaryKey: p.pk}
	for _, c := range p.columns {
		op.Properties = append(op.Properties, graph.PropertyDef{Name: c, Kind: string(p.kinds[c])})
	}
	return op
}

// InferKind maps a declared SQL column type to a property kind, following
// SQLite's affinity rules where they apply. PostgreSQL types whose names
// would match a numeric or timestamp rule but whose values are text stay
// strings.
func InferKind(declType string) schema.Kind {
	d := strings.ToUpper(declType)
	switch {
	case d == "INTERVAL", d == "POINT", strings.HasPrefix(d, "TIME WITH"):
		return schema.KindString
	case strings.Contains(d, "INT"):
		return schema.KindInt
	case strings.Contains(d, "BOOL"):
		return schema.KindBool
	case strings.Contains(d, "DATE"), strings.Contains(d, "TIME"):
		return schema.KindTimestamp
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"):
		return schema.KindDouble
	default:
		return schema.KindString
	}
}

// convert turns a scanned SQL value into a property value of kind. NULL
// yields nil: the property is left unset.
func convert(kind schema.Kind, v any) (graph.Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case int64:
		switch kind {
		case schema.KindBool:
			return graph.Bool(val != 0), nil
		case schema.KindString:
			return graph.String(fmt.Sprint(val)), nil
		}
	case float64:
		if kind == schema.KindString {
			return graph.String(fmt.Sprint(val)), nil
		}
	case string:
		// Exact numerics arrive as text from PostgreSQL.
		if kind == schema.KindDouble {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", val, err)
			}
			return graph.Float(f), nil
		}
	}
	gv, err := graph.FromAny(v)
	if err != nil {
		return nil, err
	}
	return schema.CoerceValue(kind, gv)
}

// Verify reads back per-type node and edge counts and checks them against
// report. It returns the counts read and an EngineError naming every type
// whose stored count is lower than what the import wrote.
func (im *Importer) Verify(ctx context.Context, report Report) ([]graph.Row, error) {
	res, err := im.core.Do(ctx, "", graph.Count{})
	if err != nil {
		return nil, err
	}
	counts, err := res.Rows.All()
	if err != nil {
		return nil, err
	}

	stored := make(map[string]int64, len(counts))
	for _, r := range counts {
		stored[r.Entity+"/"+r.Type] = r.Count
	}
	var short []string
	for _, t := range report.Tables {
		if stored["node/"+t.Table] < t.Nodes {
			short = append(short, t.Table)
		}
	}
	for _, e := range report.Edges {
		if stored["edge/"+e.Type] < e.Edges {
			short = append(short, e.Type)
		}
	}
	if len(short) > 0 {
		return counts, failure.New(failure.EngineError, "import verification failed for %s", strings.Join(short, ", "))
	}
	return counts, nil
}
