package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Registry holds the audited tables of a database.
type Registry struct {
	tables []*Table
	byName map[string]*Table
}

// NewRegistry registers tables. Parents must be registered before children.
func NewRegistry(tables ...*Table) *Registry {
	r := &Registry{byName: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		r.tables = append(r.tables, t)
		r.byName[t.Name] = t
	}
	return r
}

// Tables returns the registered tables in registration order.
func (r *Registry) Tables() []*Table {
	out := make([]*Table, len(r.tables))
	copy(out, r.tables)
	return out
}

// Lookup finds a registered table by its live name.
func (r *Registry) Lookup(name string) (*Table, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// DDL returns the history-table statements for every registered table, parents
// before children.
func (r *Registry) DDL() []string {
	tables := r.Tables()
	sort.SliceStable(tables, func(i, j int) bool {
		return len(tables[i].Chain()) < len(tables[j].Chain())
	})
	var stmts []string
	for _, t := range tables {
		stmts = append(stmts, t.DDL()...)
	}
	return stmts
}

// Ensure creates any missing history tables and columns.
func (r *Registry) Ensure(ctx context.Context, q DBTX) error {
	for _, stmt := range r.DDL() {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure audit storage: %w", err)
		}
	}
	return nil
}

// Entry is one archived revision of a row.
type Entry struct {
	Revision int
	Columns  Row
}

// History reads the archived revisions of row id, oldest first.
func History(ctx context.Context, q DBTX, t *Table, id int64) ([]Entry, error) {
	var entries []Entry
	index := make(map[int]int)
	for i, g := range t.groups() {
		cols := make([]string, 0, len(g.columns)+1)
		for _, col := range g.columns {
			cols = append(cols, quote(col.Name))
		}
		cols = append(cols, quote(RevisionColumn))
		sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY %s",
			strings.Join(cols, ", "), quote(g.table.Name+Suffix), quote(g.key), quote(RevisionColumn))

		rows, err := q.Query(ctx, sql, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s history: %w", t.Name, err)
		}
		maps, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s history: %w", t.Name, err)
		}

		for _, m := range maps {
			revision := int(normalize(m[RevisionColumn]).(int64))
			delete(m, RevisionColumn)
			if i == 0 {
				index[revision] = len(entries)
				entries = append(entries, Entry{Revision: revision, Columns: normalizeRow(m)})
				continue
			}
			pos, ok := index[revision]
			if !ok {
				continue
			}
			for k, v := range normalizeRow(m) {
				entries[pos].Columns[k] = v
			}
		}
	}
	return entries, nil
}

func normalizeRow(m map[string]any) Row {
	row := make(Row, len(m))
	for k, v := range m {
		row[k] = normalize(v)
	}
	return row
}

// normalize maps driver values onto the types used in live-row snapshots.
func normalize(v any) any {
	switch value := v.(type) {
	case int16:
		return int64(value)
	case int32:
		return int64(value)
	case pgtype.Numeric:
		if !value.Valid {
			return nil
		}
		dv, err := value.Value()
		if err != nil {
			return nil
		}
		s, ok := dv.(string)
		if !ok {
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return s
		}
		return d
	default:
		return v
	}
}
