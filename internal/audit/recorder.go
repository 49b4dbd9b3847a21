package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx shared by pools, connections and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Observer is notified after a history row is written.
type Observer func(table string)

// Recorder writes audited updates and deletes together with their history rows.
// It runs inside the caller's transaction; any failure must abort it.
type Recorder struct {
	logger   *slog.Logger
	observer Observer
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver registers a callback invoked for every history row written.
func WithObserver(observer Observer) Option {
	return func(r *Recorder) {
		r.observer = observer
	}
}

// NewRecorder creates a recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type statement struct {
	sql  string
	args []any
}

// Update persists after over before. When no audited column changed it returns
// false without touching the database. Otherwise the live row's revision is
// incremented and the pre-change snapshot is archived under the revision it
// closes, which is returned.
func (r *Recorder) Update(ctx context.Context, q DBTX, t *Table, before, after Row) (bool, int, error) {
	snapshot, changed := Capture(t, before, after)
	if len(changed) == 0 {
		return false, 0, nil
	}

	id := before.ID()
	stmts := updateStatements(t, changed, after, id)

	var revision int
	if err := q.QueryRow(ctx, stmts[0].sql, stmts[0].args...).Scan(&revision); err != nil {
		return false, 0, fmt.Errorf("failed to update %s %d: %w", t.Name, id, err)
	}
	for _, stmt := range stmts[1:] {
		if _, err := q.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			return false, 0, fmt.Errorf("failed to update %s %d: %w", t.Name, id, err)
		}
	}

	closed := revision - 1
	if err := r.archive(ctx, q, t, id, snapshot, closed); err != nil {
		return false, 0, err
	}
	r.logger.Debug("audited update",
		slog.String("table", t.Name),
		slog.Int64("id", id),
		slog.Int("revision", closed),
		slog.Any("columns", changed),
	)
	return true, closed, nil
}

// Delete removes the live row and archives its final state.
func (r *Recorder) Delete(ctx context.Context, q DBTX, t *Table, row Row) (int, error) {
	snapshot, _ := Capture(t, row, row)
	id := row.ID()

	stmt := deleteStatement(t, id)
	var revision int
	if err := q.QueryRow(ctx, stmt.sql, stmt.args...).Scan(&revision); err != nil {
		return 0, fmt.Errorf("failed to delete %s %d: %w", t.Name, id, err)
	}
	if err := r.archive(ctx, q, t, id, snapshot, revision); err != nil {
		return 0, err
	}
	r.logger.Debug("audited delete",
		slog.String("table", t.Name),
		slog.Int64("id", id),
		slog.Int("revision", revision),
	)
	return revision, nil
}

func (r *Recorder) archive(ctx context.Context, q DBTX, t *Table, id int64, snapshot Row, revision int) error {
	for _, stmt := range archiveStatements(t, id, snapshot, revision) {
		if _, err := q.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			return fmt.Errorf("failed to archive %s %d revision %d: %w", t.Name, id, revision, err)
		}
	}
	if r.observer != nil {
		r.observer(t.Physical().Name)
	}
	return nil
}

// updateStatements builds the live-table updates for the changed columns. The
// first statement always targets the root table and returns the new revision.
func updateStatements(t *Table, changed []string, after Row, id int64) []statement {
	dirty := make(map[string]bool, len(changed))
	for _, name := range changed {
		dirty[name] = true
	}

	var stmts []statement
	for i, g := range t.groups() {
		var sets []string
		var args []any
		for _, col := range g.columns {
			if !dirty[col.Name] {
				continue
			}
			args = append(args, after[col.Name])
			sets = append(sets, fmt.Sprintf("%s = $%d", quote(col.Name), len(args)))
		}
		if i == 0 {
			sets = append(sets, fmt.Sprintf("%s = %s + 1", quote(RevisionColumn), quote(RevisionColumn)))
			args = append(args, id)
			stmts = append(stmts, statement{
				sql: fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
					quote(g.table.Name), strings.Join(sets, ", "), quote(g.key), len(args), quote(RevisionColumn)),
				args: args,
			})
			continue
		}
		if len(sets) == 0 {
			continue
		}
		args = append(args, id)
		stmts = append(stmts, statement{
			sql: fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
				quote(g.table.Name), strings.Join(sets, ", "), quote(g.key), len(args)),
			args: args,
		})
	}
	return stmts
}

// deleteStatement removes the root row; joined rows follow through their
// cascading foreign keys.
func deleteStatement(t *Table, id int64) statement {
	root := t.Root()
	return statement{
		sql:  fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING %s", quote(root.Name), quote("id"), quote(RevisionColumn)),
		args: []any{id},
	}
}

// archiveStatements inserts the snapshot into every history table of the chain,
// root first so joined history rows can reference it.
func archiveStatements(t *Table, id int64, snapshot Row, revision int) []statement {
	groups := t.groups()
	stmts := make([]statement, 0, len(groups))
	for i, g := range groups {
		cols := make([]string, 0, len(g.columns)+2)
		args := make([]any, 0, len(g.columns)+2)
		if i > 0 {
			cols = append(cols, quote(g.key))
			args = append(args, id)
		}
		for _, col := range g.columns {
			cols = append(cols, quote(col.Name))
			if i == 0 && col.Name == "id" {
				args = append(args, id)
				continue
			}
			args = append(args, snapshot[col.Name])
		}
		cols = append(cols, quote(RevisionColumn))
		args = append(args, revision)

		placeholders := make([]string, len(args))
		for j := range args {
			placeholders[j] = fmt.Sprintf("$%d", j+1)
		}
		stmts = append(stmts, statement{
			sql: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(g.table.Name+Suffix), strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
			args: args,
		})
	}
	return stmts
}
