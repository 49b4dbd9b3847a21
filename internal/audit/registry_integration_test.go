package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inheritanceTables mirrors testTables on live tables that exist only inside
// the test transaction.
func inheritanceTables(suffix string) (base, single, joined *Table, live []string) {
	item := "item_" + suffix
	boxed := "boxed_item_" + suffix
	base = &Table{
		Name: item,
		Columns: []Column{
			{Name: "id", Type: "BIGINT"},
			{Name: "name", Type: "VARCHAR(100)"},
			{Name: "order", Type: "INTEGER"},
		},
	}
	single = &Table{
		Name:        "special_" + item,
		Parent:      base,
		Inheritance: InheritSingle,
		Columns:     []Column{{Name: "flavor", Type: "TEXT"}},
	}
	joined = &Table{
		Name:        boxed,
		Parent:      base,
		Inheritance: InheritJoined,
		ParentRef:   "item_id",
		Columns: []Column{
			{Name: "item_id", Type: "BIGINT"},
			{Name: "width", Type: "INTEGER"},
		},
	}
	live = []string{
		fmt.Sprintf(`CREATE TABLE %s (id BIGSERIAL PRIMARY KEY, name VARCHAR(100), "order" INTEGER, flavor TEXT, revision INTEGER NOT NULL DEFAULT 1)`, quote(item)),
		fmt.Sprintf(`CREATE TABLE %s (item_id BIGINT PRIMARY KEY REFERENCES %s (id) ON DELETE CASCADE, width INTEGER)`, quote(boxed), quote(item)),
	}
	return base, single, joined, live
}

func TestRegistry_InheritanceAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("DATASTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("DATASTORE_TEST_DSN not set")
	}
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(ctx) })

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(ctx) })

	base, single, joined, live := inheritanceTables(fmt.Sprintf("%d", time.Now().UnixNano()))
	for _, stmt := range live {
		_, err := tx.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	registry := NewRegistry(joined, single, base)
	require.NoError(t, registry.Ensure(ctx, tx))
	require.NoError(t, registry.Ensure(ctx, tx), "ensure is repeatable")

	var flavorColumns int
	require.NoError(t, tx.QueryRow(ctx,
		`SELECT count(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = 'flavor'`,
		base.AuditName()).Scan(&flavorColumns))
	assert.Equal(t, 1, flavorColumns, "single inheritance widens the parent history table")

	var id int64
	require.NoError(t, tx.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, "order", flavor) VALUES ('alpha', 0, 'lime') RETURNING id`, quote(base.Name))).Scan(&id))
	_, err = tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (item_id, width) VALUES ($1, 2)`, quote(joined.Name)), id)
	require.NoError(t, err)

	recorder := NewRecorder()

	boxedBefore := Row{"id": id, "name": "alpha", "order": int32(0), "width": int32(2)}
	boxedAfter := boxedBefore.Clone()
	boxedAfter["width"] = int32(3)
	changed, revision, err := recorder.Update(ctx, tx, joined, boxedBefore, boxedAfter)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, revision)

	specialBefore := Row{"id": id, "name": "alpha", "order": int32(0), "flavor": "lime"}
	specialAfter := specialBefore.Clone()
	specialAfter["flavor"] = "mint"
	_, revision, err = recorder.Update(ctx, tx, single, specialBefore, specialAfter)
	require.NoError(t, err)
	assert.Equal(t, 2, revision)

	revision, err = recorder.Delete(ctx, tx, joined, boxedAfter)
	require.NoError(t, err)
	assert.Equal(t, 3, revision)

	var liveBoxes int
	require.NoError(t, tx.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, quote(joined.Name))).Scan(&liveBoxes))
	assert.Zero(t, liveBoxes, "joined rows follow the root delete")

	special, err := History(ctx, tx, single, id)
	require.NoError(t, err)
	require.Len(t, special, 3)
	assert.Equal(t, "lime", special[1].Columns["flavor"])

	boxes, err := History(ctx, tx, joined, id)
	require.NoError(t, err)
	require.Len(t, boxes, 3)
	assert.Contains(t, boxes[0].Columns, "width")
	assert.NotContains(t, boxes[1].Columns, "width", "revision 2 only touched the parent")
	assert.Contains(t, boxes[2].Columns, "width")

	// A joined history row must reference an archived parent revision.
	savepoint, err := tx.Begin(ctx)
	require.NoError(t, err)
	_, err = savepoint.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (item_id, width, revision) VALUES ($1, 1, 99)`, quote(joined.AuditName())), id)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, "23503", pgErr.Code)
	require.NoError(t, savepoint.Rollback(ctx))
}
