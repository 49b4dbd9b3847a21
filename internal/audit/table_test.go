package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTables() (*Table, *Table, *Table) {
	base := &Table{
		Name: "item",
		Columns: []Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "VARCHAR(100)"},
			{Name: "order", Type: "INTEGER"},
		},
	}
	single := &Table{
		Name:        "special_item",
		Parent:      base,
		Inheritance: InheritSingle,
		Columns:     []Column{{Name: "flavor", Type: "TEXT"}},
	}
	joined := &Table{
		Name:        "boxed_item",
		Parent:      base,
		Inheritance: InheritJoined,
		ParentRef:   "item_id",
		Columns: []Column{
			{Name: "item_id", Type: "INTEGER"},
			{Name: "width", Type: "NUMERIC"},
		},
	}
	return base, single, joined
}

func TestTable_RootDDL(t *testing.T) {
	base, _, _ := testTables()

	stmts := base.DDL()
	require.Len(t, stmts, 1)
	ddl := stmts[0]

	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "item_audit"`)
	assert.Contains(t, ddl, `"id" INTEGER NOT NULL`)
	assert.Contains(t, ddl, `"order" INTEGER`)
	assert.Contains(t, ddl, `"revision" INTEGER NOT NULL`)
	assert.Contains(t, ddl, `CONSTRAINT "pk_item_audit" PRIMARY KEY ("id", "revision")`)
	assert.NotContains(t, ddl, "FOREIGN KEY")
}

func TestTable_SingleInheritanceExtendsParentAudit(t *testing.T) {
	_, single, _ := testTables()

	assert.Equal(t, "item_audit", single.AuditName())
	assert.Equal(t, []string{
		`ALTER TABLE "item_audit" ADD COLUMN IF NOT EXISTS "flavor" TEXT`,
	}, single.DDL())
	assert.Equal(t, []string{"id", "name", "order", "flavor"}, single.ColumnNames())
}

func TestTable_JoinedInheritanceReferencesParentAudit(t *testing.T) {
	_, _, joined := testTables()

	assert.Equal(t, "boxed_item_audit", joined.AuditName())
	assert.Equal(t, "item_id", joined.KeyColumn())

	stmts := joined.DDL()
	require.Len(t, stmts, 1)
	ddl := stmts[0]
	assert.Contains(t, ddl, `"item_id" INTEGER NOT NULL`)
	assert.Contains(t, ddl, `PRIMARY KEY ("item_id", "revision")`)
	assert.Contains(t, ddl, `FOREIGN KEY ("item_id", "revision") REFERENCES "item_audit" ("id", "revision") ON DELETE CASCADE`)
	assert.Equal(t, 3, strings.Count(ddl, `"item_id"`), "declared once, used by both key constraints")

	assert.Equal(t, []string{"id", "name", "order", "width"}, joined.ColumnNames())
}

func TestRegistry_DDLOrdersParentsFirst(t *testing.T) {
	base, single, joined := testTables()
	registry := NewRegistry(joined, single, base)

	stmts := registry.DDL()
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], `"item_audit"`)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE"))

	found, ok := registry.Lookup("boxed_item")
	require.True(t, ok)
	assert.Same(t, joined, found)
}
