package audit

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// RevisionColumn is the per-row change counter on live tables and the second
// half of the (id, revision) key on history tables.
const RevisionColumn = "revision"

// Suffix is appended to a physical table name to name its history table.
const Suffix = "_audit"

// Inheritance describes how a table relates to its parent.
type Inheritance int

const (
	// InheritNone marks a root table.
	InheritNone Inheritance = iota
	// InheritSingle adds columns to the parent's physical table.
	InheritSingle
	// InheritJoined stores its columns in its own table keyed by ParentRef.
	InheritJoined
)

// Column is one mapped column of an audited table.
type Column struct {
	Name string
	Type string
}

// Table describes an audited live table. The column list is the single source of
// truth for both the live row snapshot and the generated history table.
type Table struct {
	Name        string
	Columns     []Column
	Parent      *Table
	Inheritance Inheritance
	// ParentRef names the column of a joined table that references the parent key.
	ParentRef string
}

// group is one physical table touched when auditing a row of the chain.
type group struct {
	table   *Table
	key     string
	keyType string
	columns []Column
}

// Chain returns the inheritance chain from the root down to t.
func (t *Table) Chain() []*Table {
	var chain []*Table
	for cur := t; cur != nil; cur = cur.Parent {
		chain = append([]*Table{cur}, chain...)
	}
	return chain
}

// Root returns the top of the inheritance chain.
func (t *Table) Root() *Table {
	cur := t
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// Physical returns the table that physically stores t's columns.
func (t *Table) Physical() *Table {
	cur := t
	for cur.Inheritance == InheritSingle && cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// AuditName returns the name of the history table holding t's columns.
func (t *Table) AuditName() string {
	return t.Physical().Name + Suffix
}

// KeyColumn returns the key column of t's physical table.
func (t *Table) KeyColumn() string {
	phys := t.Physical()
	if phys.Inheritance == InheritJoined {
		return phys.ParentRef
	}
	return "id"
}

// ColumnNames lists every audited column of the chain, root first. Joined
// reference columns are folded into the root id.
func (t *Table) ColumnNames() []string {
	var names []string
	for _, g := range t.groups() {
		for _, col := range g.columns {
			names = append(names, col.Name)
		}
	}
	return names
}

func (t *Table) ownColumns() []Column {
	if t.Inheritance != InheritJoined {
		return t.Columns
	}
	cols := make([]Column, 0, len(t.Columns))
	for _, col := range t.Columns {
		if col.Name != t.ParentRef {
			cols = append(cols, col)
		}
	}
	return cols
}

func (t *Table) keyType() string {
	if t.Inheritance == InheritJoined {
		for _, col := range t.Columns {
			if col.Name == t.ParentRef {
				return col.Type
			}
		}
	}
	for _, col := range t.Root().Columns {
		if col.Name == "id" {
			return col.Type
		}
	}
	return "INTEGER"
}

func (t *Table) groups() []group {
	var groups []group
	for _, table := range t.Chain() {
		switch {
		case table.Parent == nil:
			groups = append(groups, group{table: table, key: "id", keyType: table.keyType(), columns: append([]Column(nil), table.Columns...)})
		case table.Inheritance == InheritSingle:
			last := &groups[len(groups)-1]
			last.columns = append(last.columns, table.Columns...)
		default:
			groups = append(groups, group{table: table, key: table.ParentRef, keyType: table.keyType(), columns: table.ownColumns()})
		}
	}
	return groups
}

// DDL returns the statements creating t's history storage. Root and joined
// tables get their own history table; single-table subclasses add their columns
// to the parent's history table.
func (t *Table) DDL() []string {
	audit := quote(t.AuditName())
	switch {
	case t.Parent != nil && t.Inheritance == InheritSingle:
		stmts := make([]string, 0, len(t.Columns))
		for _, col := range t.Columns {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", audit, quote(col.Name), col.Type))
		}
		return stmts
	case t.Parent != nil && t.Inheritance == InheritJoined:
		parent := t.Parent.Physical()
		defs := []string{fmt.Sprintf("%s %s NOT NULL", quote(t.ParentRef), t.keyType())}
		for _, col := range t.ownColumns() {
			defs = append(defs, fmt.Sprintf("%s %s", quote(col.Name), col.Type))
		}
		defs = append(defs,
			fmt.Sprintf("%s INTEGER NOT NULL", quote(RevisionColumn)),
			fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s, %s)", quote("pk_"+t.Name+Suffix), quote(t.ParentRef), quote(RevisionColumn)),
			fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s, %s) REFERENCES %s (%s, %s) ON DELETE CASCADE",
				quote("fk_"+t.Name+Suffix+"_"+t.ParentRef), quote(t.ParentRef), quote(RevisionColumn),
				quote(parent.Name+Suffix), quote(parent.KeyColumn()), quote(RevisionColumn)),
		)
		return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", audit, strings.Join(defs, ",\n\t"))}
	default:
		defs := make([]string, 0, len(t.Columns)+2)
		for _, col := range t.Columns {
			if col.Name == "id" {
				defs = append(defs, fmt.Sprintf("%s %s NOT NULL", quote(col.Name), col.Type))
				continue
			}
			defs = append(defs, fmt.Sprintf("%s %s", quote(col.Name), col.Type))
		}
		defs = append(defs,
			fmt.Sprintf("%s INTEGER NOT NULL", quote(RevisionColumn)),
			fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s, %s)", quote("pk_"+t.Name+Suffix), quote("id"), quote(RevisionColumn)),
		)
		return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", audit, strings.Join(defs, ",\n\t"))}
	}
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
