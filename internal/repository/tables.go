package repository

import (
	"time"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/domain"
)

var timelineColumns = []audit.Column{
	{Name: "create_date", Type: "TIMESTAMPTZ"},
	{Name: "create_user_id", Type: "INTEGER"},
	{Name: "modify_date", Type: "TIMESTAMPTZ"},
	{Name: "modify_user_id", Type: "INTEGER"},
}

var removableColumns = append(append([]audit.Column(nil), timelineColumns...),
	audit.Column{Name: "remove_date", Type: "TIMESTAMPTZ"},
	audit.Column{Name: "remove_user_id", Type: "INTEGER"},
)

func columns(own []audit.Column, timeline []audit.Column) []audit.Column {
	out := make([]audit.Column, 0, len(own)+len(timeline))
	out = append(out, own...)
	return append(out, timeline...)
}

// SchemaTable describes the audited schema table.
var SchemaTable = &audit.Table{
	Name: "schema",
	Columns: columns([]audit.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "name", Type: "VARCHAR(100)"},
		{Name: "title", Type: "VARCHAR(255)"},
		{Name: "description", Type: "TEXT"},
		{Name: "storage", Type: "schema_storage"},
		{Name: "publish_date", Type: "DATE"},
		{Name: "retract_date", Type: "DATE"},
		{Name: "base_schema_id", Type: "INTEGER"},
		{Name: "is_association", Type: "BOOLEAN"},
	}, timelineColumns),
}

// AttributeTable describes the audited attribute table.
var AttributeTable = &audit.Table{
	Name: "attribute",
	Columns: columns([]audit.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "schema_id", Type: "INTEGER"},
		{Name: "name", Type: "VARCHAR(100)"},
		{Name: "title", Type: "VARCHAR(255)"},
		{Name: "description", Type: "TEXT"},
		{Name: "type", Type: "attribute_type"},
		{Name: "object_schema_id", Type: "INTEGER"},
		{Name: "is_collection", Type: "BOOLEAN"},
		{Name: "is_required", Type: "BOOLEAN"},
		{Name: "is_private", Type: "BOOLEAN"},
		{Name: "value_min", Type: "BIGINT"},
		{Name: "value_max", Type: "BIGINT"},
		{Name: "collection_min", Type: "BIGINT"},
		{Name: "collection_max", Type: "BIGINT"},
		{Name: "validator", Type: "VARCHAR(255)"},
		{Name: "order", Type: "INTEGER"},
		{Name: "checksum", Type: "VARCHAR(32)"},
	}, timelineColumns),
}

// ChoiceTable describes the audited choice table.
var ChoiceTable = &audit.Table{
	Name: "choice",
	Columns: columns([]audit.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "attribute_id", Type: "INTEGER"},
		{Name: "name", Type: "VARCHAR(100)"},
		{Name: "title", Type: "VARCHAR(255)"},
		{Name: "order", Type: "INTEGER"},
	}, timelineColumns),
}

// EntityTable describes the audited entity table.
var EntityTable = &audit.Table{
	Name: "entity",
	Columns: columns([]audit.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "schema_id", Type: "INTEGER"},
		{Name: "name", Type: "VARCHAR(100)"},
		{Name: "title", Type: "VARCHAR(255)"},
		{Name: "description", Type: "TEXT"},
		{Name: "state", Type: "VARCHAR(32)"},
		{Name: "collect_date", Type: "DATE"},
	}, removableColumns),
}

var valueColumnTypes = map[domain.ValueKind]string{
	domain.ValueKindInteger:  "BIGINT",
	domain.ValueKindDecimal:  "NUMERIC",
	domain.ValueKindString:   "VARCHAR(255)",
	domain.ValueKindText:     "TEXT",
	domain.ValueKindDatetime: "TIMESTAMPTZ",
	domain.ValueKindBlob:     "BYTEA",
	domain.ValueKindChoice:   "INTEGER",
	domain.ValueKindObject:   "INTEGER",
}

// ValueTables maps every value kind to its audited table.
var ValueTables = func() map[domain.ValueKind]*audit.Table {
	tables := make(map[domain.ValueKind]*audit.Table, len(domain.ValueKinds))
	for _, kind := range domain.ValueKinds {
		tables[kind] = &audit.Table{
			Name: kind.TableName(),
			Columns: columns([]audit.Column{
				{Name: "id", Type: "INTEGER"},
				{Name: "entity_id", Type: "INTEGER"},
				{Name: "attribute_id", Type: "INTEGER"},
				{Name: "choice_id", Type: "INTEGER"},
				{Name: "value", Type: valueColumnTypes[kind]},
			}, removableColumns),
		}
	}
	return tables
}()

// NewAuditRegistry registers every audited table of the datastore.
func NewAuditRegistry() *audit.Registry {
	tables := []*audit.Table{SchemaTable, AttributeTable, ChoiceTable, EntityTable}
	for _, kind := range domain.ValueKinds {
		tables = append(tables, ValueTables[kind])
	}
	return audit.NewRegistry(tables...)
}

func timelineRow(row audit.Row, t domain.Timeline, removable bool) audit.Row {
	row["create_date"] = t.CreateDate
	row["create_user_id"] = t.CreateUserID
	row["modify_date"] = t.ModifyDate
	row["modify_user_id"] = t.ModifyUserID
	if removable {
		row["remove_date"] = audit.Nullable(t.RemoveDate)
		row["remove_user_id"] = audit.Nullable(t.RemoveUserID)
	}
	return row
}

func schemaRow(s domain.Schema) audit.Row {
	return timelineRow(audit.Row{
		"id":             s.ID,
		"name":           s.Name,
		"title":          s.Title,
		"description":    s.Description,
		"storage":        string(s.Storage),
		"publish_date":   dateValue(s.PublishDate),
		"retract_date":   dateValue(s.RetractDate),
		"base_schema_id": audit.Nullable(s.BaseSchemaID),
		"is_association": s.IsAssociation,
	}, s.Timeline, false)
}

func attributeRow(a domain.Attribute) audit.Row {
	return timelineRow(audit.Row{
		"id":               a.ID,
		"schema_id":        a.SchemaID,
		"name":             a.Name,
		"title":            a.Title,
		"description":      a.Description,
		"type":             string(a.Type),
		"object_schema_id": audit.Nullable(a.ObjectSchemaID),
		"is_collection":    a.IsCollection,
		"is_required":      a.IsRequired,
		"is_private":       a.IsPrivate,
		"value_min":        audit.Nullable(a.ValueMin),
		"value_max":        audit.Nullable(a.ValueMax),
		"collection_min":   audit.Nullable(a.CollectionMin),
		"collection_max":   audit.Nullable(a.CollectionMax),
		"validator":        a.Validator,
		"order":            int64(a.Order),
		"checksum":         a.Checksum,
	}, a.Timeline, false)
}

func choiceRow(c domain.Choice) audit.Row {
	return timelineRow(audit.Row{
		"id":           c.ID,
		"attribute_id": c.AttributeID,
		"name":         c.Name,
		"title":        c.Title,
		"order":        int64(c.Order),
	}, c.Timeline, false)
}

func entityRow(e domain.Entity) audit.Row {
	return timelineRow(audit.Row{
		"id":           e.ID,
		"schema_id":    e.SchemaID,
		"name":         e.Name,
		"title":        e.Title,
		"description":  e.Description,
		"state":        string(e.State),
		"collect_date": dateValue(&e.CollectDate),
	}, e.Timeline, true)
}

func valueRow(v domain.ValueRow) audit.Row {
	return timelineRow(audit.Row{
		"id":           v.ID,
		"entity_id":    v.EntityID,
		"attribute_id": v.AttributeID,
		"choice_id":    audit.Nullable(v.ChoiceID),
		"value":        v.Payload,
	}, v.Timeline, true)
}

// dateValue truncates a DATE column to midnight UTC so loaded and in-memory
// values compare equal.
func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
