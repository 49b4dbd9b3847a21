package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/domain"
)

const schemaSelect = `SELECT id, name, title, COALESCE(description, ''), storage::text, publish_date, retract_date,
	base_schema_id, is_association, create_date, create_user_id, modify_date, modify_user_id, revision
FROM schema`

// schemaRepository implements SchemaRepository interface
type schemaRepository struct {
	q          DBTX
	recorder   *audit.Recorder
	attributes AttributeRepository
	entities   EntityRepository
	values     ValueRepository
}

// NewSchemaRepository creates a new schema repository. Deletes cascade through
// the entity, value and attribute repositories so every removed row is audited.
func NewSchemaRepository(q DBTX, recorder *audit.Recorder, attributes AttributeRepository, entities EntityRepository, values ValueRepository) SchemaRepository {
	return &schemaRepository{
		q:          q,
		recorder:   recorder,
		attributes: attributes,
		entities:   entities,
		values:     values,
	}
}

func (r *schemaRepository) Create(ctx context.Context, schema domain.Schema, stamp Stamp) (domain.Schema, error) {
	if err := schema.Validate(); err != nil {
		return domain.Schema{}, err
	}
	schema.Timeline = domain.NewTimeline(stamp.Now, stamp.UserID)

	err := r.q.QueryRow(ctx, `INSERT INTO schema (
		name, title, description, storage, publish_date, retract_date, base_schema_id, is_association,
		create_date, create_user_id, modify_date, modify_user_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING id, revision`,
		schema.Name, schema.Title, schema.Description, string(schema.Storage),
		dateValue(schema.PublishDate), dateValue(schema.RetractDate), schema.BaseSchemaID, schema.IsAssociation,
		schema.CreateDate, schema.CreateUserID, schema.ModifyDate, schema.ModifyUserID,
	).Scan(&schema.ID, &schema.Revision)
	if err != nil {
		return domain.Schema{}, fmt.Errorf("failed to create schema: %w", TranslateError(err))
	}

	attrs := schema.Attributes
	schema.Attributes = nil
	for _, attr := range attrs {
		attr.SchemaID = schema.ID
		created, err := r.attributes.Create(ctx, schema.Name, attr, stamp)
		if err != nil {
			return domain.Schema{}, err
		}
		schema.Attributes = append(schema.Attributes, created)
	}
	return schema, nil
}

// GetByID retrieves a schema version with its attributes; nil when absent.
func (r *schemaRepository) GetByID(ctx context.Context, id int64) (*domain.Schema, error) {
	schema, err := scanSchema(r.q.QueryRow(ctx, schemaSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	if err := r.loadAttributes(ctx, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// GetByName resolves the version of name published on the given date, or the
// latest published version when on is nil. Returns nil when nothing matches.
func (r *schemaRepository) GetByName(ctx context.Context, name string, on *time.Time) (*domain.Schema, error) {
	query := schemaSelect + " WHERE name = $1 AND publish_date IS NOT NULL"
	args := []any{name}
	if on != nil {
		args = append(args, dateValue(on))
		query += " AND publish_date <= $2 AND (retract_date IS NULL OR $2 < retract_date)"
	}
	query += " ORDER BY publish_date DESC, id DESC LIMIT 1"

	schema, err := scanSchema(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema by name: %w", err)
	}
	if err := r.loadAttributes(ctx, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// ListVersions returns every version of a schema, drafts last.
func (r *schemaRepository) ListVersions(ctx context.Context, name string) ([]domain.Schema, error) {
	rows, err := r.q.Query(ctx, schemaSelect+" WHERE name = $1 ORDER BY publish_date ASC NULLS LAST, id ASC", name)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	schemas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Schema, error) {
		return scanSchema(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list schema versions: %w", err)
	}
	for i := range schemas {
		if err := r.loadAttributes(ctx, &schemas[i]); err != nil {
			return nil, err
		}
	}
	return schemas, nil
}

// Update writes the schema row through the audit recorder. Attributes are not
// touched.
func (r *schemaRepository) Update(ctx context.Context, before, after domain.Schema) (domain.Schema, error) {
	if err := after.Validate(); err != nil {
		return domain.Schema{}, err
	}
	changed, closed, err := r.recorder.Update(ctx, r.q, SchemaTable, schemaRow(before), schemaRow(after))
	if err != nil {
		return domain.Schema{}, fmt.Errorf("failed to update schema: %w", TranslateError(err))
	}
	if changed {
		after.Revision = closed + 1
	} else {
		after = before
	}
	return after, nil
}

// Delete removes a schema version and everything it owns: its entities with
// their values, values elsewhere pointing at those entities, its attributes and
// their choices. Every row is archived before it goes.
func (r *schemaRepository) Delete(ctx context.Context, schema domain.Schema) error {
	var referenced bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM attribute WHERE object_schema_id = $1 AND schema_id <> $1)`,
		schema.ID,
	).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("failed to check schema references: %w", err)
	}
	if referenced {
		return domain.NewValidationError("schema", "%s is referenced by object attributes of other schemas", schema.Name)
	}

	entities, err := r.entities.ListBySchemaID(ctx, schema.ID)
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if err := deleteEntityCascade(ctx, r.values, r.entities, entity); err != nil {
			return err
		}
	}

	attrs, err := r.attributes.ListBySchema(ctx, schema.ID)
	if err != nil {
		return err
	}
	for _, attr := range attrs {
		values, err := r.values.ListByAttribute(ctx, attr)
		if err != nil {
			return err
		}
		for _, value := range values {
			if err := r.values.Delete(ctx, value); err != nil {
				return err
			}
		}
		if err := r.attributes.Delete(ctx, attr); err != nil {
			return err
		}
	}

	derived, err := r.listDerived(ctx, schema.ID)
	if err != nil {
		return err
	}
	for _, child := range derived {
		after := child
		after.BaseSchemaID = nil
		if _, err := r.Update(ctx, child, after); err != nil {
			return err
		}
	}

	if _, err := r.recorder.Delete(ctx, r.q, SchemaTable, schemaRow(schema)); err != nil {
		return fmt.Errorf("failed to delete schema: %w", TranslateError(err))
	}
	return nil
}

func (r *schemaRepository) listDerived(ctx context.Context, baseID int64) ([]domain.Schema, error) {
	rows, err := r.q.Query(ctx, schemaSelect+" WHERE base_schema_id = $1 AND id <> $1", baseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list derived schemas: %w", err)
	}
	schemas, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Schema, error) {
		return scanSchema(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list derived schemas: %w", err)
	}
	return schemas, nil
}

// loadAttributes attaches the schema's attributes and verifies every stored
// checksum against its definition.
func (r *schemaRepository) loadAttributes(ctx context.Context, schema *domain.Schema) error {
	attrs, err := r.attributes.ListBySchema(ctx, schema.ID)
	if err != nil {
		return err
	}
	for _, attr := range attrs {
		if err := attr.VerifyChecksum(schema.Name); err != nil {
			return fmt.Errorf("failed to load schema %s: %w", schema.Name, err)
		}
	}
	schema.Attributes = attrs
	return nil
}

func scanSchema(row pgx.Row) (domain.Schema, error) {
	var s domain.Schema
	var storage string
	err := row.Scan(
		&s.ID, &s.Name, &s.Title, &s.Description, &storage, &s.PublishDate, &s.RetractDate,
		&s.BaseSchemaID, &s.IsAssociation, &s.CreateDate, &s.CreateUserID, &s.ModifyDate, &s.ModifyUserID, &s.Revision,
	)
	if err != nil {
		return domain.Schema{}, err
	}
	s.Storage = domain.StorageKind(storage)
	return s, nil
}

// deleteEntityCascade archives and removes an entity, its own values and any
// value rows of other entities that point at it.
func deleteEntityCascade(ctx context.Context, values ValueRepository, entities EntityRepository, entity domain.Entity) error {
	owned, err := values.ListByEntity(ctx, entity.ID)
	if err != nil {
		return err
	}
	refs, err := values.ListReferencing(ctx, entity.ID, false)
	if err != nil {
		return err
	}
	for _, value := range append(owned, refs...) {
		if err := values.Delete(ctx, value); err != nil {
			return err
		}
	}
	return entities.Delete(ctx, entity)
}
