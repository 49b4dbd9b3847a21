package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/domain"
)

const entityColumns = `e.id, e.schema_id, e.name, e.title, COALESCE(e.description, ''), e.state, e.collect_date,
	e.create_date, e.create_user_id, e.modify_date, e.modify_user_id, e.remove_date, e.remove_user_id, e.revision`

// entityRepository implements EntityRepository interface
type entityRepository struct {
	q        DBTX
	recorder *audit.Recorder
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(q DBTX, recorder *audit.Recorder) EntityRepository {
	return &entityRepository{q: q, recorder: recorder}
}

// Create inserts a live entity. The id is drawn from the sequence first so an
// unnamed entity can be given its generated slug in the same insert.
func (r *entityRepository) Create(ctx context.Context, entity domain.Entity, schemaName string, stamp Stamp) (domain.Entity, error) {
	entity.Timeline = domain.NewTimeline(stamp.Now, stamp.UserID)
	if entity.CollectDate.IsZero() {
		entity.CollectDate = stamp.Now
	}
	if entity.State == "" {
		entity.State = domain.EntityStatePendingEntry
	}

	if err := r.q.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('entity', 'id'))`).Scan(&entity.ID); err != nil {
		return domain.Entity{}, fmt.Errorf("failed to allocate entity id: %w", err)
	}
	if entity.Name == "" {
		entity.Name = domain.EntitySlug(schemaName, entity.ID)
	}
	if err := entity.Validate(); err != nil {
		return domain.Entity{}, err
	}

	err := r.q.QueryRow(ctx, `INSERT INTO entity (
		id, schema_id, name, title, description, state, collect_date,
		create_date, create_user_id, modify_date, modify_user_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING collect_date, revision`,
		entity.ID, entity.SchemaID, entity.Name, entity.Title, entity.Description, string(entity.State),
		dateValue(&entity.CollectDate), entity.CreateDate, entity.CreateUserID, entity.ModifyDate, entity.ModifyUserID,
	).Scan(&entity.CollectDate, &entity.Revision)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to create entity: %w", TranslateError(err))
	}
	return entity, nil
}

// GetByID retrieves an entity row regardless of its validity; nil when absent.
func (r *entityRepository) GetByID(ctx context.Context, id int64) (*domain.Entity, error) {
	entity, err := scanEntity(r.q.QueryRow(ctx, "SELECT "+entityColumns+" FROM entity e WHERE e.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &entity, nil
}

// GetByIDs retrieves the entities among ids visible under asOf.
func (r *entityRepository) GetByIDs(ctx context.Context, ids []int64, asOf domain.AsOf) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{ids}
	query := "SELECT " + entityColumns + " FROM entity e WHERE e.id = ANY($1) AND " + asOfClause("e", asOf, &args)
	return r.list(ctx, "failed to get entities by ids", query, args...)
}

// GetByName returns the most recently created row of name visible under asOf.
func (r *entityRepository) GetByName(ctx context.Context, name string, asOf domain.AsOf) (*domain.Entity, error) {
	args := []any{name}
	query := "SELECT " + entityColumns + " FROM entity e WHERE e.name = $1 AND " + asOfClause("e", asOf, &args) +
		" ORDER BY e.create_date DESC, e.id DESC LIMIT 1"
	entity, err := scanEntity(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity by name: %w", err)
	}
	return &entity, nil
}

// ListByName returns every row of name visible under asOf, oldest first.
func (r *entityRepository) ListByName(ctx context.Context, name string, asOf domain.AsOf) ([]domain.Entity, error) {
	args := []any{name}
	query := "SELECT " + entityColumns + " FROM entity e WHERE e.name = $1 AND " + asOfClause("e", asOf, &args) +
		" ORDER BY e.create_date, e.id"
	return r.list(ctx, "failed to list entities by name", query, args...)
}

// ListBySchema returns the entities of every version of a schema visible under asOf.
func (r *entityRepository) ListBySchema(ctx context.Context, schemaName string, asOf domain.AsOf) ([]domain.Entity, error) {
	args := []any{schemaName}
	query := "SELECT " + entityColumns + " FROM entity e JOIN schema s ON s.id = e.schema_id WHERE s.name = $1 AND " +
		asOfClause("e", asOf, &args) + " ORDER BY e.create_date, e.id"
	return r.list(ctx, "failed to list entities by schema", query, args...)
}

// ListBySchemaID returns every row, live or not, of one schema version.
func (r *entityRepository) ListBySchemaID(ctx context.Context, schemaID int64) ([]domain.Entity, error) {
	query := "SELECT " + entityColumns + " FROM entity e WHERE e.schema_id = $1 ORDER BY e.id"
	return r.list(ctx, "failed to list entities by schema id", query, schemaID)
}

// LastRetired returns the most recently created retired row of name; nil when
// there is none.
func (r *entityRepository) LastRetired(ctx context.Context, name string) (*domain.Entity, error) {
	query := "SELECT " + entityColumns + " FROM entity e WHERE e.name = $1 AND e.remove_date IS NOT NULL" +
		" ORDER BY e.create_date DESC, e.id DESC LIMIT 1"
	entity, err := scanEntity(r.q.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retired entity: %w", err)
	}
	return &entity, nil
}

// Update writes the entity through the audit recorder. An update that changes
// nothing returns before unchanged.
func (r *entityRepository) Update(ctx context.Context, before, after domain.Entity) (domain.Entity, error) {
	if err := after.Validate(); err != nil {
		return domain.Entity{}, err
	}
	changed, closed, err := r.recorder.Update(ctx, r.q, EntityTable, entityRow(before), entityRow(after))
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to update entity %s: %w", before.Name, TranslateError(err))
	}
	if !changed {
		return before, nil
	}
	after.Revision = closed + 1
	return after, nil
}

// Delete archives and removes an entity row. Values must already be gone.
func (r *entityRepository) Delete(ctx context.Context, entity domain.Entity) error {
	if _, err := r.recorder.Delete(ctx, r.q, EntityTable, entityRow(entity)); err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", entity.Name, TranslateError(err))
	}
	return nil
}

func (r *entityRepository) list(ctx context.Context, failure, query string, args ...any) ([]domain.Entity, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", failure, err)
	}
	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Entity, error) {
		return scanEntity(row)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", failure, err)
	}
	return entities, nil
}

func scanEntity(row pgx.Row) (domain.Entity, error) {
	var e domain.Entity
	var state string
	err := row.Scan(
		&e.ID, &e.SchemaID, &e.Name, &e.Title, &e.Description, &state, &e.CollectDate,
		&e.CreateDate, &e.CreateUserID, &e.ModifyDate, &e.ModifyUserID, &e.RemoveDate, &e.RemoveUserID, &e.Revision,
	)
	if err != nil {
		return domain.Entity{}, err
	}
	e.State = domain.EntityState(state)
	return e, nil
}
