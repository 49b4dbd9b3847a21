package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/domain"
)

// DBTX is satisfied by pgxpool.Pool, pgx.Conn and pgx.Tx.
type DBTX = audit.DBTX

// Stamp is the blame applied to every row written by one operation: the
// transaction clock and the acting user.
type Stamp struct {
	Now    time.Time
	UserID int64
}

// SchemaRepository defines the interface for schema version operations
type SchemaRepository interface {
	Create(ctx context.Context, schema domain.Schema, stamp Stamp) (domain.Schema, error)
	GetByID(ctx context.Context, id int64) (*domain.Schema, error)
	GetByName(ctx context.Context, name string, on *time.Time) (*domain.Schema, error)
	ListVersions(ctx context.Context, name string) ([]domain.Schema, error)
	Update(ctx context.Context, before, after domain.Schema) (domain.Schema, error)
	Delete(ctx context.Context, schema domain.Schema) error
}

// AttributeRepository defines the interface for attribute and choice operations
type AttributeRepository interface {
	Create(ctx context.Context, schemaName string, attr domain.Attribute, stamp Stamp) (domain.Attribute, error)
	ListBySchema(ctx context.Context, schemaID int64) ([]domain.Attribute, error)
	Update(ctx context.Context, schemaName string, before, after domain.Attribute, stamp Stamp) (domain.Attribute, error)
	Delete(ctx context.Context, attr domain.Attribute) error
}

// EntityRepository defines the interface for temporal entity operations
type EntityRepository interface {
	Create(ctx context.Context, entity domain.Entity, schemaName string, stamp Stamp) (domain.Entity, error)
	GetByID(ctx context.Context, id int64) (*domain.Entity, error)
	GetByIDs(ctx context.Context, ids []int64, asOf domain.AsOf) ([]domain.Entity, error)
	GetByName(ctx context.Context, name string, asOf domain.AsOf) (*domain.Entity, error)
	ListByName(ctx context.Context, name string, asOf domain.AsOf) ([]domain.Entity, error)
	ListBySchema(ctx context.Context, schemaName string, asOf domain.AsOf) ([]domain.Entity, error)
	ListBySchemaID(ctx context.Context, schemaID int64) ([]domain.Entity, error)
	LastRetired(ctx context.Context, name string) (*domain.Entity, error)
	Update(ctx context.Context, before, after domain.Entity) (domain.Entity, error)
	Delete(ctx context.Context, entity domain.Entity) error
}

// ValueRepository defines the interface for the type-dispatched value tables
type ValueRepository interface {
	Insert(ctx context.Context, value domain.ValueRow, stamp Stamp) (domain.ValueRow, error)
	List(ctx context.Context, entityID int64, attr domain.Attribute, asOf domain.AsOf) ([]domain.ValueRow, error)
	ListByEntity(ctx context.Context, entityID int64) ([]domain.ValueRow, error)
	ListByAttribute(ctx context.Context, attr domain.Attribute) ([]domain.ValueRow, error)
	ListReferencing(ctx context.Context, entityID int64, liveOnly bool) ([]domain.ValueRow, error)
	LastRetired(ctx context.Context, entityID int64, attr domain.Attribute) ([]domain.ValueRow, error)
	Update(ctx context.Context, before, after domain.ValueRow) (domain.ValueRow, error)
	Delete(ctx context.Context, value domain.ValueRow) error
}

// AssignmentRepository reads the assignment union view.
type AssignmentRepository interface {
	List(ctx context.Context, entityID int64, asOf domain.AsOf) ([]domain.Assignment, error)
}

// UserRepository resolves blame users.
type UserRepository interface {
	Ensure(ctx context.Context, key string) (int64, error)
	GetByKey(ctx context.Context, key string) (int64, bool, error)
}

// HistoryRepository reads archived revisions from the audit tables.
type HistoryRepository interface {
	List(ctx context.Context, table string, id int64) ([]domain.Revision, error)
}

// Repositories bundles every repository bound to one connection or transaction.
type Repositories struct {
	Schemas     SchemaRepository
	Attributes  AttributeRepository
	Entities    EntityRepository
	Values      ValueRepository
	Assignments AssignmentRepository
	Users       UserRepository
	History     HistoryRepository
}

// New binds every repository to q. Audited writes go through recorder.
func New(q DBTX, recorder *audit.Recorder, registry *audit.Registry) Repositories {
	if recorder == nil {
		recorder = audit.NewRecorder()
	}
	if registry == nil {
		registry = NewAuditRegistry()
	}
	attributes := NewAttributeRepository(q, recorder)
	entities := NewEntityRepository(q, recorder)
	values := NewValueRepository(q, recorder)
	return Repositories{
		Schemas:     NewSchemaRepository(q, recorder, attributes, entities, values),
		Attributes:  attributes,
		Entities:    entities,
		Values:      values,
		Assignments: NewAssignmentRepository(q),
		Users:       NewUserRepository(q),
		History:     NewHistoryRepository(q, registry),
	}
}

// Now reads the transaction clock. Every stamp written inside one transaction
// uses this value.
func Now(ctx context.Context, q DBTX) (time.Time, error) {
	var now time.Time
	if err := q.QueryRow(ctx, "SELECT now()").Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read transaction clock: %w", err)
	}
	return now.UTC(), nil
}

// PurgeEntity archives and removes an entity together with its values and the
// object values of other entities that point at it.
func (r Repositories) PurgeEntity(ctx context.Context, entity domain.Entity) error {
	return deleteEntityCascade(ctx, r.Values, r.Entities, entity)
}
