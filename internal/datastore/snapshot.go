package datastore

import (
	"context"

	"github.com/rpattn/datastore/internal/domain"
	"github.com/rpattn/datastore/internal/entityloader"
)

// Record is an entity with every attribute value visible under one as-of
// predicate, keyed by attribute name. Object attributes hold nested Records;
// a nested Record past the depth limit, or one already on the path, carries
// only its Entity.
type Record struct {
	Entity domain.Entity  `json:"entity"`
	Values map[string]any `json:"values,omitempty"`
}

// Snapshot reads every attribute of entity as of asOf in one transaction.
// Private attributes are included.
func (s *Store) Snapshot(ctx context.Context, entity domain.Entity, asOf domain.AsOf) (Record, error) {
	var record Record
	err := s.read(ctx, "snapshot", func(u *unit) error {
		w := &snapshotWalker{
			store:   s,
			unit:    u,
			loader:  entityloader.NewEntityLoader(u.repos.Entities, asOf, s.loaderWait),
			asOf:    asOf,
			schemas: make(map[int64]*domain.Schema),
		}
		var err error
		record, err = w.walk(ctx, entity, 0, map[int64]bool{})
		return err
	})
	return record, err
}

type snapshotWalker struct {
	store   *Store
	unit    *unit
	loader  *entityloader.EntityLoader
	asOf    domain.AsOf
	schemas map[int64]*domain.Schema
}

func (w *snapshotWalker) schema(ctx context.Context, id int64) (*domain.Schema, error) {
	if schema, ok := w.schemas[id]; ok {
		return schema, nil
	}
	schema, err := w.unit.repos.Schemas.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, domain.NewValidationError("schema_id", "schema %d does not exist", id)
	}
	w.schemas[id] = schema
	return schema, nil
}

func (w *snapshotWalker) walk(ctx context.Context, entity domain.Entity, depth int, path map[int64]bool) (Record, error) {
	record := Record{Entity: entity}
	if depth > w.store.snapshotDepth || path[entity.ID] {
		return record, nil
	}
	schema, err := w.schema(ctx, entity.SchemaID)
	if err != nil {
		return Record{}, err
	}

	path[entity.ID] = true
	defer delete(path, entity.ID)

	record.Values = make(map[string]any, len(schema.Attributes))
	for _, attr := range schema.OrderedAttributes() {
		decoded, err := w.store.readValues(ctx, w.unit, w.loader, entity, attr, w.asOf)
		if err != nil {
			return Record{}, err
		}
		if attr.Type == domain.AttributeTypeObject {
			for i, item := range decoded {
				nested, err := w.walk(ctx, item.(domain.Entity), depth+1, path)
				if err != nil {
					return Record{}, err
				}
				decoded[i] = nested
			}
		}
		record.Values[attr.Name] = shape(attr, decoded)
	}
	return record, nil
}
