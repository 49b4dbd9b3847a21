package datastore

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/rpattn/datastore/internal/domain"
	"github.com/rpattn/datastore/internal/entityloader"
	"github.com/rpattn/datastore/pkg/validator"
)

// PutResult counts the value rows a put wrote.
type PutResult struct {
	Inserted int
	Retired  int
}

// Changed reports whether the put wrote anything.
func (r PutResult) Changed() bool {
	return r.Inserted > 0 || r.Retired > 0
}

// Put stores value for the named attribute of a live entity. A single-valued
// attribute keeps at most one live row: an equal value writes nothing, a
// different one retires the old row and inserts a new one, and nil only
// retires. A collection attribute takes a slice and is diffed member by member.
func (s *Store) Put(ctx context.Context, entity domain.Entity, attrName string, value any) (PutResult, error) {
	var result PutResult
	err := s.write(ctx, "put_value", func(u *unit) error {
		var err error
		result, err = s.put(ctx, u, entity, attrName, value)
		return err
	})
	return result, err
}

func (s *Store) put(ctx context.Context, u *unit, entity domain.Entity, attrName string, value any) (PutResult, error) {
	var result PutResult
	live, err := u.repos.Entities.GetByID(ctx, entity.ID)
	if err != nil {
		return result, err
	}
	if live == nil || !live.IsLive() {
		return result, domain.NewValidationError("entity", "entity %d is not live", entity.ID)
	}
	_, attr, err := s.attribute(ctx, u, live.SchemaID, attrName)
	if err != nil {
		return result, err
	}

	current, err := u.repos.Values.List(ctx, live.ID, attr, domain.Live())
	if err != nil {
		return result, err
	}

	var p writePlan
	if attr.IsCollection {
		coerced, err := s.values.CoerceCollection(attr, members(value))
		if err != nil {
			return result, err
		}
		if err := s.checkReferences(ctx, u, attr, coerced); err != nil {
			return result, err
		}
		p = planCollection(current, coerced)
	} else {
		if isList(value) {
			return result, domain.NewValidationError(attr.Name, "is not a collection")
		}
		coerced, err := s.values.Coerce(attr, value)
		if err != nil {
			return result, err
		}
		if coerced.Payload == nil {
			if attr.IsRequired {
				return result, domain.NewValidationError(attr.Name, "is required")
			}
			p = planSingle(current, nil)
		} else {
			if err := s.checkReferences(ctx, u, attr, []validator.Coerced{coerced}); err != nil {
				return result, err
			}
			p = planSingle(current, &coerced)
		}
	}
	if p.empty() {
		return result, nil
	}

	if result.Retired, err = s.retireValues(ctx, u, p.retire); err != nil {
		return result, err
	}
	kind := attr.Type.Kind()
	for _, c := range p.insert {
		if _, err := u.repos.Values.Insert(ctx, domain.ValueRow{
			Kind:        kind,
			EntityID:    live.ID,
			AttributeID: attr.ID,
			ChoiceID:    c.ChoiceID,
			Payload:     c.Payload,
		}, u.stamp); err != nil {
			return result, err
		}
		result.Inserted++
	}
	s.metrics.ValueWrite(string(kind), "insert", result.Inserted)
	u.logger.Debug("put value",
		slog.String("entity", live.Name),
		slog.String("attribute", attr.Name),
		slog.Int("inserted", result.Inserted),
		slog.Int("retired", result.Retired),
	)
	return result, nil
}

// Get reads the named attribute of entity as of asOf. Single-valued attributes
// return the value or nil, collections return a []any in insertion order.
// Choices resolve to their names, booleans to bool and object references to the
// referenced domain.Entity when it is visible under the same predicate.
func (s *Store) Get(ctx context.Context, entity domain.Entity, attrName string, asOf domain.AsOf) (any, error) {
	var out any
	err := s.read(ctx, "get_value", func(u *unit) error {
		_, attr, err := s.attribute(ctx, u, entity.SchemaID, attrName)
		if err != nil {
			return err
		}
		loader := entityloader.NewEntityLoader(u.repos.Entities, asOf, s.loaderWait)
		decoded, err := s.readValues(ctx, u, loader, entity, attr, asOf)
		if err != nil {
			return err
		}
		out = shape(attr, decoded)
		return nil
	})
	return out, err
}

// RetireValue soft-deletes the live rows of one attribute of an entity and
// returns how many were retired.
func (s *Store) RetireValue(ctx context.Context, entity domain.Entity, attrName string) (int, error) {
	var affected int
	err := s.write(ctx, "retire_value", func(u *unit) error {
		_, attr, err := s.attribute(ctx, u, entity.SchemaID, attrName)
		if err != nil {
			return err
		}
		current, err := u.repos.Values.List(ctx, entity.ID, attr, domain.Live())
		if err != nil {
			return err
		}
		affected, err = s.retireValues(ctx, u, current)
		return err
	})
	return affected, err
}

// RestoreValue brings back the rows of one attribute that were retired last.
// Nothing is restored while the attribute still has live rows.
func (s *Store) RestoreValue(ctx context.Context, entity domain.Entity, attrName string) (int, error) {
	var affected int
	err := s.write(ctx, "restore_value", func(u *unit) error {
		_, attr, err := s.attribute(ctx, u, entity.SchemaID, attrName)
		if err != nil {
			return err
		}
		current, err := u.repos.Values.List(ctx, entity.ID, attr, domain.Live())
		if err != nil {
			return err
		}
		if len(current) > 0 {
			return nil
		}
		retired, err := u.repos.Values.LastRetired(ctx, entity.ID, attr)
		if err != nil {
			return err
		}
		if !attr.IsCollection && len(retired) > 1 {
			retired = retired[len(retired)-1:]
		}
		for _, row := range retired {
			after := row
			after.Timeline = row.Timeline.Restore(u.stamp.Now, u.stamp.UserID)
			if _, err := u.repos.Values.Update(ctx, row, after); err != nil {
				return err
			}
			affected++
		}
		s.metrics.ValueWrite(string(attr.Type.Kind()), "restore", affected)
		return nil
	})
	return affected, err
}

// PurgeValue permanently deletes the rows of one attribute matching asOf. Each
// row is archived before it is removed.
func (s *Store) PurgeValue(ctx context.Context, entity domain.Entity, attrName string, asOf domain.AsOf) (int, error) {
	var affected int
	err := s.write(ctx, "purge_value", func(u *unit) error {
		_, attr, err := s.attribute(ctx, u, entity.SchemaID, attrName)
		if err != nil {
			return err
		}
		rows, err := u.repos.Values.List(ctx, entity.ID, attr, asOf)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := u.repos.Values.Delete(ctx, row); err != nil {
				return err
			}
			affected++
		}
		s.metrics.ValueWrite(string(attr.Type.Kind()), "purge", affected)
		return nil
	})
	return affected, err
}

// Assignments lists the attributes an entity holds values for under asOf.
func (s *Store) Assignments(ctx context.Context, entity domain.Entity, asOf domain.AsOf) ([]domain.Assignment, error) {
	var out []domain.Assignment
	err := s.read(ctx, "list_assignments", func(u *unit) error {
		var err error
		out, err = u.repos.Assignments.List(ctx, entity.ID, asOf)
		return err
	})
	return out, err
}

// attribute resolves an attribute by name on a schema version.
func (s *Store) attribute(ctx context.Context, u *unit, schemaID int64, name string) (*domain.Schema, domain.Attribute, error) {
	schema, err := u.repos.Schemas.GetByID(ctx, schemaID)
	if err != nil {
		return nil, domain.Attribute{}, err
	}
	if schema == nil {
		return nil, domain.Attribute{}, domain.NewValidationError("schema_id", "schema %d does not exist", schemaID)
	}
	attr, ok := schema.Attribute(name)
	if !ok {
		return nil, domain.Attribute{}, domain.NewValidationError(name, "not an attribute of %s", schema.Name)
	}
	return schema, attr, nil
}

func (s *Store) retireValues(ctx context.Context, u *unit, rows []domain.ValueRow) (int, error) {
	for _, row := range rows {
		after := row
		after.Timeline = row.Timeline.Remove(u.stamp.Now, u.stamp.UserID)
		if _, err := u.repos.Values.Update(ctx, row, after); err != nil {
			return 0, err
		}
	}
	if len(rows) > 0 {
		s.metrics.ValueWrite(string(rows[0].Kind), "retire", len(rows))
	}
	return len(rows), nil
}

// checkReferences requires object payloads to point at live entities of the
// attribute's target schema. Versions of the target schema share its name.
func (s *Store) checkReferences(ctx context.Context, u *unit, attr domain.Attribute, coerced []validator.Coerced) error {
	if attr.Type != domain.AttributeTypeObject || len(coerced) == 0 {
		return nil
	}
	target, err := u.repos.Schemas.GetByID(ctx, *attr.ObjectSchemaID)
	if err != nil {
		return err
	}
	if target == nil {
		return domain.NewValidationError(attr.Name, "target schema %d does not exist", *attr.ObjectSchemaID)
	}

	names := map[int64]string{target.ID: target.Name}
	for _, c := range coerced {
		id := c.Payload.(int64)
		ref, err := u.repos.Entities.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if ref == nil || !ref.IsLive() {
			return domain.NewValidationError(attr.Name, "entity %d is not live", id)
		}
		name, ok := names[ref.SchemaID]
		if !ok {
			schema, err := u.repos.Schemas.GetByID(ctx, ref.SchemaID)
			if err != nil {
				return err
			}
			if schema != nil {
				name = schema.Name
			}
			names[ref.SchemaID] = name
		}
		if name != target.Name {
			return domain.NewValidationError(attr.Name, "entity %s is not a %s", ref.Name, target.Name)
		}
	}
	return nil
}

// readValues loads and decodes the rows of attr visible under asOf. Object
// references that are not visible are dropped.
func (s *Store) readValues(ctx context.Context, u *unit, loader *entityloader.EntityLoader, entity domain.Entity, attr domain.Attribute, asOf domain.AsOf) ([]any, error) {
	rows, err := u.repos.Values.List(ctx, entity.ID, attr, asOf)
	if err != nil {
		return nil, err
	}
	if attr.Type != domain.AttributeTypeObject {
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, validator.Decode(attr, row.Payload))
		}
		return out, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.Payload.(int64))
	}
	refs, err := loader.LoadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if ref, ok := refs[id]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// shape turns decoded rows into what Get returns for attr.
func shape(attr domain.Attribute, decoded []any) any {
	if attr.IsCollection {
		return decoded
	}
	if len(decoded) == 0 {
		return nil
	}
	return decoded[len(decoded)-1]
}

// members spreads a collection argument into its elements. A nil argument is
// an empty collection and a scalar is a collection of one.
func members(value any) []any {
	if value == nil {
		return nil
	}
	if !isList(value) {
		return []any{value}
	}
	v := reflect.ValueOf(value)
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}

// isList reports whether value is a slice or array other than a byte payload.
func isList(value any) bool {
	if value == nil {
		return false
	}
	if _, ok := value.([]byte); ok {
		return false
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}
