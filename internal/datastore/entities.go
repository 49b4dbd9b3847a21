package datastore

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rpattn/datastore/internal/domain"
)

// CreateEntity inserts a live record of the entity's schema. An empty name is
// replaced by the generated "<Schema>-<id>" slug.
func (s *Store) CreateEntity(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	var created domain.Entity
	err := s.write(ctx, "create_entity", func(u *unit) error {
		var err error
		created, err = s.createEntity(ctx, u, entity)
		return err
	})
	return created, err
}

// NamedValue is one attribute value of a record being created.
type NamedValue struct {
	Attribute string
	Value     any
}

// CreateEntityWithValues creates the entity and stores every value in one
// transaction. Any rejected value rolls back the entity with it.
func (s *Store) CreateEntityWithValues(ctx context.Context, entity domain.Entity, values []NamedValue) (domain.Entity, error) {
	var created domain.Entity
	err := s.write(ctx, "create_entity", func(u *unit) error {
		var err error
		if created, err = s.createEntity(ctx, u, entity); err != nil {
			return err
		}
		for _, v := range values {
			if _, err := s.put(ctx, u, created, v.Attribute, v.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return created, nil
}

func (s *Store) createEntity(ctx context.Context, u *unit, entity domain.Entity) (domain.Entity, error) {
	schema, err := u.repos.Schemas.GetByID(ctx, entity.SchemaID)
	if err != nil {
		return domain.Entity{}, err
	}
	if schema == nil {
		return domain.Entity{}, domain.NewValidationError("schema_id", "schema %d does not exist", entity.SchemaID)
	}

	entity.Name = strings.TrimSpace(entity.Name)
	if entity.Name != "" {
		live, err := u.repos.Entities.GetByName(ctx, entity.Name, domain.Live())
		if err != nil {
			return domain.Entity{}, err
		}
		if live != nil {
			return domain.Entity{}, domain.NewValidationError("name", "entity %s is already live", entity.Name)
		}
	}

	created, err := u.repos.Entities.Create(ctx, entity, schema.Name, u.stamp)
	if err != nil {
		return domain.Entity{}, err
	}
	s.metrics.EntityTransition("create", 1)
	u.logger.Info("created entity",
		slog.String("entity", created.Name),
		slog.Int64("entity_id", created.ID),
		slog.String("schema", schema.Name),
	)
	return created, nil
}

// GetEntity returns the row of name visible under asOf, or nil.
func (s *Store) GetEntity(ctx context.Context, name string, asOf domain.AsOf) (*domain.Entity, error) {
	var entity *domain.Entity
	err := s.read(ctx, "get_entity", func(u *unit) error {
		var err error
		entity, err = u.repos.Entities.GetByName(ctx, name, asOf)
		return err
	})
	return entity, err
}

// HasEntity reports whether any row of name is visible under asOf.
func (s *Store) HasEntity(ctx context.Context, name string, asOf domain.AsOf) (bool, error) {
	entity, err := s.GetEntity(ctx, name, asOf)
	if err != nil {
		return false, err
	}
	return entity != nil, nil
}

// ListEntityVersions returns every row of name, oldest first.
func (s *Store) ListEntityVersions(ctx context.Context, name string) ([]domain.Entity, error) {
	var versions []domain.Entity
	err := s.read(ctx, "list_entity_versions", func(u *unit) error {
		var err error
		versions, err = u.repos.Entities.ListByName(ctx, name, domain.Ever())
		return err
	})
	return versions, err
}

// ListEntities returns the records of every version of a schema visible under asOf.
func (s *Store) ListEntities(ctx context.Context, schemaName string, asOf domain.AsOf) ([]domain.Entity, error) {
	var entities []domain.Entity
	err := s.read(ctx, "list_entities", func(u *unit) error {
		var err error
		entities, err = u.repos.Entities.ListBySchema(ctx, schemaName, asOf)
		return err
	})
	return entities, err
}

// UpdateEntity changes the title, description, state and collect date of a
// live entity row. Saving an unchanged entity writes nothing.
func (s *Store) UpdateEntity(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	var updated domain.Entity
	err := s.write(ctx, "update_entity", func(u *unit) error {
		before, err := u.repos.Entities.GetByID(ctx, entity.ID)
		if err != nil {
			return err
		}
		if before == nil || !before.IsLive() {
			return domain.NewValidationError("entity", "entity %d is not live", entity.ID)
		}

		after := before.WithTitle(entity.Title, entity.Description)
		if entity.State != "" {
			after.State = entity.State
		}
		if !entity.CollectDate.IsZero() {
			after.CollectDate = entity.CollectDate
		}
		if !entityChanged(*before, after) {
			updated = *before
			return nil
		}
		after.Timeline = before.Timeline.Touch(u.stamp.Now, u.stamp.UserID)

		updated, err = u.repos.Entities.Update(ctx, *before, after)
		return err
	})
	return updated, err
}

func entityChanged(before, after domain.Entity) bool {
	if before.Title != after.Title || before.Description != after.Description || before.State != after.State {
		return true
	}
	by, bm, bd := before.CollectDate.Date()
	ay, am, ad := after.CollectDate.UTC().Date()
	return by != ay || bm != am || bd != ad
}

// RetireEntity soft-deletes the live row of name. It returns the number of rows
// retired, 0 when nothing is live. Values are left untouched; they stop being
// visible because their entity is.
func (s *Store) RetireEntity(ctx context.Context, name string) (int, error) {
	var affected int
	err := s.write(ctx, "retire_entity", func(u *unit) error {
		live, err := u.repos.Entities.GetByName(ctx, name, domain.Live())
		if err != nil {
			return err
		}
		if live == nil {
			return nil
		}
		after := *live
		after.Timeline = live.Timeline.Remove(u.stamp.Now, u.stamp.UserID)
		if _, err := u.repos.Entities.Update(ctx, *live, after); err != nil {
			return err
		}
		affected = 1
		s.metrics.EntityTransition("retire", 1)
		u.logger.Info("retired entity", slog.String("entity", name), slog.Int64("entity_id", live.ID))
		return nil
	})
	return affected, err
}

// RestoreEntity clears the remove stamp on the most recently created retired row
// of name. It returns 0 when a row is already live or none ever existed.
func (s *Store) RestoreEntity(ctx context.Context, name string) (int, error) {
	var affected int
	err := s.write(ctx, "restore_entity", func(u *unit) error {
		live, err := u.repos.Entities.GetByName(ctx, name, domain.Live())
		if err != nil {
			return err
		}
		if live != nil {
			return nil
		}
		retired, err := u.repos.Entities.LastRetired(ctx, name)
		if err != nil {
			return err
		}
		if retired == nil {
			return nil
		}
		after := *retired
		after.Timeline = retired.Timeline.Restore(u.stamp.Now, u.stamp.UserID)
		if _, err := u.repos.Entities.Update(ctx, *retired, after); err != nil {
			return err
		}
		affected = 1
		s.metrics.EntityTransition("restore", 1)
		u.logger.Info("restored entity", slog.String("entity", name), slog.Int64("entity_id", retired.ID))
		return nil
	})
	return affected, err
}

// PurgeEntity permanently deletes the rows of name matching asOf together with
// their values. Each deleted row is archived first. The purge is refused while
// live object values of other entities still reference one of the rows.
func (s *Store) PurgeEntity(ctx context.Context, name string, asOf domain.AsOf) (int, error) {
	var affected int
	err := s.write(ctx, "purge_entity", func(u *unit) error {
		rows, err := u.repos.Entities.ListByName(ctx, name, asOf)
		if err != nil {
			return err
		}
		for _, row := range rows {
			refs, err := u.repos.Values.ListReferencing(ctx, row.ID, true)
			if err != nil {
				return err
			}
			if len(refs) > 0 {
				return domain.NewValidationError("entity", "entity %s is referenced by %d live values", name, len(refs))
			}
		}
		for _, row := range rows {
			if err := u.repos.PurgeEntity(ctx, row); err != nil {
				return err
			}
		}
		affected = len(rows)
		if affected > 0 {
			s.metrics.EntityTransition("purge", affected)
			u.logger.Info("purged entity",
				slog.String("entity", name),
				slog.String("as_of", asOf.String()),
				slog.Int("rows", affected),
			)
		}
		return nil
	})
	return affected, err
}
