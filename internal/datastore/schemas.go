package datastore

import (
	"context"
	"log/slog"
	"time"

	"github.com/rpattn/datastore/internal/domain"
	schemavalidator "github.com/rpattn/datastore/internal/schema/validator"
)

// CreateSchema inserts a schema version together with any attributes it
// declares.
func (s *Store) CreateSchema(ctx context.Context, schema domain.Schema) (domain.Schema, error) {
	if _, err := schemavalidator.ValidateSchema(schema); err != nil {
		return domain.Schema{}, err
	}
	var created domain.Schema
	err := s.write(ctx, "create_schema", func(u *unit) error {
		var err error
		created, err = u.repos.Schemas.Create(ctx, schema, u.stamp)
		if err != nil {
			return err
		}
		u.logger.Info("created schema",
			slog.String("schema", created.Name),
			slog.Int64("schema_id", created.ID),
			slog.Int("attributes", len(created.Attributes)),
		)
		return nil
	})
	return created, err
}

// AddAttribute appends an attribute to a schema version. The attribute is
// placed after the schema's current attributes and its checksum is computed
// from its definition.
func (s *Store) AddAttribute(ctx context.Context, schemaID int64, attr domain.Attribute) (domain.Attribute, error) {
	var created domain.Attribute
	err := s.write(ctx, "add_attribute", func(u *unit) error {
		schema, err := u.repos.Schemas.GetByID(ctx, schemaID)
		if err != nil {
			return err
		}
		if schema == nil {
			return domain.NewValidationError("schema_id", "schema %d does not exist", schemaID)
		}

		attr.SchemaID = schema.ID
		attr.Order = schema.NextOrder()
		if _, err := schemavalidator.ValidateAttributes(append(schema.Attributes, attr)); err != nil {
			return err
		}
		if err := s.checkObjectTarget(ctx, u, attr); err != nil {
			return err
		}

		created, err = u.repos.Attributes.Create(ctx, schema.Name, attr, u.stamp)
		if err != nil {
			return err
		}
		u.logger.Info("added attribute",
			slog.String("schema", schema.Name),
			slog.String("attribute", created.Name),
			slog.String("checksum", created.Checksum),
		)
		return nil
	})
	return created, err
}

// UpdateAttribute rewrites an attribute definition and its choices. The
// checksum is recomputed; a change of type is refused once values exist.
func (s *Store) UpdateAttribute(ctx context.Context, attr domain.Attribute) (domain.Attribute, error) {
	var updated domain.Attribute
	err := s.write(ctx, "update_attribute", func(u *unit) error {
		schema, err := u.repos.Schemas.GetByID(ctx, attr.SchemaID)
		if err != nil {
			return err
		}
		if schema == nil {
			return domain.NewValidationError("schema_id", "schema %d does not exist", attr.SchemaID)
		}

		var before *domain.Attribute
		others := make([]domain.Attribute, 0, len(schema.Attributes))
		for i := range schema.Attributes {
			if schema.Attributes[i].ID == attr.ID {
				before = &schema.Attributes[i]
				continue
			}
			others = append(others, schema.Attributes[i])
		}
		if before == nil {
			return domain.NewValidationError("attribute", "attribute %d does not belong to schema %s", attr.ID, schema.Name)
		}
		if _, err := schemavalidator.ValidateAttributes(append(others, attr)); err != nil {
			return err
		}
		if err := s.checkObjectTarget(ctx, u, attr); err != nil {
			return err
		}
		if attr.Type.Kind() != before.Type.Kind() {
			existing, err := u.repos.Values.ListByAttribute(ctx, *before)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				return domain.NewValidationError(attr.Name+".type", "cannot change type from %s to %s while values exist", before.Type, attr.Type)
			}
		}

		updated, err = u.repos.Attributes.Update(ctx, schema.Name, *before, attr, u.stamp)
		return err
	})
	return updated, err
}

// GetSchema resolves the version of name published on the given date, or the
// most recently published version when on is nil. A missing schema is not an
// error: the result is nil.
func (s *Store) GetSchema(ctx context.Context, name string, on *time.Time) (*domain.Schema, error) {
	var schema *domain.Schema
	err := s.read(ctx, "get_schema", func(u *unit) error {
		var err error
		schema, err = u.repos.Schemas.GetByName(ctx, name, on)
		return err
	})
	return schema, err
}

// GetSchemaByID loads one schema version, published or not.
func (s *Store) GetSchemaByID(ctx context.Context, id int64) (*domain.Schema, error) {
	var schema *domain.Schema
	err := s.read(ctx, "get_schema", func(u *unit) error {
		var err error
		schema, err = u.repos.Schemas.GetByID(ctx, id)
		return err
	})
	return schema, err
}

// ListSchemaVersions returns every version of name by publish date, drafts last.
func (s *Store) ListSchemaVersions(ctx context.Context, name string) ([]domain.Schema, error) {
	var versions []domain.Schema
	err := s.read(ctx, "list_schema_versions", func(u *unit) error {
		var err error
		versions, err = u.repos.Schemas.ListVersions(ctx, name)
		return err
	})
	return versions, err
}

// PublishSchema sets a schema version's publish date.
func (s *Store) PublishSchema(ctx context.Context, id int64, on time.Time) (domain.Schema, error) {
	return s.setPublication(ctx, "publish_schema", id, func(schema domain.Schema) domain.Schema {
		return schema.WithPublication(&on, schema.RetractDate)
	})
}

// RetractSchema sets a published schema version's retract date.
func (s *Store) RetractSchema(ctx context.Context, id int64, on time.Time) (domain.Schema, error) {
	return s.setPublication(ctx, "retract_schema", id, func(schema domain.Schema) domain.Schema {
		return schema.WithPublication(schema.PublishDate, &on)
	})
}

func (s *Store) setPublication(ctx context.Context, op string, id int64, change func(domain.Schema) domain.Schema) (domain.Schema, error) {
	var updated domain.Schema
	err := s.write(ctx, op, func(u *unit) error {
		before, err := u.repos.Schemas.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return domain.NewValidationError("schema_id", "schema %d does not exist", id)
		}
		after := change(*before)
		after.Timeline = before.Timeline.Touch(u.stamp.Now, u.stamp.UserID)
		updated, err = u.repos.Schemas.Update(ctx, *before, after)
		if err != nil {
			return err
		}
		updated.Attributes = before.Attributes
		u.logger.Info("changed schema publication",
			slog.String("schema", updated.Name),
			slog.Any("publish_date", updated.PublishDate),
			slog.Any("retract_date", updated.RetractDate),
		)
		return nil
	})
	return updated, err
}

// NewSchemaVersion starts a new version of name by copying the latest version's
// row, attributes and choices. The copy is published on publishDate, or left as
// a draft when publishDate is nil.
func (s *Store) NewSchemaVersion(ctx context.Context, name string, publishDate *time.Time) (domain.Schema, error) {
	var created domain.Schema
	err := s.write(ctx, "new_schema_version", func(u *unit) error {
		versions, err := u.repos.Schemas.ListVersions(ctx, name)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return domain.NewValidationError("name", "schema %s does not exist", name)
		}
		latest := latestVersion(versions)

		next := latest.WithPublication(publishDate, nil)
		next.ID = 0
		next.Revision = 0
		next.Timeline = domain.Timeline{}
		for i := range next.Attributes {
			next.Attributes[i].ID = 0
			next.Attributes[i].SchemaID = 0
			next.Attributes[i].Revision = 0
			next.Attributes[i].Timeline = domain.Timeline{}
			for j := range next.Attributes[i].Choices {
				next.Attributes[i].Choices[j].ID = 0
				next.Attributes[i].Choices[j].AttributeID = 0
				next.Attributes[i].Choices[j].Revision = 0
				next.Attributes[i].Choices[j].Timeline = domain.Timeline{}
			}
		}
		if _, err := schemavalidator.ValidateSchema(next); err != nil {
			return err
		}

		created, err = u.repos.Schemas.Create(ctx, next, u.stamp)
		if err != nil {
			return err
		}
		u.logger.Info("created schema version",
			slog.String("schema", created.Name),
			slog.Int64("from_id", latest.ID),
			slog.Int64("schema_id", created.ID),
		)
		return nil
	})
	return created, err
}

// latestVersion prefers the most recently published version and falls back to
// the newest draft.
func latestVersion(versions []domain.Schema) domain.Schema {
	var latest *domain.Schema
	for i := range versions {
		v := &versions[i]
		if v.PublishDate == nil {
			continue
		}
		if latest == nil || !v.PublishDate.Before(*latest.PublishDate) {
			latest = v
		}
	}
	if latest != nil {
		return *latest
	}
	return versions[len(versions)-1]
}

// DeleteSchema removes a schema version with everything it owns. Every removed
// row is archived. Returns false when the schema does not exist.
func (s *Store) DeleteSchema(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.write(ctx, "delete_schema", func(u *unit) error {
		schema, err := u.repos.Schemas.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if schema == nil {
			return nil
		}
		if err := u.repos.Schemas.Delete(ctx, *schema); err != nil {
			return err
		}
		deleted = true
		u.logger.Info("deleted schema", slog.String("schema", schema.Name), slog.Int64("schema_id", id))
		return nil
	})
	return deleted, err
}

// checkObjectTarget verifies that an object attribute references an existing
// schema.
func (s *Store) checkObjectTarget(ctx context.Context, u *unit, attr domain.Attribute) error {
	if attr.ObjectSchemaID == nil {
		return nil
	}
	if *attr.ObjectSchemaID == attr.SchemaID {
		return nil
	}
	target, err := u.repos.Schemas.GetByID(ctx, *attr.ObjectSchemaID)
	if err != nil {
		return err
	}
	if target == nil {
		return domain.NewValidationError(attr.Name+".object_schema_id", "schema %d does not exist", *attr.ObjectSchemaID)
	}
	return nil
}
