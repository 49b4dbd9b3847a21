package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/domain"
)

const attributeSelect = `SELECT id, schema_id, name, title, COALESCE(description, ''), type::text, object_schema_id,
	is_collection, is_required, is_private, value_min, value_max, collection_min, collection_max,
	COALESCE(validator, ''), "order", checksum, create_date, create_user_id, modify_date, modify_user_id, revision
FROM attribute`

const choiceSelect = `SELECT id, attribute_id, name, title, "order", create_date, create_user_id, modify_date, modify_user_id, revision
FROM choice`

// attributeRepository implements AttributeRepository interface
type attributeRepository struct {
	q        DBTX
	recorder *audit.Recorder
}

// NewAttributeRepository creates a new attribute repository
func NewAttributeRepository(q DBTX, recorder *audit.Recorder) AttributeRepository {
	return &attributeRepository{q: q, recorder: recorder}
}

// Create inserts an attribute and its choices, stamping a fresh checksum.
func (r *attributeRepository) Create(ctx context.Context, schemaName string, attr domain.Attribute, stamp Stamp) (domain.Attribute, error) {
	if err := attr.Validate(); err != nil {
		return domain.Attribute{}, err
	}
	attr = attr.WithChecksum(schemaName)
	attr.Timeline = domain.NewTimeline(stamp.Now, stamp.UserID)

	err := r.q.QueryRow(ctx, `INSERT INTO attribute (
		schema_id, name, title, description, type, object_schema_id, is_collection, is_required, is_private,
		value_min, value_max, collection_min, collection_max, validator, "order", checksum,
		create_date, create_user_id, modify_date, modify_user_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	RETURNING id, revision`,
		attr.SchemaID, attr.Name, attr.Title, attr.Description, string(attr.Type), attr.ObjectSchemaID,
		attr.IsCollection, attr.IsRequired, attr.IsPrivate, attr.ValueMin, attr.ValueMax,
		attr.CollectionMin, attr.CollectionMax, attr.Validator, attr.Order, attr.Checksum,
		attr.CreateDate, attr.CreateUserID, attr.ModifyDate, attr.ModifyUserID,
	).Scan(&attr.ID, &attr.Revision)
	if err != nil {
		return domain.Attribute{}, fmt.Errorf("failed to create attribute %s: %w", attr.Name, TranslateError(err))
	}

	choices := attr.Choices
	attr.Choices = nil
	for _, choice := range choices {
		choice.AttributeID = attr.ID
		created, err := r.createChoice(ctx, choice, stamp)
		if err != nil {
			return domain.Attribute{}, err
		}
		attr.Choices = append(attr.Choices, created)
	}
	return attr, nil
}

// ListBySchema returns a schema's attributes in display order with their choices.
func (r *attributeRepository) ListBySchema(ctx context.Context, schemaID int64) ([]domain.Attribute, error) {
	rows, err := r.q.Query(ctx, attributeSelect+` WHERE schema_id = $1 ORDER BY "order", id`, schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	attrs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Attribute, error) {
		return scanAttribute(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	if len(attrs) == 0 {
		return attrs, nil
	}

	ids := make([]int64, len(attrs))
	index := make(map[int64]int, len(attrs))
	for i, attr := range attrs {
		ids[i] = attr.ID
		index[attr.ID] = i
	}
	rows, err = r.q.Query(ctx, choiceSelect+` WHERE attribute_id = ANY($1) ORDER BY attribute_id, "order", id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list choices: %w", err)
	}
	choices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Choice, error) {
		return scanChoice(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list choices: %w", err)
	}
	for _, choice := range choices {
		i := index[choice.AttributeID]
		attrs[i].Choices = append(attrs[i].Choices, choice)
	}
	return attrs, nil
}

// Update writes the attribute through the audit recorder, recomputing its
// checksum, and reconciles its choices by name.
func (r *attributeRepository) Update(ctx context.Context, schemaName string, before, after domain.Attribute, stamp Stamp) (domain.Attribute, error) {
	if err := after.Validate(); err != nil {
		return domain.Attribute{}, err
	}
	after = after.WithChecksum(schemaName)
	after.Timeline = before.Timeline.Touch(stamp.Now, stamp.UserID)

	// Unchanged definitions keep their modify stamp.
	unstamped := after
	unstamped.Timeline = before.Timeline
	if audit.Changed(AttributeTable, attributeRow(before), attributeRow(unstamped)) {
		_, closed, err := r.recorder.Update(ctx, r.q, AttributeTable, attributeRow(before), attributeRow(after))
		if err != nil {
			return domain.Attribute{}, fmt.Errorf("failed to update attribute %s: %w", after.Name, TranslateError(err))
		}
		after.Revision = closed + 1
	} else {
		after.Timeline = before.Timeline
		after.Revision = before.Revision
	}

	choices, err := r.syncChoices(ctx, after.ID, before.Choices, after.Choices, stamp)
	if err != nil {
		return domain.Attribute{}, err
	}
	after.Choices = choices
	return after, nil
}

// Delete archives and removes the attribute's choices and then the attribute.
// Values must already be gone.
func (r *attributeRepository) Delete(ctx context.Context, attr domain.Attribute) error {
	for _, choice := range attr.Choices {
		if _, err := r.recorder.Delete(ctx, r.q, ChoiceTable, choiceRow(choice)); err != nil {
			return fmt.Errorf("failed to delete choice %s: %w", choice.Name, TranslateError(err))
		}
	}
	if _, err := r.recorder.Delete(ctx, r.q, AttributeTable, attributeRow(attr)); err != nil {
		return fmt.Errorf("failed to delete attribute %s: %w", attr.Name, TranslateError(err))
	}
	return nil
}

func (r *attributeRepository) syncChoices(ctx context.Context, attributeID int64, before, after []domain.Choice, stamp Stamp) ([]domain.Choice, error) {
	existing := make(map[string]domain.Choice, len(before))
	for _, choice := range before {
		existing[choice.Name] = choice
	}
	kept := make(map[string]struct{}, len(after))
	for _, choice := range after {
		kept[choice.Name] = struct{}{}
	}

	for _, choice := range before {
		if _, ok := kept[choice.Name]; ok {
			continue
		}
		var used bool
		if err := r.q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM value_choice WHERE value = $1)`, choice.ID,
		).Scan(&used); err != nil {
			return nil, fmt.Errorf("failed to check choice usage: %w", err)
		}
		if used {
			return nil, domain.NewValidationError("choices", "choice %q is in use and cannot be removed", choice.Name)
		}
		if _, err := r.recorder.Delete(ctx, r.q, ChoiceTable, choiceRow(choice)); err != nil {
			return nil, fmt.Errorf("failed to delete choice %s: %w", choice.Name, TranslateError(err))
		}
	}

	result := make([]domain.Choice, 0, len(after))
	for _, choice := range after {
		current, ok := existing[choice.Name]
		if !ok {
			choice.AttributeID = attributeID
			created, err := r.createChoice(ctx, choice, stamp)
			if err != nil {
				return nil, err
			}
			result = append(result, created)
			continue
		}
		next := current
		next.Title = choice.Title
		next.Order = choice.Order
		if !audit.Changed(ChoiceTable, choiceRow(current), choiceRow(next)) {
			result = append(result, current)
			continue
		}
		next.Timeline = current.Timeline.Touch(stamp.Now, stamp.UserID)
		_, closed, err := r.recorder.Update(ctx, r.q, ChoiceTable, choiceRow(current), choiceRow(next))
		if err != nil {
			return nil, fmt.Errorf("failed to update choice %s: %w", choice.Name, TranslateError(err))
		}
		next.Revision = closed + 1
		result = append(result, next)
	}
	return result, nil
}

func (r *attributeRepository) createChoice(ctx context.Context, choice domain.Choice, stamp Stamp) (domain.Choice, error) {
	choice.Timeline = domain.NewTimeline(stamp.Now, stamp.UserID)
	err := r.q.QueryRow(ctx, `INSERT INTO choice (
		attribute_id, name, title, "order", create_date, create_user_id, modify_date, modify_user_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, revision`,
		choice.AttributeID, choice.Name, choice.Title, choice.Order,
		choice.CreateDate, choice.CreateUserID, choice.ModifyDate, choice.ModifyUserID,
	).Scan(&choice.ID, &choice.Revision)
	if err != nil {
		return domain.Choice{}, fmt.Errorf("failed to create choice %s: %w", choice.Name, TranslateError(err))
	}
	return choice, nil
}

func scanAttribute(row pgx.Row) (domain.Attribute, error) {
	var a domain.Attribute
	var attrType string
	err := row.Scan(
		&a.ID, &a.SchemaID, &a.Name, &a.Title, &a.Description, &attrType, &a.ObjectSchemaID,
		&a.IsCollection, &a.IsRequired, &a.IsPrivate, &a.ValueMin, &a.ValueMax, &a.CollectionMin, &a.CollectionMax,
		&a.Validator, &a.Order, &a.Checksum, &a.CreateDate, &a.CreateUserID, &a.ModifyDate, &a.ModifyUserID, &a.Revision,
	)
	if err != nil {
		return domain.Attribute{}, err
	}
	a.Type = domain.AttributeType(attrType)
	return a, nil
}

func scanChoice(row pgx.Row) (domain.Choice, error) {
	var c domain.Choice
	err := row.Scan(
		&c.ID, &c.AttributeID, &c.Name, &c.Title, &c.Order,
		&c.CreateDate, &c.CreateUserID, &c.ModifyDate, &c.ModifyUserID, &c.Revision,
	)
	return c, err
}
