package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/domain"
)

// valueRepository implements ValueRepository interface. Every method dispatches
// on the value kind to one of the value_* tables.
type valueRepository struct {
	q        DBTX
	recorder *audit.Recorder
}

// NewValueRepository creates a new value repository
func NewValueRepository(q DBTX, recorder *audit.Recorder) ValueRepository {
	return &valueRepository{q: q, recorder: recorder}
}

func valueColumns(kind domain.ValueKind) string {
	value := "v.value"
	if kind == domain.ValueKindDecimal {
		value = "v.value::text"
	}
	return "v.id, v.entity_id, v.attribute_id, v.choice_id, " + value +
		", v.create_date, v.create_user_id, v.modify_date, v.modify_user_id, v.remove_date, v.remove_user_id, v.revision"
}

func valueTable(kind domain.ValueKind) (*audit.Table, error) {
	table, ok := ValueTables[kind]
	if !ok {
		return nil, domain.NewValidationError("kind", "unknown value kind %q", kind)
	}
	return table, nil
}

// Insert adds a live value row.
func (r *valueRepository) Insert(ctx context.Context, value domain.ValueRow, stamp Stamp) (domain.ValueRow, error) {
	table, err := valueTable(value.Kind)
	if err != nil {
		return domain.ValueRow{}, err
	}
	value.Timeline = domain.NewTimeline(stamp.Now, stamp.UserID)

	query := fmt.Sprintf(`INSERT INTO %s (
		entity_id, attribute_id, choice_id, value, create_date, create_user_id, modify_date, modify_user_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, revision`, pgx.Identifier{table.Name}.Sanitize())
	err = r.q.QueryRow(ctx, query,
		value.EntityID, value.AttributeID, value.ChoiceID, value.Payload,
		value.CreateDate, value.CreateUserID, value.ModifyDate, value.ModifyUserID,
	).Scan(&value.ID, &value.Revision)
	if err != nil {
		return domain.ValueRow{}, fmt.Errorf("failed to insert %s: %w", table.Name, TranslateError(err))
	}
	return value, nil
}

// List returns the rows of one attribute of one entity visible under asOf. The
// owning entity row must be visible under the same predicate.
func (r *valueRepository) List(ctx context.Context, entityID int64, attr domain.Attribute, asOf domain.AsOf) ([]domain.ValueRow, error) {
	kind := attr.Type.Kind()
	table, err := valueTable(kind)
	if err != nil {
		return nil, err
	}
	args := []any{entityID, attr.ID}
	query := fmt.Sprintf("SELECT %s FROM %s v JOIN entity e ON e.id = v.entity_id WHERE v.entity_id = $1 AND v.attribute_id = $2 AND %s",
		valueColumns(kind), pgx.Identifier{table.Name}.Sanitize(), asOfClause("v", asOf, &args))
	query += " AND " + asOfClause("e", asOf, &args) + " ORDER BY v.id"
	return r.list(ctx, kind, query, args...)
}

// ListByEntity returns every row, live or not, owned by an entity across all
// value tables.
func (r *valueRepository) ListByEntity(ctx context.Context, entityID int64) ([]domain.ValueRow, error) {
	var out []domain.ValueRow
	for _, kind := range domain.ValueKinds {
		query := fmt.Sprintf("SELECT %s FROM %s v WHERE v.entity_id = $1 ORDER BY v.id",
			valueColumns(kind), pgx.Identifier{kind.TableName()}.Sanitize())
		rows, err := r.list(ctx, kind, query, entityID)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// ListByAttribute returns every row, live or not, stored for an attribute.
func (r *valueRepository) ListByAttribute(ctx context.Context, attr domain.Attribute) ([]domain.ValueRow, error) {
	kind := attr.Type.Kind()
	table, err := valueTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s v WHERE v.attribute_id = $1 ORDER BY v.id",
		valueColumns(kind), pgx.Identifier{table.Name}.Sanitize())
	return r.list(ctx, kind, query, attr.ID)
}

// ListReferencing returns object values of other entities pointing at entityID.
func (r *valueRepository) ListReferencing(ctx context.Context, entityID int64, liveOnly bool) ([]domain.ValueRow, error) {
	kind := domain.ValueKindObject
	query := fmt.Sprintf("SELECT %s FROM %s v WHERE v.value = $1 AND v.entity_id <> $1",
		valueColumns(kind), pgx.Identifier{kind.TableName()}.Sanitize())
	if liveOnly {
		query += " AND v.remove_date IS NULL"
	}
	return r.list(ctx, kind, query+" ORDER BY v.id", entityID)
}

// LastRetired returns the rows of an attribute that were retired together most
// recently.
func (r *valueRepository) LastRetired(ctx context.Context, entityID int64, attr domain.Attribute) ([]domain.ValueRow, error) {
	kind := attr.Type.Kind()
	table, err := valueTable(kind)
	if err != nil {
		return nil, err
	}
	name := pgx.Identifier{table.Name}.Sanitize()
	query := fmt.Sprintf(`SELECT %s FROM %s v
	WHERE v.entity_id = $1 AND v.attribute_id = $2
		AND v.remove_date = (SELECT max(remove_date) FROM %s WHERE entity_id = $1 AND attribute_id = $2)
	ORDER BY v.id`, valueColumns(kind), name, name)
	return r.list(ctx, kind, query, entityID, attr.ID)
}

// Update writes a value row through the audit recorder.
func (r *valueRepository) Update(ctx context.Context, before, after domain.ValueRow) (domain.ValueRow, error) {
	table, err := valueTable(before.Kind)
	if err != nil {
		return domain.ValueRow{}, err
	}
	if err := after.Timeline.Validate(); err != nil {
		return domain.ValueRow{}, err
	}
	changed, closed, err := r.recorder.Update(ctx, r.q, table, valueRow(before), valueRow(after))
	if err != nil {
		return domain.ValueRow{}, fmt.Errorf("failed to update %s %d: %w", table.Name, before.ID, TranslateError(err))
	}
	if !changed {
		return before, nil
	}
	after.Revision = closed + 1
	return after, nil
}

// Delete archives and removes a value row.
func (r *valueRepository) Delete(ctx context.Context, value domain.ValueRow) error {
	table, err := valueTable(value.Kind)
	if err != nil {
		return err
	}
	if _, err := r.recorder.Delete(ctx, r.q, table, valueRow(value)); err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", table.Name, value.ID, TranslateError(err))
	}
	return nil
}

func (r *valueRepository) list(ctx context.Context, kind domain.ValueKind, query string, args ...any) ([]domain.ValueRow, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind.TableName(), err)
	}
	values, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ValueRow, error) {
		return scanValue(row, kind)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind.TableName(), err)
	}
	return values, nil
}

func scanValue(row pgx.Row, kind domain.ValueKind) (domain.ValueRow, error) {
	v := domain.ValueRow{Kind: kind}
	var (
		number int64
		text   string
		when   time.Time
		blob   []byte
		dest   any
	)
	switch kind {
	case domain.ValueKindInteger, domain.ValueKindChoice, domain.ValueKindObject:
		dest = &number
	case domain.ValueKindDecimal, domain.ValueKindString, domain.ValueKindText:
		dest = &text
	case domain.ValueKindDatetime:
		dest = &when
	case domain.ValueKindBlob:
		dest = &blob
	default:
		return domain.ValueRow{}, fmt.Errorf("unknown value kind %q", kind)
	}

	err := row.Scan(
		&v.ID, &v.EntityID, &v.AttributeID, &v.ChoiceID, dest,
		&v.CreateDate, &v.CreateUserID, &v.ModifyDate, &v.ModifyUserID, &v.RemoveDate, &v.RemoveUserID, &v.Revision,
	)
	if err != nil {
		return domain.ValueRow{}, err
	}

	switch kind {
	case domain.ValueKindInteger, domain.ValueKindChoice, domain.ValueKindObject:
		v.Payload = number
	case domain.ValueKindDecimal:
		d, err := decimal.NewFromString(text)
		if err != nil {
			return domain.ValueRow{}, fmt.Errorf("failed to parse decimal %q: %w", text, err)
		}
		v.Payload = d
	case domain.ValueKindString, domain.ValueKindText:
		v.Payload = text
	case domain.ValueKindDatetime:
		v.Payload = when.UTC()
	case domain.ValueKindBlob:
		v.Payload = blob
	}
	return v, nil
}
