package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/datastore/internal/domain"
)

// assignmentRepository implements AssignmentRepository interface
type assignmentRepository struct {
	q DBTX
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(q DBTX) AssignmentRepository {
	return &assignmentRepository{q: q}
}

// List reports which attributes an entity holds values for under asOf, without
// scanning each value table separately.
func (r *assignmentRepository) List(ctx context.Context, entityID int64, asOf domain.AsOf) ([]domain.Assignment, error) {
	args := []any{entityID}
	query := `SELECT DISTINCT a.entity_id, a.attribute_id, a.kind
FROM assignment a
JOIN entity e ON e.id = a.entity_id
WHERE a.entity_id = $1 AND ` + asOfClause("a", asOf, &args) + " AND " + asOfClause("e", asOf, &args) +
		" ORDER BY a.attribute_id"

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	assignments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Assignment, error) {
		var a domain.Assignment
		var kind string
		if err := row.Scan(&a.EntityID, &a.AttributeID, &kind); err != nil {
			return domain.Assignment{}, err
		}
		a.Kind = domain.ValueKind(kind)
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return assignments, nil
}
