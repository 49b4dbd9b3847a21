package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/domain"
)

// historyRepository implements HistoryRepository interface
type historyRepository struct {
	q        DBTX
	registry *audit.Registry
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(q DBTX, registry *audit.Registry) HistoryRepository {
	return &historyRepository{q: q, registry: registry}
}

// List returns the archived revisions of row id of table, oldest first.
func (r *historyRepository) List(ctx context.Context, table string, id int64) ([]domain.Revision, error) {
	t, ok := r.registry.Lookup(table)
	if !ok {
		return nil, domain.NewValidationError("table", "%q is not audited", table)
	}
	entries, err := audit.History(ctx, r.q, t, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list history of %s %d: %w", table, id, err)
	}
	revisions := make([]domain.Revision, len(entries))
	for i, entry := range entries {
		revisions[i] = domain.Revision{
			Table:    table,
			ID:       id,
			Revision: entry.Revision,
			Columns:  entry.Columns,
		}
	}
	return revisions, nil
}
