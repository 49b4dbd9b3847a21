package datastore

import (
	"context"
	"fmt"

	"github.com/rpattn/datastore/internal/domain"
)

// History lists the archived revisions of one row of an audited table, oldest
// first. Each revision holds the row as it was before the change that closed it.
func (s *Store) History(ctx context.Context, table string, id int64) ([]domain.Revision, error) {
	var revisions []domain.Revision
	err := s.read(ctx, "history", func(u *unit) error {
		var err error
		revisions, err = u.repos.History.List(ctx, table, id)
		return err
	})
	return revisions, err
}

// Diff renders a unified diff between two archived revisions of a row. A
// revision that was never archived diffs as empty content.
func (s *Store) Diff(ctx context.Context, table string, id int64, from, to int) (string, error) {
	revisions, err := s.History(ctx, table, id)
	if err != nil {
		return "", err
	}
	base := findRevision(revisions, from)
	target := findRevision(revisions, to)
	return domain.DiffRevisions(
		fmt.Sprintf("%s/%d@%d", table, id, from), base,
		fmt.Sprintf("%s/%d@%d", table, id, to), target,
	), nil
}

func findRevision(revisions []domain.Revision, n int) *domain.Revision {
	for i := range revisions {
		if revisions[i].Revision == n {
			return &revisions[i]
		}
	}
	return nil
}
