package entityloader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/datastore/internal/domain"
)

// DefaultWait is the batching window used when none is configured.
const DefaultWait = 5 * time.Millisecond

// Fetcher loads entity rows by id under an as-of predicate.
type Fetcher interface {
	GetByIDs(ctx context.Context, ids []int64, asOf domain.AsOf) ([]domain.Entity, error)
}

// EntityLoader batches lookups of entities referenced by object values. One
// loader serves one as-of view.
type EntityLoader struct {
	Loader *dataloader.Loader
}

func NewEntityLoader(repo Fetcher, asOf domain.AsOf, wait time.Duration) *EntityLoader {
	if wait <= 0 {
		wait = DefaultWait
	}

	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		ids := make([]int64, len(keys))
		for i, k := range keys {
			id, err := strconv.ParseInt(k.String(), 10, 64)
			if err != nil {
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid entity id %q: %w", k.String(), err)}
				}
				return results
			}
			ids[i] = id
		}

		entities, err := repo.GetByIDs(ctx, ids, asOf)
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		byID := make(map[int64]domain.Entity, len(entities))
		for _, e := range entities {
			byID[e.ID] = e
		}

		// Results must line up with keys
		for i, id := range ids {
			if e, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: e}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))
	return &EntityLoader{Loader: loader}
}

func key(id int64) dataloader.Key {
	return dataloader.StringKey(strconv.FormatInt(id, 10))
}

// Load returns the entity with id, or nil when it is not visible.
func (l *EntityLoader) Load(ctx context.Context, id int64) (*domain.Entity, error) {
	data, err := l.Loader.Load(ctx, key(id))()
	if err != nil {
		return nil, err
	}
	e, ok := data.(domain.Entity)
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// LoadMany resolves ids in one batch. Ids that are not visible are absent from
// the result.
func (l *EntityLoader) LoadMany(ctx context.Context, ids []int64) (map[int64]domain.Entity, error) {
	out := make(map[int64]domain.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	data, errs := l.Loader.LoadMany(ctx, keys)()
	for i, item := range data {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		if e, ok := item.(domain.Entity); ok {
			out[e.ID] = e
		}
	}
	return out, nil
}
