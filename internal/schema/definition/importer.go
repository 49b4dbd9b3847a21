package definition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpattn/datastore/internal/domain"
)

// Store is the part of the datastore an import writes to.
type Store interface {
	GetSchema(ctx context.Context, name string, on *time.Time) (*domain.Schema, error)
	CreateSchema(ctx context.Context, schema domain.Schema) (domain.Schema, error)
}

// Outcome reports what an import did with one declared schema.
type Outcome struct {
	Name      string
	SchemaID  int64
	Unchanged bool
}

// Importer creates schema versions from definition files.
type Importer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewImporter(store Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, logger: logger, now: time.Now}
}

// Import creates a new version of every declared schema, in file order. A
// declaration whose attribute checksums match the latest published version is
// skipped so re-importing an unchanged file creates nothing. Object attributes
// may reference schemas declared earlier in the same file or already stored.
func (im *Importer) Import(ctx context.Context, file *File) ([]Outcome, error) {
	now := im.now()
	ids := make(map[string]int64, len(file.Schemas))
	var outcomes []Outcome

	for _, decl := range file.Schemas {
		for _, target := range decl.ObjectTargets() {
			if _, ok := ids[target]; ok {
				continue
			}
			existing, err := im.store.GetSchema(ctx, target, nil)
			if err != nil {
				return outcomes, fmt.Errorf("failed to resolve schema %s: %w", target, err)
			}
			if existing != nil {
				ids[target] = existing.ID
			}
		}

		schema, err := decl.ToDomain(func(name string) (int64, bool) {
			id, ok := ids[name]
			return id, ok
		}, now)
		if err != nil {
			return outcomes, fmt.Errorf("schema %s: %w", decl.Name, err)
		}

		current, err := im.store.GetSchema(ctx, schema.Name, nil)
		if err != nil {
			return outcomes, fmt.Errorf("failed to load schema %s: %w", schema.Name, err)
		}
		if current != nil && !domain.SchemaChanged(*current, schema) {
			ids[schema.Name] = current.ID
			outcomes = append(outcomes, Outcome{Name: schema.Name, SchemaID: current.ID, Unchanged: true})
			im.logger.Info("schema unchanged", slog.String("schema", schema.Name), slog.Int64("schema_id", current.ID))
			continue
		}

		created, err := im.store.CreateSchema(ctx, schema)
		if err != nil {
			return outcomes, fmt.Errorf("failed to create schema %s: %w", schema.Name, err)
		}
		ids[created.Name] = created.ID
		outcomes = append(outcomes, Outcome{Name: created.Name, SchemaID: created.ID})
		im.logger.Info("schema imported",
			slog.String("schema", created.Name),
			slog.Int64("schema_id", created.ID),
			slog.Int("attributes", len(created.Attributes)),
		)
	}
	return outcomes, nil
}
