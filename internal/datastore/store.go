// Package datastore is the EAV storage engine: versioned schemas, temporal
// entities, type-dispatched values and their audit history. Every operation
// runs in one transaction; every mutation is blamed on the actor carried by the
// context and stamped with the transaction clock.
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/datastore/internal/audit"
	"github.com/rpattn/datastore/internal/auth"
	"github.com/rpattn/datastore/internal/entityloader"
	"github.com/rpattn/datastore/internal/metrics"
	"github.com/rpattn/datastore/internal/repository"
	"github.com/rpattn/datastore/pkg/validator"
)

// DefaultSnapshotDepth bounds how many object attributes a snapshot follows.
const DefaultSnapshotDepth = 3

// Transactor runs fn inside a database transaction. db.Connection satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Store is the entry point of the engine.
type Store struct {
	db            Transactor
	logger        *slog.Logger
	metrics       *metrics.Metrics
	registry      *audit.Registry
	values        *validator.ValueValidator
	loaderWait    time.Duration
	snapshotDepth int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithLoaderWait sets the batching window used to resolve object references.
func WithLoaderWait(wait time.Duration) Option {
	return func(s *Store) {
		s.loaderWait = wait
	}
}

// WithSnapshotDepth sets how many levels of object attributes Snapshot expands.
func WithSnapshotDepth(depth int) Option {
	return func(s *Store) {
		if depth >= 0 {
			s.snapshotDepth = depth
		}
	}
}

// New creates a store over db.
func New(db Transactor, opts ...Option) *Store {
	s := &Store{
		db:            db,
		logger:        slog.Default(),
		registry:      repository.NewAuditRegistry(),
		values:        validator.NewValueValidator(),
		loaderWait:    entityloader.DefaultWait,
		snapshotDepth: DefaultSnapshotDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates any missing audit tables and columns. Live tables come from the
// migrations, which must have run first.
func (s *Store) Init(ctx context.Context) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.registry.Ensure(ctx, tx); err != nil {
			return err
		}
		s.logger.Info("audit storage ready", slog.Int("tables", len(s.registry.Tables())))
		return nil
	})
}

// unit is one operation's transaction-scoped state.
type unit struct {
	repos  repository.Repositories
	stamp  repository.Stamp
	logger *slog.Logger
}

// write runs a mutating operation. It fails with auth.ErrMissingActor before
// touching the database when the context carries no actor.
func (s *Store) write(ctx context.Context, op string, fn func(u *unit) error) error {
	actor, err := auth.RequireActor(ctx)
	if err != nil {
		return err
	}
	return s.run(ctx, op, actor.ID, fn)
}

// read runs a read-only operation; no actor is needed.
func (s *Store) read(ctx context.Context, op string, fn func(u *unit) error) error {
	return s.run(ctx, op, 0, fn)
}

func (s *Store) run(ctx context.Context, op string, userID int64, fn func(u *unit) error) error {
	start := time.Now()
	defer s.metrics.ObserveOperation(op, start)

	logger := s.logger.With(slog.String("op", op), slog.String("unit_id", uuid.NewString()))
	recorder := audit.NewRecorder(audit.WithLogger(logger), audit.WithObserver(s.metrics.AuditRevision))

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		now, err := repository.Now(ctx, tx)
		if err != nil {
			return err
		}
		return fn(&unit{
			repos:  repository.New(tx, recorder, s.registry),
			stamp:  repository.Stamp{Now: now, UserID: userID},
			logger: logger,
		})
	})
	if err != nil {
		logger.Debug("operation failed", slog.Any("error", err))
		return repository.TranslateError(err)
	}
	return nil
}

// EnsureUser returns the id of the user with key, creating it if needed. The
// id is what callers place on the context with auth.ContextWithActor.
func (s *Store) EnsureUser(ctx context.Context, key string) (int64, error) {
	var id int64
	err := s.read(ctx, "ensure_user", func(u *unit) error {
		var err error
		id, err = u.repos.Users.Ensure(ctx, key)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to ensure user %q: %w", key, err)
	}
	return id, nil
}
