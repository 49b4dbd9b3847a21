package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rpattn/datastore/internal/auth"
	"github.com/rpattn/datastore/internal/config"
	"github.com/rpattn/datastore/internal/datastore"
	"github.com/rpattn/datastore/internal/db"
	"github.com/rpattn/datastore/internal/domain"
	"github.com/rpattn/datastore/internal/metrics"
)

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath  string
	Actor       string
	MetricsFile string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "datastore",
		Short:         "Audited entity-attribute-value record store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath, nil)
			if err != nil {
				return err
			}
			level, err := config.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", ".", "directory holding config.yaml")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", os.Getenv("USER"), "user key changes are blamed on")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newSchemaCommand(opts))
	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newEntityCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// session is an open store with the acting user on its context.
type session struct {
	store    *datastore.Store
	ctx      context.Context
	conn     *db.Connection
	registry *prometheus.Registry
	opts     *rootOptions
}

// open connects to the database and resolves the actor. Commands that only
// read may pass requireActor false.
func (o *rootOptions) open(ctx context.Context, requireActor bool) (*session, error) {
	conn, err := db.NewConnection(ctx, o.cfg.Database, o.logger)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	store := datastore.New(conn,
		datastore.WithLogger(o.logger),
		datastore.WithMetrics(metrics.New(registry)),
		datastore.WithLoaderWait(o.cfg.Loader.Wait),
	)

	s := &session{store: store, ctx: ctx, conn: conn, registry: registry, opts: o}
	if requireActor {
		key := strings.TrimSpace(o.Actor)
		if key == "" {
			conn.Close()
			return nil, fmt.Errorf("--actor is required: %w", auth.ErrMissingActor)
		}
		id, err := store.EnsureUser(ctx, key)
		if err != nil {
			conn.Close()
			return nil, err
		}
		s.ctx = auth.ContextWithActor(ctx, auth.Actor{ID: id, Key: key})
	}
	return s, nil
}

func (s *session) Close() {
	if s.opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(s.opts.MetricsFile, s.registry); err != nil {
			s.opts.logger.Warn("failed to write metrics", slog.Any("error", err))
		}
	}
	s.conn.Close()
}

// parseAsOf reads the --as-of flag: empty means live rows, "ever" means every
// row, anything else is a date or an RFC 3339 timestamp.
func parseAsOf(value string) (domain.AsOf, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "live":
		return domain.Live(), nil
	case "ever", "all":
		return domain.Ever(), nil
	}
	t, err := parseTime(value)
	if err != nil {
		return domain.AsOf{}, err
	}
	return domain.At(t), nil
}

func parseTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", value)
}
