package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/datastore/internal/db"
	"github.com/rpattn/datastore/internal/domain"
	"github.com/rpattn/datastore/internal/export"
	"github.com/rpattn/datastore/internal/ingestion"
	"github.com/rpattn/datastore/internal/schema/definition"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded migrations and create audit tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down {
				return db.DropMigrations(opts.cfg.Database, opts.logger)
			}
			if err := db.RunMigrations(opts.cfg.Database, opts.logger); err != nil {
				return err
			}
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.store.Init(s.ctx)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll every migration back")
	return cmd
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create missing audit tables and columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.store.Init(s.ctx)
		},
	}
}

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage schema versions",
	}

	importCmd := &cobra.Command{
		Use:   "import <definition.yaml>...",
		Short: "Create schema versions from definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			importer := definition.NewImporter(s.store, opts.logger)
			for _, path := range args {
				file, err := definition.Load(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				outcomes, err := importer.Import(s.ctx, file)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				for _, outcome := range outcomes {
					status := "created"
					if outcome.Unchanged {
						status = "unchanged"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", outcome.Name, outcome.SchemaID, status)
				}
			}
			return nil
		},
	}

	versionsCmd := &cobra.Command{
		Use:   "versions <name>",
		Short: "List every version of a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			versions, err := s.store.ListSchemaVersions(s.ctx, args[0])
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%d attributes\n", v.ID, formatDay(v.PublishDate), formatDay(v.RetractDate), len(v.Attributes))
			}
			return nil
		},
	}

	var retract bool
	var on string
	publishCmd := &cobra.Command{
		Use:   "publish <schema-id>",
		Short: "Publish or retract a schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid schema id %q", args[0])
			}
			date := time.Now().UTC()
			if on != "" {
				if date, err = parseTime(on); err != nil {
					return err
				}
			}
			s, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			if retract {
				_, err = s.store.RetractSchema(s.ctx, id, date)
			} else {
				_, err = s.store.PublishSchema(s.ctx, id, date)
			}
			return err
		},
	}
	publishCmd.Flags().BoolVar(&retract, "retract", false, "retract instead of publish")
	publishCmd.Flags().StringVar(&on, "on", "", "effective date (default now)")

	cmd.AddCommand(importCmd, versionsCmd, publishCmd)
	return cmd
}

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var headerRow int
	var on string
	cmd := &cobra.Command{
		Use:   "ingest <schema> <file>",
		Short: "Import records from a CSV or XLSX file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[1], err)
			}
			defer file.Close()

			req := ingestion.Request{
				SchemaName: args[0],
				FileName:   filepath.Base(args[1]),
				Data:       file,
			}
			if cmd.Flags().Changed("header-row") {
				req.HeaderRowIndex = &headerRow
			}
			if on != "" {
				t, err := parseTime(on)
				if err != nil {
					return err
				}
				req.On = &t
			}

			s, err := opts.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := ingestion.NewService(s.store, opts.logger).Ingest(s.ctx, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, summary)
		},
	}
	cmd.Flags().IntVar(&headerRow, "header-row", 0, "zero-based index of the header row (detected when unset)")
	cmd.Flags().StringVar(&on, "on", "", "use the schema version published on this date")
	return cmd
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var asOf, format, output string
	cmd := &cobra.Command{
		Use:   "export <schema>",
		Short: "Export the records of a schema as they were at a point in time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			service := export.NewService(s.store,
				export.WithExportDirectory(opts.cfg.Export.Directory),
				export.WithLogger(opts.logger),
			)
			req := export.Request{SchemaName: args[0], AsOf: predicate, Format: f}
			if output == "-" {
				_, err := service.Write(s.ctx, req, cmd.OutOrStdout())
				return err
			}
			result, err := service.ExportFile(s.ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "live (default), ever, or a date/timestamp")
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to stdout with -, otherwise into export.directory")
	return cmd
}

func newEntityCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Inspect and change the lifecycle of records",
	}

	var asOf string
	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a record with all of its values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			entity, err := s.store.GetEntity(s.ctx, args[0], predicate)
			if err != nil {
				return err
			}
			if entity == nil {
				return fmt.Errorf("entity %s not found (%s)", args[0], predicate)
			}
			record, err := s.store.Snapshot(s.ctx, *entity, predicate)
			if err != nil {
				return err
			}
			return writeJSON(cmd, record)
		},
	}
	showCmd.Flags().StringVar(&asOf, "as-of", "", "live (default), ever, or a date/timestamp")

	lifecycle := func(use, short string, run func(s *session, name string) (int, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <name>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := opts.open(cmd.Context(), true)
				if err != nil {
					return err
				}
				defer s.Close()
				n, err := run(s, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows\n", n)
				return nil
			},
		}
	}

	cmd.AddCommand(showCmd,
		lifecycle("retire", "Retire the live version of a record", func(s *session, name string) (int, error) {
			return s.store.RetireEntity(s.ctx, name)
		}),
		lifecycle("restore", "Restore the most recently retired version of a record", func(s *session, name string) (int, error) {
			return s.store.RestoreEntity(s.ctx, name)
		}),
		lifecycle("purge", "Delete every version of a record and its values", func(s *session, name string) (int, error) {
			return s.store.PurgeEntity(s.ctx, name, domain.Ever())
		}),
	)
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "history <table> <id>",
		Short: "List audit revisions of a row, or diff two of them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[1])
			}
			s, err := opts.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			if from > 0 || to > 0 {
				diff, err := s.store.Diff(s.ctx, args[0], id, from, to)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), diff)
				return nil
			}
			revisions, err := s.store.History(s.ctx, args[0], id)
			if err != nil {
				return err
			}
			return writeJSON(cmd, revisions)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "base revision of a diff")
	cmd.Flags().IntVar(&to, "to", 0, "target revision of a diff")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatDay(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}
