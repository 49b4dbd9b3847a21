package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/datastore/internal/datastore"
	"github.com/rpattn/datastore/internal/domain"
	"github.com/rpattn/datastore/pkg/validator"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for formats other than csv and xlsx.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat accepts a format name or a file extension.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), ".")) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
}

// Entity columns written before the attribute columns.
var entityHeaders = []string{"name", "title", "state", "collect_date"}

// Source is the part of the datastore an export reads from.
type Source interface {
	GetSchema(ctx context.Context, name string, on *time.Time) (*domain.Schema, error)
	ListEntities(ctx context.Context, schemaName string, asOf domain.AsOf) ([]domain.Entity, error)
	Snapshot(ctx context.Context, entity domain.Entity, asOf domain.AsOf) (datastore.Record, error)
}

// Service writes the records of a schema, as they were at a point in time, to
// CSV or XLSX.
type Service struct {
	source    Source
	exportDir string
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(source Source, opts ...Option) *Service {
	service := &Service{
		source:    source,
		exportDir: filepath.Join(os.TempDir(), "datastore-exports"),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Request selects what to export.
type Request struct {
	SchemaName string
	AsOf       domain.AsOf
	Format     Format
}

// Result describes a finished export.
type Result struct {
	Rows int
	Path string
}

// table is the in-memory shape shared by both writers.
type table struct {
	headers []string
	rows    [][]string
}

// Write exports to w. Columns are the entity fields followed by the public
// attributes of the schema version in effect, in display order.
func (s *Service) Write(ctx context.Context, req Request, w io.Writer) (Result, error) {
	t, err := s.build(ctx, req)
	if err != nil {
		return Result{}, err
	}
	switch req.Format {
	case FormatCSV, "":
		err = writeCSV(w, t)
	case FormatXLSX:
		err = writeXLSX(w, req.SchemaName, t)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Rows: len(t.rows)}, nil
}

// ExportFile exports into the export directory. The file only appears under its
// final name once it is completely written.
func (s *Service) ExportFile(ctx context.Context, req Request) (Result, error) {
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if err := s.ensureExportDirectory(); err != nil {
		return Result{}, err
	}
	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("%s-*.%s", sanitizeFileComponent(req.SchemaName), req.Format))
	if err != nil {
		return Result{}, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	buffered := bufio.NewWriterSize(tempFile, 1<<20)
	result, err := s.Write(ctx, req, buffered)
	if err != nil {
		return Result{}, err
	}
	if err := buffered.Flush(); err != nil {
		return Result{}, fmt.Errorf("flush export file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return Result{}, fmt.Errorf("sync export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return Result{}, fmt.Errorf("close export file: %w", err)
	}

	finalPath := filepath.Join(s.exportDir, s.finalFileName(req))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return Result{}, fmt.Errorf("promote export file: %w", err)
	}
	cleanup = false
	result.Path = finalPath

	s.logger.Info("export completed",
		slog.String("schema", req.SchemaName),
		slog.String("as_of", req.AsOf.String()),
		slog.Int("rows", result.Rows),
		slog.String("path", finalPath),
	)
	return result, nil
}

func (s *Service) build(ctx context.Context, req Request) (table, error) {
	schema, err := s.source.GetSchema(ctx, req.SchemaName, req.AsOf.At)
	if err != nil {
		return table{}, fmt.Errorf("load schema %s: %w", req.SchemaName, err)
	}
	if schema == nil {
		return table{}, fmt.Errorf("schema %s is not published", req.SchemaName)
	}
	attrs := publicAttributes(*schema)

	t := table{headers: append([]string(nil), entityHeaders...)}
	for _, attr := range attrs {
		t.headers = append(t.headers, attr.Name)
	}

	entities, err := s.source.ListEntities(ctx, req.SchemaName, req.AsOf)
	if err != nil {
		return table{}, fmt.Errorf("list entities: %w", err)
	}
	for _, entity := range entities {
		if ctx.Err() != nil {
			return table{}, ctx.Err()
		}
		record, err := s.source.Snapshot(ctx, entity, req.AsOf)
		if err != nil {
			return table{}, fmt.Errorf("snapshot %s: %w", entity.Name, err)
		}
		row := []string{
			entity.Name,
			entity.Title,
			string(entity.State),
			formatDate(entity.CollectDate),
		}
		for _, attr := range attrs {
			row = append(row, formatValue(attr, record.Values[attr.Name]))
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func publicAttributes(schema domain.Schema) []domain.Attribute {
	var out []domain.Attribute
	for _, attr := range schema.OrderedAttributes() {
		if !attr.IsPrivate {
			out = append(out, attr)
		}
	}
	return out
}

func writeCSV(w io.Writer, t table) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(t.headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range t.rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("write entity row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, sheetName string, t table) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sanitizeSheetName(sheetName)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open sheet writer: %w", err)
	}
	for i, values := range append([][]string{t.headers}, t.rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]any, len(values))
		for j, v := range values {
			row[j] = v
		}
		if err := stream.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (s *Service) ensureExportDirectory() error {
	if strings.TrimSpace(s.exportDir) == "" {
		return errors.New("export directory is not configured")
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	return nil
}

func (s *Service) finalFileName(req Request) string {
	base := sanitizeFileComponent(req.SchemaName)
	stamp := s.now().UTC()
	if req.AsOf.At != nil {
		stamp = req.AsOf.At.UTC()
	}
	return fmt.Sprintf("%s-%s.%s", base, stamp.Format("20060102T150405Z"), req.Format)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

// sanitizeSheetName fits a sheet name to Excel's 31 character limit.
func sanitizeSheetName(value string) string {
	value = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(value))
	if value == "" {
		return "Sheet1"
	}
	if len(value) > 31 {
		value = value[:31]
	}
	return value
}

// formatValue renders a snapshot value the way ingestion reads it back:
// collections joined with ";", object references by entity name.
func formatValue(attr domain.Attribute, value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, formatValue(attr, item))
		}
		return strings.Join(parts, ";")
	case datastore.Record:
		return v.Entity.Name
	case domain.Entity:
		return v.Name
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		if attr.Type == domain.AttributeTypeDate {
			return formatDate(v.UTC())
		}
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		return validator.CanonicalText(v)
	}
}
