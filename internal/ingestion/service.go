package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/datastore/internal/datastore"
	"github.com/rpattn/datastore/internal/domain"
	"github.com/rpattn/datastore/pkg/validator"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// CollectionSeparator splits a cell into the members of a collection attribute.
const CollectionSeparator = ";"

// Columns that set entity fields rather than attribute values, unless the
// schema declares an attribute of the same name.
const (
	columnName        = "name"
	columnTitle       = "title"
	columnState       = "state"
	columnCollectDate = "collect_date"
)

// Store is the part of the datastore the importer writes through.
type Store interface {
	GetSchema(ctx context.Context, name string, on *time.Time) (*domain.Schema, error)
	GetEntity(ctx context.Context, name string, asOf domain.AsOf) (*domain.Entity, error)
	CreateEntityWithValues(ctx context.Context, entity domain.Entity, values []datastore.NamedValue) (domain.Entity, error)
}

// Service imports tabular files as records of a schema.
type Service struct {
	store     Store
	validator *validator.ValueValidator
	logger    *slog.Logger
}

// NewService creates a new ingestion service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		validator: validator.NewValueValidator(),
		logger:    logger,
	}
}

// Request describes the ingestion input.
type Request struct {
	SchemaName     string
	FileName       string
	HeaderRowIndex *int
	// On selects the schema version published on that date; nil uses the
	// latest published version.
	On   *time.Time
	Data io.Reader
}

// RowError reports why a data row was not imported.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

// Summary returns ingestion level metrics.
type Summary struct {
	TotalRows      int        `json:"totalRows"`
	ValidRows      int        `json:"validRows"`
	InvalidRows    int        `json:"invalidRows"`
	IgnoredColumns []string   `json:"ignoredColumns,omitempty"`
	Errors         []RowError `json:"errors,omitempty"`
}

type tableData struct {
	headers []string
	rows    [][]string
}

// columnMapping binds a file column to an entity field or an attribute.
type columnMapping struct {
	index int
	field string
	attr  *domain.Attribute
}

// Ingest creates one entity per data row and stores each non-empty cell as the
// value of the matching attribute. A row that fails is reported in the summary
// and leaves nothing behind; the other rows are still imported.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	if req.Data == nil {
		return Summary{}, errors.New("no data provided")
	}
	schema, err := s.store.GetSchema(ctx, req.SchemaName, req.On)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load schema %s: %w", req.SchemaName, err)
	}
	if schema == nil {
		return Summary{}, fmt.Errorf("schema %s is not published", req.SchemaName)
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read upload: %w", err)
	}
	table, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return Summary{}, err
	}

	mappings, ignored := mapColumns(*schema, table.headers)
	summary := Summary{TotalRows: len(table.rows), IgnoredColumns: ignored}
	if len(ignored) > 0 {
		s.logger.Warn("ignoring unknown columns",
			slog.String("schema", schema.Name),
			slog.Any("columns", ignored),
		)
	}

	for i, row := range table.rows {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		rowNumber := i + 1
		if rowErr := s.ingestRow(ctx, *schema, mappings, row, rowNumber); rowErr != nil {
			summary.InvalidRows++
			summary.Errors = append(summary.Errors, *rowErr)
			s.logger.Warn("row rejected",
				slog.String("file", req.FileName),
				slog.Int("row", rowNumber),
				slog.String("column", rowErr.Column),
				slog.String("error", rowErr.Message),
			)
			continue
		}
		summary.ValidRows++
	}

	s.logger.Info("ingestion finished",
		slog.String("schema", schema.Name),
		slog.String("file", req.FileName),
		slog.Int("rows", summary.TotalRows),
		slog.Int("valid", summary.ValidRows),
		slog.Int("invalid", summary.InvalidRows),
	)
	return summary, nil
}

func (s *Service) ingestRow(ctx context.Context, schema domain.Schema, mappings []columnMapping, row []string, rowNumber int) *RowError {
	entity := domain.NewEntity(schema.ID, "", "", time.Time{})
	var values []datastore.NamedValue
	present := make(map[string]bool)

	for _, m := range mappings {
		cell := strings.TrimSpace(row[m.index])
		if cell == "" {
			continue
		}
		if m.attr == nil {
			if err := applyEntityField(&entity, m.field, cell); err != nil {
				return &RowError{Row: rowNumber, Column: m.field, Message: err.Error()}
			}
			continue
		}
		value, err := s.cellValue(ctx, *m.attr, cell)
		if err != nil {
			return &RowError{Row: rowNumber, Column: m.attr.Name, Message: err.Error()}
		}
		values = append(values, datastore.NamedValue{Attribute: m.attr.Name, Value: value})
		present[m.attr.Name] = true
	}

	for _, attr := range schema.Attributes {
		if attr.IsRequired {
			if !present[attr.Name] {
				return &RowError{Row: rowNumber, Column: attr.Name, Message: "is required"}
			}
		}
	}

	if _, err := s.store.CreateEntityWithValues(ctx, entity, values); err != nil {
		rowErr := &RowError{Row: rowNumber, Message: err.Error()}
		var invalid *domain.ValidationError
		if errors.As(err, &invalid) && present[invalid.Field] {
			rowErr.Column = invalid.Field
		}
		return rowErr
	}
	return nil
}

// cellValue turns a cell into the value passed to Put and checks it against
// the attribute before anything is written.
func (s *Service) cellValue(ctx context.Context, attr domain.Attribute, cell string) (any, error) {
	if !attr.IsCollection {
		value, err := s.resolve(ctx, attr, cell)
		if err != nil {
			return nil, err
		}
		if _, err := s.validator.Coerce(attr, value); err != nil {
			return nil, err
		}
		return value, nil
	}

	var members []any
	for _, part := range strings.Split(cell, CollectionSeparator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := s.resolve(ctx, attr, part)
		if err != nil {
			return nil, err
		}
		members = append(members, value)
	}
	if _, err := s.validator.CoerceCollection(attr, members); err != nil {
		return nil, err
	}
	return members, nil
}

// resolve looks up object references given by entity name. Numeric cells are
// taken as entity ids.
func (s *Service) resolve(ctx context.Context, attr domain.Attribute, cell string) (any, error) {
	if attr.Type != domain.AttributeTypeObject {
		return cell, nil
	}
	if id, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return id, nil
	}
	ref, err := s.store.GetEntity(ctx, cell, domain.Live())
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("no live entity named %q", cell)
	}
	return *ref, nil
}

func applyEntityField(entity *domain.Entity, field, cell string) error {
	switch field {
	case columnName:
		entity.Name = cell
	case columnTitle:
		entity.Title = cell
	case columnState:
		state := domain.EntityState(strings.ToLower(cell))
		if !state.IsValid() {
			return fmt.Errorf("unknown state %q", cell)
		}
		entity.State = state
	case columnCollectDate:
		t, err := validator.ParseTime(cell)
		if err != nil {
			return err
		}
		entity.CollectDate = t
	}
	return nil
}

// mapColumns matches sanitized headers to attribute names, case-insensitively,
// then to the entity field columns. Unmatched headers are returned as ignored.
func mapColumns(schema domain.Schema, headers []string) ([]columnMapping, []string) {
	byName := make(map[string]*domain.Attribute, len(schema.Attributes))
	for i := range schema.Attributes {
		byName[strings.ToLower(schema.Attributes[i].Name)] = &schema.Attributes[i]
	}

	var mappings []columnMapping
	var ignored []string
	for idx, header := range headers {
		key := strings.ToLower(header)
		if attr, ok := byName[key]; ok {
			mappings = append(mappings, columnMapping{index: idx, field: attr.Name, attr: attr})
			continue
		}
		switch key {
		case columnName, columnTitle, columnState, columnCollectDate:
			mappings = append(mappings, columnMapping{index: idx, field: key})
		default:
			ignored = append(ignored, header)
		}
	}
	return mappings, ignored
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows, headerRowIndex)
}

// normalizeTable picks the header row, the explicit one or the first non-empty
// row, and pads every data row to the header width.
func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if len(cleanRow(records[*headerRowIndex])) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		dataRows = records[*headerRowIndex+1:]
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			headerRow = row
			dataRows = records[idx+1:]
			break
		}
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)

	rows := make([][]string, 0, len(dataRows))
	for _, row := range dataRows {
		if len(cleanRow(row)) == 0 {
			continue
		}
		rows = append(rows, padRow(row, len(headers)))
	}

	return tableData{headers: headers, rows: rows}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// sanitizeHeaders turns header labels into attribute-style names. Blank
// headers become column_<n>; repeated names get a numeric suffix.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
