package ingestion

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/datastore/internal/datastore"
	"github.com/rpattn/datastore/internal/domain"
)

type stubStore struct {
	schema   *domain.Schema
	entities map[string]domain.Entity
	values   map[string]map[string]any
	failPut  string
	rejected int
	nextID   int64
}

func newStubStore(schema domain.Schema) *stubStore {
	return &stubStore{
		schema:   &schema,
		entities: make(map[string]domain.Entity),
		values:   make(map[string]map[string]any),
	}
}

func (s *stubStore) GetSchema(_ context.Context, name string, _ *time.Time) (*domain.Schema, error) {
	if s.schema == nil || s.schema.Name != name {
		return nil, nil
	}
	return s.schema, nil
}

func (s *stubStore) GetEntity(_ context.Context, name string, _ domain.AsOf) (*domain.Entity, error) {
	e, ok := s.entities[name]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *stubStore) CreateEntityWithValues(_ context.Context, entity domain.Entity, values []datastore.NamedValue) (domain.Entity, error) {
	s.nextID++
	entity.ID = s.nextID
	if entity.Name == "" {
		entity.Name = domain.EntitySlug(s.schema.Name, entity.ID)
	}
	if _, exists := s.entities[entity.Name]; exists {
		return domain.Entity{}, domain.NewValidationError("name", "entity %s is already live", entity.Name)
	}
	stored := make(map[string]any)
	for _, v := range values {
		if v.Attribute == s.failPut {
			s.rejected++
			return domain.Entity{}, domain.NewValidationError(v.Attribute, "rejected by store")
		}
		stored[v.Attribute] = v.Value
	}
	s.entities[entity.Name] = entity
	s.values[entity.Name] = stored
	return entity, nil
}

func vitalsSchema() domain.Schema {
	lowest := int64(20)
	return domain.Schema{
		ID:   1,
		Name: "Vitals",
		Attributes: []domain.Attribute{
			{ID: 10, Name: "temp", Title: "Temperature", Type: domain.AttributeTypeDecimal, IsRequired: true},
			{ID: 11, Name: "pulse", Title: "Pulse", Type: domain.AttributeTypeInteger, ValueMin: &lowest, Order: 1},
			{ID: 12, Name: "symptoms", Title: "Symptoms", Type: domain.AttributeTypeChoice, IsCollection: true, Order: 2,
				Choices: []domain.Choice{{ID: 1, Name: "fever"}, {ID: 2, Name: "cough", Order: 1}}},
		},
	}
}

func TestServiceIngestCSV(t *testing.T) {
	store := newStubStore(vitalsSchema())
	service := NewService(store, nil)

	data := "\xEF\xBB\xBFName,Temp,Pulse,Symptoms,Comment\n" +
		"v-1,98.6,72,fever; cough,ok\n" +
		",,,,\n" +
		"v-2,99.1,,cough,\n"

	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Vitals",
		FileName:   "vitals.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.TotalRows != 2 || summary.ValidRows != 2 || summary.InvalidRows != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.IgnoredColumns) != 1 || summary.IgnoredColumns[0] != "Comment" {
		t.Fatalf("expected Comment to be ignored, got %v", summary.IgnoredColumns)
	}

	first := store.values["v-1"]
	if first["temp"] != "98.6" || first["pulse"] != "72" {
		t.Fatalf("unexpected values for v-1: %+v", first)
	}
	symptoms, ok := first["symptoms"].([]any)
	if !ok || len(symptoms) != 2 || symptoms[0] != "fever" || symptoms[1] != "cough" {
		t.Fatalf("unexpected symptoms: %#v", first["symptoms"])
	}
	if _, ok := store.values["v-2"]["pulse"]; ok {
		t.Fatalf("empty cells must not be stored")
	}
}

func TestServiceIngestReportsInvalidRows(t *testing.T) {
	store := newStubStore(vitalsSchema())
	service := NewService(store, nil)

	data := `temp,pulse,symptoms
98.6,10,
,72,
warm,72,
98.2,80,rash
97.9,65,fever
`
	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Vitals",
		FileName:   "vitals.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.TotalRows != 5 || summary.ValidRows != 1 || summary.InvalidRows != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	wantColumns := []string{"pulse", "temp", "temp", "symptoms"}
	for i, rowErr := range summary.Errors {
		if rowErr.Row != i+1 || rowErr.Column != wantColumns[i] {
			t.Fatalf("unexpected error %d: %+v", i, rowErr)
		}
	}
	if len(store.entities) != 1 {
		t.Fatalf("expected only the valid row to be created, got %d", len(store.entities))
	}
}

func TestServiceIngestRejectsRowAsOneUnit(t *testing.T) {
	store := newStubStore(vitalsSchema())
	store.failPut = "pulse"
	service := NewService(store, nil)

	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Vitals",
		FileName:   "vitals.csv",
		Data:       strings.NewReader("temp,pulse\n98.6,72\n"),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.InvalidRows != 1 || store.rejected != 1 {
		t.Fatalf("expected the row to fail, got %+v", summary)
	}
	if got := summary.Errors[0].Column; got != "pulse" {
		t.Fatalf("expected the error on pulse, got %q", got)
	}
	if len(store.entities) != 0 {
		t.Fatalf("expected no entity to be left behind, got %v", store.entities)
	}
}

func TestServiceIngestXLSX(t *testing.T) {
	store := newStubStore(vitalsSchema())
	service := NewService(store, nil)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Vitals export"},
		{"generated 2024-03-06"},
		{"temp", "pulse", "collect date"},
		{"98.6", "72", "2024-03-05"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	headerRow := 2
	summary, err := service.Ingest(context.Background(), Request{
		SchemaName:     "Vitals",
		FileName:       "vitals.xlsx",
		HeaderRowIndex: &headerRow,
		Data:           &buf,
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.ValidRows != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, e := range store.entities {
		want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
		if !e.CollectDate.Equal(want) {
			t.Fatalf("expected collect date %v, got %v", want, e.CollectDate)
		}
	}
}

func TestServiceIngestRejectsUnknownSchemaAndFormat(t *testing.T) {
	service := NewService(newStubStore(vitalsSchema()), nil)

	_, err := service.Ingest(context.Background(), Request{SchemaName: "Labs", FileName: "x.csv", Data: strings.NewReader("a\n1\n")})
	if err == nil {
		t.Fatalf("expected an error for an unknown schema")
	}

	_, err = service.Ingest(context.Background(), Request{SchemaName: "Vitals", FileName: "x.json", Data: strings.NewReader("{}")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSanitizeHeaders(t *testing.T) {
	got := sanitizeHeaders([]string{" Collect Date ", "a.b", "", "x", "x"})
	want := []string{"Collect_Date", "a_b", "column_3", "x", "x_2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("header %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
