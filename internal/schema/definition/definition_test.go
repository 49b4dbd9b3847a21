package definition

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/datastore/internal/domain"
)

const vitalsYAML = `
schemas:
  - name: Site
    title: Site
    attributes:
      - name: code
        title: Code
        type: string
  - name: Vitals
    title: Vital signs
    publish_date: 2024-03-01
    attributes:
      - name: temp
        title: Temperature
        type: decimal
        required: true
      - name: symptoms
        title: Symptoms
        type: choice
        collection: true
        collection_max: 3
        choices: [fever, {name: cough, title: Persistent cough}]
      - name: site
        title: Site
        type: object
        object: Site
`

func TestParseAndConvert(t *testing.T) {
	file, err := Parse(strings.NewReader(vitalsYAML))
	require.NoError(t, err)
	require.Len(t, file.Schemas, 2)

	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	schema, err := file.Schemas[1].ToDomain(func(name string) (int64, bool) {
		return 7, name == "Site"
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "Vitals", schema.Name)
	assert.Equal(t, domain.StorageEAV, schema.Storage)
	require.NotNil(t, schema.PublishDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *schema.PublishDate)
	require.Len(t, schema.Attributes, 3)

	symptoms := schema.Attributes[1]
	assert.Equal(t, 1, symptoms.Order)
	assert.True(t, symptoms.IsCollection)
	require.Len(t, symptoms.Choices, 2)
	assert.Equal(t, domain.Choice{Name: "fever", Title: "fever", Order: 0}, symptoms.Choices[0])
	assert.Equal(t, "Persistent cough", symptoms.Choices[1].Title)
	assert.NotEmpty(t, symptoms.Checksum)

	site := schema.Attributes[2]
	require.NotNil(t, site.ObjectSchemaID)
	assert.Equal(t, int64(7), *site.ObjectSchemaID)

	undated, err := file.Schemas[0].ToDomain(nil, now)
	require.NoError(t, err)
	require.NotNil(t, undated.PublishDate)
	assert.True(t, now.Equal(*undated.PublishDate))
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader("schemas:\n  - name: A\n    title: A\n    atributes: []\n"))
	require.Error(t, err)
}

func TestParseRejectsEmptyAndDuplicates(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	require.Error(t, err)

	_, err = Parse(strings.NewReader("schemas:\n  - {name: A, title: A}\n  - {name: A, title: B}\n"))
	require.Error(t, err)
}

func TestToDomainUnknownObjectTarget(t *testing.T) {
	decl := Schema{Name: "Vitals", Title: "Vitals", Attributes: []Attribute{
		{Name: "site", Title: "Site", Type: "object", Object: "Missing"},
	}}
	_, err := decl.ToDomain(func(string) (int64, bool) { return 0, false }, time.Now())
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(vitalsYAML), 0o600))
	file, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Site"}, file.Schemas[1].ObjectTargets())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

type memoryStore struct {
	schemas map[string]domain.Schema
	created []string
	nextID  int64
}

func (m *memoryStore) GetSchema(_ context.Context, name string, _ *time.Time) (*domain.Schema, error) {
	schema, ok := m.schemas[name]
	if !ok {
		return nil, nil
	}
	return &schema, nil
}

func (m *memoryStore) CreateSchema(_ context.Context, schema domain.Schema) (domain.Schema, error) {
	m.nextID++
	schema.ID = m.nextID
	m.schemas[schema.Name] = schema
	m.created = append(m.created, schema.Name)
	return schema, nil
}

func TestImporterSkipsUnchangedSchemas(t *testing.T) {
	store := &memoryStore{schemas: map[string]domain.Schema{}}
	importer := NewImporter(store, nil)

	file, err := Parse(strings.NewReader(vitalsYAML))
	require.NoError(t, err)

	outcomes, err := importer.Import(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, []string{"Site", "Vitals"}, store.created)

	vitals := store.schemas["Vitals"]
	site, _ := vitals.Attribute("site")
	require.NotNil(t, site.ObjectSchemaID)
	assert.Equal(t, store.schemas["Site"].ID, *site.ObjectSchemaID)

	// Whitespace-only edits keep the checksums, so nothing new is created.
	edited := strings.Replace(vitalsYAML, "title: Temperature", "title: \"  Temperature \"", 1)
	file, err = Parse(strings.NewReader(edited))
	require.NoError(t, err)
	outcomes, err = importer.Import(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Unchanged)
	assert.True(t, outcomes[1].Unchanged)
	assert.Len(t, store.created, 2)

	changed := strings.Replace(vitalsYAML, "type: decimal", "type: integer", 1)
	file, err = Parse(strings.NewReader(changed))
	require.NoError(t, err)
	outcomes, err = importer.Import(context.Background(), file)
	require.NoError(t, err)
	assert.False(t, outcomes[1].Unchanged)
	assert.Equal(t, []string{"Site", "Vitals", "Vitals"}, store.created)
}
