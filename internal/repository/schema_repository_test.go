package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/datastore/internal/domain"
)

type storedAttributes struct {
	AttributeRepository
	attrs []domain.Attribute
}

func (s storedAttributes) ListBySchema(context.Context, int64) ([]domain.Attribute, error) {
	return s.attrs, nil
}

func temperatureAttribute() domain.Attribute {
	return domain.Attribute{
		ID:    21,
		Name:  "temp",
		Title: "Temperature",
		Type:  domain.AttributeTypeDecimal,
	}.WithChecksum("Vitals")
}

func TestLoadAttributesVerifiesChecksums(t *testing.T) {
	repo := &schemaRepository{attributes: storedAttributes{attrs: []domain.Attribute{temperatureAttribute()}}}

	schema := domain.Schema{ID: 1, Name: "Vitals"}
	require.NoError(t, repo.loadAttributes(context.Background(), &schema))
	require.Len(t, schema.Attributes, 1)
}

func TestLoadAttributesRejectsTamperedRows(t *testing.T) {
	tampered := temperatureAttribute()
	tampered.Type = domain.AttributeTypeInteger

	repo := &schemaRepository{attributes: storedAttributes{attrs: []domain.Attribute{tampered}}}
	schema := domain.Schema{ID: 1, Name: "Vitals"}

	err := repo.loadAttributes(context.Background(), &schema)
	require.ErrorIs(t, err, domain.ErrCorruptState)

	var corrupt *domain.CorruptStateError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, int64(21), corrupt.AttributeID)
	assert.Empty(t, schema.Attributes, "a corrupt schema is not handed out")
}

func TestLoadAttributesChecksumIsScopedToSchemaName(t *testing.T) {
	repo := &schemaRepository{attributes: storedAttributes{attrs: []domain.Attribute{temperatureAttribute()}}}
	renamed := domain.Schema{ID: 1, Name: "Labs"}

	require.ErrorIs(t, repo.loadAttributes(context.Background(), &renamed), domain.ErrCorruptState)
}
