package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symptomsAttribute() Attribute {
	return Attribute{
		ID:           4,
		Name:         "symptoms",
		Title:        "Symptoms",
		Description:  "Reported at intake",
		Type:         AttributeTypeChoice,
		IsCollection: true,
		Choices: []Choice{
			{Name: "cough", Title: "Cough", Order: 1},
			{Name: "fever", Title: "Fever", Order: 0},
		},
	}
}

func TestChecksumIgnoresCosmeticWhitespace(t *testing.T) {
	base := symptomsAttribute()
	spaced := symptomsAttribute()
	spaced.Title = "  Symptoms "
	spaced.Description = "Reported   at\tintake"

	assert.Equal(t, ComputeChecksum("Vitals", base), ComputeChecksum("Vitals", spaced))
	assert.Len(t, ComputeChecksum("Vitals", base), 32)
}

func TestChecksumTracksSemanticChanges(t *testing.T) {
	base := ComputeChecksum("Vitals", symptomsAttribute())

	retyped := symptomsAttribute()
	retyped.Type = AttributeTypeString
	assert.NotEqual(t, base, ComputeChecksum("Vitals", retyped))

	fewer := symptomsAttribute()
	fewer.Choices = fewer.Choices[:1]
	assert.NotEqual(t, base, ComputeChecksum("Vitals", fewer))

	required := symptomsAttribute()
	required.IsRequired = true
	assert.NotEqual(t, base, ComputeChecksum("Vitals", required))

	assert.NotEqual(t, base, ComputeChecksum("Labs", symptomsAttribute()))
}

func TestChecksumIgnoresChoiceDeclarationOrder(t *testing.T) {
	reordered := symptomsAttribute()
	reordered.Choices[0], reordered.Choices[1] = reordered.Choices[1], reordered.Choices[0]
	assert.Equal(t, ComputeChecksum("Vitals", symptomsAttribute()), ComputeChecksum("Vitals", reordered))
}

func TestVerifyChecksum(t *testing.T) {
	attr := symptomsAttribute().WithChecksum("Vitals")
	require.NoError(t, attr.VerifyChecksum("Vitals"))

	attr.Title = "Changed behind our back"
	err := attr.VerifyChecksum("Vitals")
	require.ErrorIs(t, err, ErrCorruptState)

	var corrupt *CorruptStateError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, int64(4), corrupt.AttributeID)
}

func TestAttributeValidate(t *testing.T) {
	one, two := int64(1), int64(2)
	target := int64(9)

	cases := map[string]Attribute{
		"bad name":          {Name: "1abc", Title: "x", Type: AttributeTypeString},
		"missing title":     {Name: "a", Type: AttributeTypeString},
		"unknown type":      {Name: "a", Title: "A", Type: "money"},
		"min above max":     {Name: "a", Title: "A", Type: AttributeTypeInteger, ValueMin: &two, ValueMax: &one},
		"bounds on single":  {Name: "a", Title: "A", Type: AttributeTypeInteger, CollectionMin: &one},
		"bad validator":     {Name: "a", Title: "A", Type: AttributeTypeString, Validator: "("},
		"choice no choices": {Name: "a", Title: "A", Type: AttributeTypeChoice},
		"object no target":  {Name: "a", Title: "A", Type: AttributeTypeObject},
		"target on string":  {Name: "a", Title: "A", Type: AttributeTypeString, ObjectSchemaID: &target},
		"duplicate choice": {Name: "a", Title: "A", Type: AttributeTypeChoice, Choices: []Choice{
			{Name: "x", Order: 0}, {Name: "x", Order: 1},
		}},
		"duplicate choice order": {Name: "a", Title: "A", Type: AttributeTypeChoice, Choices: []Choice{
			{Name: "x", Order: 0}, {Name: "y", Order: 0},
		}},
	}
	for name, attr := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, attr.Validate(), ErrValidation)
		})
	}

	require.NoError(t, symptomsAttribute().Validate())
}

func TestTypeKinds(t *testing.T) {
	assert.Equal(t, ValueKindInteger, AttributeTypeBoolean.Kind())
	assert.Equal(t, ValueKindDatetime, AttributeTypeDate.Kind())
	assert.Equal(t, ValueKindChoice, AttributeTypeChoice.Kind())
	assert.Equal(t, "value_object", AttributeTypeObject.Kind().TableName())
	for _, typ := range AttributeTypes {
		assert.True(t, typ.IsValid(), typ)
	}
}
