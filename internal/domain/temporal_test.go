package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsOfMatches(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	removed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, Live().Matches(created, nil))
	assert.False(t, Live().Matches(created, &removed))
	assert.True(t, Ever().Matches(created, &removed))

	assert.False(t, At(created.Add(-time.Second)).Matches(created, &removed), "before creation")
	assert.True(t, At(created).Matches(created, &removed), "window start is inclusive")
	assert.True(t, At(removed.Add(-time.Second)).Matches(created, &removed))
	assert.False(t, At(removed).Matches(created, &removed), "window end is exclusive")
	assert.True(t, At(removed.AddDate(1, 0, 0)).Matches(created, nil))

	assert.Equal(t, "live", Live().String())
	assert.Equal(t, "ever", Ever().String())
	assert.True(t, strings.HasPrefix(At(created).String(), "2024-01-01"))
}

func TestTimelineTransitions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tl := NewTimeline(t0, 1)
	require.NoError(t, tl.Validate())

	removed := tl.Remove(t0.Add(time.Hour), 2)
	assert.True(t, removed.IsRemoved())
	assert.Equal(t, int64(2), removed.ModifyUserID)
	require.NoError(t, removed.Validate())

	restored := removed.Restore(t0.Add(2*time.Hour), 3)
	assert.False(t, restored.IsRemoved())
	assert.Nil(t, restored.RemoveUserID)
	assert.Equal(t, t0, restored.CreateDate)

	broken := tl
	broken.ModifyDate = t0.Add(-time.Minute)
	require.ErrorIs(t, broken.Validate(), ErrValidation)
}

func TestPayloadEquality(t *testing.T) {
	assert.True(t, PayloadEqual(decimal.RequireFromString("98.6"), decimal.RequireFromString("98.60")))
	assert.Equal(t, PayloadKey(decimal.RequireFromString("98.6")), PayloadKey(decimal.RequireFromString("98.60")))

	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	assert.True(t, PayloadEqual(at, at.In(time.FixedZone("X", 3600))))

	assert.True(t, PayloadEqual([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, PayloadEqual([]byte{1, 2}, "\x01\x02"))
	assert.False(t, PayloadEqual(int64(1), "1"), "kinds never compare equal")
	assert.NotEqual(t, PayloadKey(nil), PayloadKey(""))
}

func TestSchemaVersions(t *testing.T) {
	publish := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	retract := publish.AddDate(0, 6, 0)

	schema := NewSchema("Vitals", " Vital signs ", "", "")
	assert.Equal(t, StorageEAV, schema.Storage)
	assert.Equal(t, "Vital signs", schema.Title)
	require.NoError(t, schema.Validate())
	assert.False(t, schema.IsActiveOn(publish))

	published := schema.WithPublication(&publish, &retract)
	assert.True(t, published.IsActiveOn(publish))
	assert.False(t, published.IsActiveOn(retract))

	backwards := schema.WithPublication(&retract, &publish)
	require.ErrorIs(t, backwards.Validate(), ErrValidation)
	require.ErrorIs(t, schema.WithPublication(nil, &retract).Validate(), ErrValidation)
	require.ErrorIs(t, NewSchema("9lives", "x", "", "").Validate(), ErrValidation)
}

func TestSchemaChangedComparesChecksums(t *testing.T) {
	attr := symptomsAttribute().WithChecksum("Vitals")
	previous := Schema{Name: "Vitals", Attributes: []Attribute{attr}}

	cosmetic := attr
	cosmetic.Title = "Symptoms  "
	next := Schema{Name: "Vitals", Attributes: []Attribute{cosmetic.WithChecksum("Vitals")}}
	assert.False(t, SchemaChanged(previous, next))

	added := next
	added.Attributes = append(added.Attributes, Attribute{Name: "temp", Title: "Temp", Type: AttributeTypeDecimal, Order: 1}.WithChecksum("Vitals"))
	assert.True(t, SchemaChanged(previous, added))

	retyped := attr
	retyped.Type = AttributeTypeString
	assert.True(t, SchemaChanged(previous, Schema{Attributes: []Attribute{retyped.WithChecksum("Vitals")}}))
}

func TestSchemaOrdering(t *testing.T) {
	schema := Schema{Attributes: []Attribute{{Name: "b", Order: 3}, {Name: "a", Order: 1}}}
	ordered := schema.OrderedAttributes()
	assert.Equal(t, "a", ordered[0].Name)
	assert.Equal(t, 4, schema.NextOrder())
	assert.Equal(t, 0, Schema{}.NextOrder())

	_, ok := schema.Attribute("b")
	assert.True(t, ok)
	_, ok = schema.Attribute("z")
	assert.False(t, ok)
}

func TestEntityValidate(t *testing.T) {
	entity := NewEntity(1, " v-1 ", " First ", time.Time{})
	assert.Equal(t, "v-1", entity.Name)
	assert.Equal(t, EntityStatePendingEntry, entity.State)
	require.NoError(t, entity.Validate())

	require.ErrorIs(t, entity.WithState("lost").Validate(), ErrValidation)
	require.ErrorIs(t, NewEntity(0, "x", "", time.Time{}).Validate(), ErrValidation)
	assert.Equal(t, "Vitals-12", EntitySlug("Vitals", 12))
}

func TestDiffRevisions(t *testing.T) {
	base := &Revision{Table: "entity", ID: 7, Revision: 1, Columns: map[string]any{"title": "First", "state": "pending-entry"}}
	target := &Revision{Table: "entity", ID: 7, Revision: 2, Columns: map[string]any{"title": "Second", "state": "pending-entry"}}

	diff := DiffRevisions("entity/7@1", base, "entity/7@2", target)
	assert.Contains(t, diff, "--- entity/7@1\n+++ entity/7@2\n")
	assert.Contains(t, diff, "-  title: \"First\"\n")
	assert.Contains(t, diff, "+  title: \"Second\"\n")
	assert.Contains(t, diff, "   state: \"pending-entry\"\n")

	missing := DiffRevisions("a", nil, "b", target)
	assert.Contains(t, missing, "@@ -1,0 +1,")
	assert.NotContains(t, missing, "\n-")
}
