package domain

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var attributeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Attribute is a typed field declared by a schema version.
type Attribute struct {
	ID             int64         `json:"id"`
	SchemaID       int64         `json:"schema_id"`
	Name           string        `json:"name"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Type           AttributeType `json:"type"`
	ObjectSchemaID *int64        `json:"object_schema_id,omitempty"`
	IsCollection   bool          `json:"is_collection"`
	IsRequired     bool          `json:"is_required"`
	IsPrivate      bool          `json:"is_private"`
	ValueMin       *int64        `json:"value_min,omitempty"`
	ValueMax       *int64        `json:"value_max,omitempty"`
	CollectionMin  *int64        `json:"collection_min,omitempty"`
	CollectionMax  *int64        `json:"collection_max,omitempty"`
	Validator      string        `json:"validator,omitempty"`
	Order          int           `json:"order"`
	Checksum       string        `json:"checksum"`
	Choices        []Choice      `json:"choices,omitempty"`
	Timeline
	Revision int `json:"revision"`
}

// Choice is a named legal value of a constrained attribute.
type Choice struct {
	ID          int64  `json:"id"`
	AttributeID int64  `json:"attribute_id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Order       int    `json:"order"`
	Timeline
	Revision int `json:"revision"`
}

// Validate checks the attribute definition without touching the database.
func (a Attribute) Validate() error {
	if !attributeNamePattern.MatchString(a.Name) || len(a.Name) > 100 {
		return NewValidationError("name", "%q is not a valid attribute name", a.Name)
	}
	if strings.TrimSpace(a.Title) == "" {
		return NewValidationError(a.Name+".title", "is required")
	}
	if !a.Type.IsValid() {
		return NewValidationError(a.Name+".type", "unknown attribute type %q", a.Type)
	}
	if a.Order < 0 {
		return NewValidationError(a.Name+".order", "must not be negative")
	}
	if a.ValueMin != nil && a.ValueMax != nil && *a.ValueMin > *a.ValueMax {
		return NewValidationError(a.Name+".value_min", "must not exceed value_max")
	}
	if a.CollectionMin != nil && a.CollectionMax != nil && *a.CollectionMin > *a.CollectionMax {
		return NewValidationError(a.Name+".collection_min", "must not exceed collection_max")
	}
	if !a.IsCollection && (a.CollectionMin != nil || a.CollectionMax != nil) {
		return NewValidationError(a.Name+".collection_min", "collection bounds require a collection attribute")
	}
	if a.Validator != "" {
		if _, err := regexp.Compile(a.Validator); err != nil {
			return NewValidationError(a.Name+".validator", "invalid pattern: %v", err)
		}
	}
	if a.Type == AttributeTypeChoice && len(a.Choices) == 0 {
		return NewValidationError(a.Name+".choices", "choice attributes need at least one choice")
	}
	if a.Type == AttributeTypeObject && a.ObjectSchemaID == nil {
		return NewValidationError(a.Name+".object_schema_id", "object attributes need a target schema")
	}
	if a.Type != AttributeTypeObject && a.ObjectSchemaID != nil {
		return NewValidationError(a.Name+".object_schema_id", "only object attributes may reference a schema")
	}

	names := make(map[string]struct{}, len(a.Choices))
	orders := make(map[int]struct{}, len(a.Choices))
	for _, choice := range a.Choices {
		if strings.TrimSpace(choice.Name) == "" {
			return NewValidationError(a.Name+".choices", "choice name is required")
		}
		if _, dup := names[choice.Name]; dup {
			return NewValidationError(a.Name+".choices", "duplicate choice name %q", choice.Name)
		}
		if _, dup := orders[choice.Order]; dup {
			return NewValidationError(a.Name+".choices", "duplicate choice order %d", choice.Order)
		}
		names[choice.Name] = struct{}{}
		orders[choice.Order] = struct{}{}
	}
	return nil
}

// OrderedChoices returns the choices in display order.
func (a Attribute) OrderedChoices() []Choice {
	choices := copyChoices(a.Choices)
	sort.SliceStable(choices, func(i, j int) bool {
		return choices[i].Order < choices[j].Order
	})
	return choices
}

// Choice looks up a choice by name.
func (a Attribute) Choice(name string) (Choice, bool) {
	for _, choice := range a.Choices {
		if choice.Name == name {
			return choice, true
		}
	}
	return Choice{}, false
}

// ChoiceByID looks up a choice by id.
func (a Attribute) ChoiceByID(id int64) (Choice, bool) {
	for _, choice := range a.Choices {
		if choice.ID == id {
			return choice, true
		}
	}
	return Choice{}, false
}

// ComputeChecksum hashes the semantic definition of an attribute. Titles and
// descriptions are whitespace-normalised so cosmetic edits keep the checksum.
func ComputeChecksum(schemaName string, a Attribute) string {
	parts := []string{
		normalizeSpace(schemaName),
		normalizeSpace(a.Name),
		normalizeSpace(a.Title),
		normalizeSpace(a.Description),
		string(a.Type),
		strconv.FormatBool(a.IsCollection),
		strconv.FormatBool(a.IsRequired),
	}
	for _, choice := range a.OrderedChoices() {
		parts = append(parts, normalizeSpace(choice.Name)+"="+normalizeSpace(choice.Title))
	}

	sum := md5.Sum([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// WithChecksum returns a copy carrying a freshly computed checksum.
func (a Attribute) WithChecksum(schemaName string) Attribute {
	clone := a
	clone.Choices = copyChoices(a.Choices)
	clone.Checksum = ComputeChecksum(schemaName, clone)
	return clone
}

// VerifyChecksum recomputes the checksum and reports corruption.
func (a Attribute) VerifyChecksum(schemaName string) error {
	computed := ComputeChecksum(schemaName, a)
	if computed != a.Checksum {
		return &CorruptStateError{AttributeID: a.ID, Stored: a.Checksum, Computed: computed}
	}
	return nil
}

func normalizeSpace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func copyChoices(choices []Choice) []Choice {
	if choices == nil {
		return nil
	}
	out := make([]Choice, len(choices))
	copy(out, choices)
	return out
}
