package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Schema is one version of a record-type descriptor. Versions of the same record
// type share a name and differ by publish date.
type Schema struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Storage       StorageKind `json:"storage"`
	PublishDate   *time.Time  `json:"publish_date,omitempty"`
	RetractDate   *time.Time  `json:"retract_date,omitempty"`
	BaseSchemaID  *int64      `json:"base_schema_id,omitempty"`
	IsAssociation bool        `json:"is_association"`
	Attributes    []Attribute `json:"attributes,omitempty"`
	Timeline
	Revision int `json:"revision"`
}

// NewSchema builds an unsaved draft schema.
func NewSchema(name, title, description string, storage StorageKind) Schema {
	if storage == "" {
		storage = StorageEAV
	}
	return Schema{
		Name:        strings.TrimSpace(name),
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Storage:     storage,
	}
}

// Validate checks the schema row itself. Attribute level checks live on Attribute.
func (s Schema) Validate() error {
	if !schemaNamePattern.MatchString(s.Name) || len(s.Name) > 100 {
		return NewValidationError("name", "%q is not a valid schema name", s.Name)
	}
	if strings.TrimSpace(s.Title) == "" {
		return NewValidationError("title", "is required")
	}
	if !s.Storage.IsValid() {
		return NewValidationError("storage", "unknown storage kind %q", s.Storage)
	}
	if s.PublishDate != nil && s.RetractDate != nil && s.RetractDate.Before(*s.PublishDate) {
		return NewValidationError("retract_date", "must not precede publish_date")
	}
	if s.RetractDate != nil && s.PublishDate == nil {
		return NewValidationError("retract_date", "cannot retract an unpublished schema")
	}
	return nil
}

// IsPublished reports whether the schema has a publish date.
func (s Schema) IsPublished() bool {
	return s.PublishDate != nil
}

// IsActiveOn reports whether on falls inside [publish_date, retract_date).
func (s Schema) IsActiveOn(on time.Time) bool {
	if s.PublishDate == nil || on.Before(*s.PublishDate) {
		return false
	}
	return s.RetractDate == nil || on.Before(*s.RetractDate)
}

// OrderedAttributes returns the attributes in display order.
func (s Schema) OrderedAttributes() []Attribute {
	attrs := copyAttributes(s.Attributes)
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Order < attrs[j].Order
	})
	return attrs
}

// Attribute looks up an attribute by name.
func (s Schema) Attribute(name string) (Attribute, bool) {
	for _, attr := range s.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}

// NextOrder returns the order value for an attribute appended to the schema.
func (s Schema) NextOrder() int {
	next := 0
	for _, attr := range s.Attributes {
		if attr.Order >= next {
			next = attr.Order + 1
		}
	}
	return next
}

// WithPublication returns a copy with new publication bounds.
func (s Schema) WithPublication(publish, retract *time.Time) Schema {
	clone := s
	clone.Attributes = copyAttributes(s.Attributes)
	clone.PublishDate = publish
	clone.RetractDate = retract
	return clone
}

// SchemaChanged reports whether two schema versions differ semantically, comparing
// attribute checksums. Cosmetic whitespace edits do not count as changes.
func SchemaChanged(previous, next Schema) bool {
	if len(previous.Attributes) != len(next.Attributes) {
		return true
	}
	sums := make(map[string]string, len(previous.Attributes))
	for _, attr := range previous.Attributes {
		sums[attr.Name] = attr.Checksum
	}
	for _, attr := range next.Attributes {
		sum, ok := sums[attr.Name]
		if !ok || sum != attr.Checksum {
			return true
		}
	}
	return false
}

func copyAttributes(attrs []Attribute) []Attribute {
	if attrs == nil {
		return nil
	}
	out := make([]Attribute, len(attrs))
	for i, attr := range attrs {
		out[i] = attr
		out[i].Choices = copyChoices(attr.Choices)
	}
	return out
}
