package validator

import (
	"github.com/rpattn/datastore/internal/domain"
)

// ValidateSchema checks a schema row and its attribute set before any database
// round trip: every attribute must be valid on its own and names and display
// orders must be unique within the schema. It returns the names of the object
// attributes in display order; these are the attributes a snapshot recurses into.
func ValidateSchema(schema domain.Schema) ([]string, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return ValidateAttributes(schema.Attributes)
}

// ValidateAttributes applies the attribute-set checks of ValidateSchema.
func ValidateAttributes(attrs []domain.Attribute) ([]string, error) {
	names := make(map[string]struct{}, len(attrs))
	orders := make(map[int]string, len(attrs))

	for _, attr := range attrs {
		if err := attr.Validate(); err != nil {
			return nil, err
		}
		if _, dup := names[attr.Name]; dup {
			return nil, domain.NewValidationError(attr.Name, "duplicate attribute name")
		}
		if other, dup := orders[attr.Order]; dup {
			return nil, domain.NewValidationError(attr.Name, "order %d already used by %s", attr.Order, other)
		}
		names[attr.Name] = struct{}{}
		orders[attr.Order] = attr.Name
	}

	var objects []string
	for _, attr := range (domain.Schema{Attributes: attrs}).OrderedAttributes() {
		if attr.Type == domain.AttributeTypeObject {
			objects = append(objects, attr.Name)
		}
	}
	return objects, nil
}
