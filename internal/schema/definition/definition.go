// Package definition reads schema definition files. A file declares one or
// more schemas with their attributes and choices in YAML:
//
//	schemas:
//	  - name: Vitals
//	    title: Vital signs
//	    publish_date: 2024-03-01
//	    attributes:
//	      - name: temp
//	        title: Temperature
//	        type: decimal
//	        required: true
//	      - name: symptoms
//	        title: Symptoms
//	        type: choice
//	        collection: true
//	        choices: [fever, {name: cough, title: Persistent cough}]
//	      - name: site
//	        title: Site
//	        type: object
//	        object: Site
//
// Attribute and choice display orders follow their position in the file.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/datastore/internal/domain"
)

// File is a parsed definition file.
type File struct {
	Schemas []Schema `yaml:"schemas"`
}

// Schema declares one schema version.
type Schema struct {
	Name          string      `yaml:"name"`
	Title         string      `yaml:"title"`
	Description   string      `yaml:"description,omitempty"`
	Storage       string      `yaml:"storage,omitempty"`
	IsAssociation bool        `yaml:"association,omitempty"`
	PublishDate   string      `yaml:"publish_date,omitempty"`
	Draft         bool        `yaml:"draft,omitempty"`
	Attributes    []Attribute `yaml:"attributes"`
}

// Attribute declares one attribute. Object names the target schema of an
// object attribute.
type Attribute struct {
	Name          string   `yaml:"name"`
	Title         string   `yaml:"title"`
	Description   string   `yaml:"description,omitempty"`
	Type          string   `yaml:"type"`
	Object        string   `yaml:"object,omitempty"`
	Collection    bool     `yaml:"collection,omitempty"`
	Required      bool     `yaml:"required,omitempty"`
	Private       bool     `yaml:"private,omitempty"`
	ValueMin      *int64   `yaml:"value_min,omitempty"`
	ValueMax      *int64   `yaml:"value_max,omitempty"`
	CollectionMin *int64   `yaml:"collection_min,omitempty"`
	CollectionMax *int64   `yaml:"collection_max,omitempty"`
	Validator     string   `yaml:"validator,omitempty"`
	Choices       []Choice `yaml:"choices,omitempty"`
}

// Choice is a legal value of an attribute. A plain scalar is shorthand for a
// choice whose title equals its name.
type Choice struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (c *Choice) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Name = node.Value
		c.Title = node.Value
		return nil
	}
	type plain Choice
	var decoded plain
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*c = Choice(decoded)
	if c.Title == "" {
		c.Title = c.Name
	}
	return nil
}

// Load reads and parses a definition file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a definition. Unknown keys are rejected so typos surface
// instead of silently dropping a constraint.
func Parse(r io.Reader) (*File, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("definition file is empty")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Schemas) == 0 {
		return nil, errors.New("definition declares no schemas")
	}
	seen := make(map[string]struct{}, len(file.Schemas))
	for _, schema := range file.Schemas {
		if strings.TrimSpace(schema.Name) == "" {
			return nil, errors.New("schema name is required")
		}
		if _, dup := seen[schema.Name]; dup {
			return nil, fmt.Errorf("schema %s is declared twice", schema.Name)
		}
		seen[schema.Name] = struct{}{}
	}
	return &file, nil
}

// Resolver maps a schema name to the id of the version object attributes
// should reference.
type Resolver func(name string) (int64, bool)

// ToDomain converts the declaration into an unsaved schema. A schema without
// publish_date is published at now unless it is marked draft.
func (s Schema) ToDomain(resolve Resolver, now time.Time) (domain.Schema, error) {
	schema := domain.NewSchema(s.Name, s.Title, s.Description, domain.StorageKind(s.Storage))
	schema.IsAssociation = s.IsAssociation

	switch {
	case s.PublishDate != "":
		published, err := parseDate(s.PublishDate)
		if err != nil {
			return domain.Schema{}, domain.NewValidationError("publish_date", "%v", err)
		}
		schema.PublishDate = &published
	case !s.Draft:
		published := now.UTC()
		schema.PublishDate = &published
	}

	for i, decl := range s.Attributes {
		attr := domain.Attribute{
			Name:          strings.TrimSpace(decl.Name),
			Title:         strings.TrimSpace(decl.Title),
			Description:   strings.TrimSpace(decl.Description),
			Type:          domain.AttributeType(strings.ToLower(strings.TrimSpace(decl.Type))),
			IsCollection:  decl.Collection,
			IsRequired:    decl.Required,
			IsPrivate:     decl.Private,
			ValueMin:      decl.ValueMin,
			ValueMax:      decl.ValueMax,
			CollectionMin: decl.CollectionMin,
			CollectionMax: decl.CollectionMax,
			Validator:     decl.Validator,
			Order:         i,
		}
		if attr.Title == "" {
			attr.Title = attr.Name
		}
		if decl.Object != "" {
			if resolve == nil {
				return domain.Schema{}, domain.NewValidationError(attr.Name+".object", "cannot resolve schema %s", decl.Object)
			}
			id, ok := resolve(decl.Object)
			if !ok {
				return domain.Schema{}, domain.NewValidationError(attr.Name+".object", "schema %s does not exist", decl.Object)
			}
			attr.ObjectSchemaID = &id
		}
		for j, choice := range decl.Choices {
			attr.Choices = append(attr.Choices, domain.Choice{
				Name:  strings.TrimSpace(choice.Name),
				Title: strings.TrimSpace(choice.Title),
				Order: j,
			})
		}
		schema.Attributes = append(schema.Attributes, attr.WithChecksum(schema.Name))
	}
	return schema, nil
}

// ObjectTargets lists the schema names referenced by object attributes.
func (s Schema) ObjectTargets() []string {
	var names []string
	for _, attr := range s.Attributes {
		if attr.Object != "" {
			names = append(names, attr.Object)
		}
	}
	return names
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}
