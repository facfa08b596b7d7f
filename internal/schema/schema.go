package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FieldType is the declared Edm-style type of an index field. All validation
// and index-creation logic dispatches on this tag.
type FieldType string

const (
	TypeString           FieldType = "Edm.String"
	TypeInt32            FieldType = "Edm.Int32"
	TypeInt64            FieldType = "Edm.Int64"
	TypeDouble           FieldType = "Edm.Double"
	TypeDateTime         FieldType = "Edm.DateTimeOffset"
	TypeStringCollection FieldType = "Collection(Edm.String)"
	TypeFloatVector      FieldType = "Collection(Edm.Single)"
)

var knownTypes = map[FieldType]bool{
	TypeString:           true,
	TypeInt32:            true,
	TypeInt64:            true,
	TypeDouble:           true,
	TypeDateTime:         true,
	TypeStringCollection: true,
	TypeFloatVector:      true,
}

// Field is one entry of the index field schema. The searchable/filterable/
// facetable/sortable flags are passed through to index creation and are not
// interpreted by validation.
type Field struct {
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Key        bool      `json:"key,omitempty"`
	Required   bool      `json:"required,omitempty"`
	Searchable bool      `json:"searchable,omitempty"`
	Filterable bool      `json:"filterable,omitempty"`
	Facetable  bool      `json:"facetable,omitempty"`
	Sortable   bool      `json:"sortable,omitempty"`

	// Dimensions is required for float-vector fields and forbidden elsewhere.
	Dimensions int `json:"dimensions,omitempty"`
}

// Schema is the immutable field-type contract of the target index. Build it
// once at startup and pass it by reference into the workers.
type Schema struct {
	fields []Field
	byName map[string]Field
	key    Field
}

var ErrNoKeyField = errors.New("schema must declare exactly one key field")

// New validates the field list and builds the lookup structure.
func New(fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, errors.New("schema has no fields")
	}

	s := &Schema{
		fields: fields,
		byName: make(map[string]Field, len(fields)),
	}

	keyCount := 0
	for _, f := range fields {
		if f.Name == "" {
			return nil, errors.New("schema field with empty name")
		}
		if !knownTypes[f.Type] {
			return nil, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		if f.Type == TypeFloatVector && f.Dimensions <= 0 {
			return nil, fmt.Errorf("vector field %q: dimensions must be positive", f.Name)
		}
		if f.Type != TypeFloatVector && f.Dimensions != 0 {
			return nil, fmt.Errorf("field %q: dimensions only valid on %s", f.Name, TypeFloatVector)
		}
		if f.Key {
			if f.Type != TypeString {
				return nil, fmt.Errorf("key field %q must be %s", f.Name, TypeString)
			}
			s.key = f
			keyCount++
		}
		s.byName[f.Name] = f
	}

	if keyCount != 1 {
		return nil, fmt.Errorf("%w, found %d", ErrNoKeyField, keyCount)
	}

	return s, nil
}

// Load reads a schema file: a JSON array of field definitions.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var fields []Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}

	return New(fields)
}

// Fields returns the declared fields in file order.
func (s *Schema) Fields() []Field {
	return s.fields
}

// Key returns the single declared key field.
func (s *Schema) Key() Field {
	return s.key
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// VectorFields returns the float-vector fields, in file order.
func (s *Schema) VectorFields() []Field {
	var out []Field
	for _, f := range s.fields {
		if f.Type == TypeFloatVector {
			out = append(out, f)
		}
	}
	return out
}
