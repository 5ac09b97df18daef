// Package schema holds the per-type field contracts that documents must
// satisfy. The registry is the sole owner of schemas; the document store
// and the consistency checker consume them read-only.
package schema

import (
	"fmt"
	"strings"

	"github.com/kittclouds/lorevault/pkg/entity"
)

// FieldType enumerates the value kinds a schema field can declare.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBool    FieldType = "bool"
	FieldEnum    FieldType = "enum"
	FieldRef     FieldType = "ref"
	FieldRefList FieldType = "ref_list"
	FieldText    FieldType = "text"
)

func (t FieldType) valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBool, FieldEnum, FieldRef, FieldRefList, FieldText:
		return true
	}
	return false
}

// IsRef reports whether values of this type name other entities.
func (t FieldType) IsRef() bool {
	return t == FieldRef || t == FieldRefList
}

// FieldDef describes one field of an entity type.
type FieldDef struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	// Ref is the entity type a ref/ref_list field must point at.
	Ref string `json:"ref,omitempty"`
	// Enum lists the allowed values for enum fields.
	Enum []string `json:"enum,omitempty"`
}

// Schema is the versioned field contract for one entity type.
// Evolution is additive only: new optional fields may appear in later
// versions, but existing fields may not be removed, retyped, or promoted
// to required.
type Schema struct {
	Type    string     `json:"type"`
	Version int        `json:"version"`
	Fields  []FieldDef `json:"fields"`
}

// Field looks up a field definition by name.
func (s *Schema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

func (s *Schema) check() error {
	if s.Type == "" {
		return fmt.Errorf("schema has no type")
	}
	if s.Version < 1 {
		return fmt.Errorf("schema %q: version must be >= 1", s.Type)
	}
	seen := map[string]bool{}
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q: field with empty name", s.Type)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Type, f.Name)
		}
		seen[f.Name] = true
		if !f.Type.valid() {
			return fmt.Errorf("schema %q: field %q has unknown type %q", s.Type, f.Name, f.Type)
		}
		if f.Type.IsRef() && f.Ref == "" {
			return fmt.Errorf("schema %q: reference field %q missing target type", s.Type, f.Name)
		}
		if f.Type == FieldEnum && len(f.Enum) == 0 {
			return fmt.Errorf("schema %q: enum field %q has no values", s.Type, f.Name)
		}
	}
	return nil
}

// validateValue checks a single field value against its definition.
// Returns a human-readable reason, or "" when the value conforms.
func validateValue(def FieldDef, v any) string {
	switch def.Type {
	case FieldString, FieldText:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
	case FieldNumber:
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Sprintf("expected number, got %T", v)
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", v)
		}
	case FieldEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected one of %v, got %T", def.Enum, v)
		}
		for _, allowed := range def.Enum {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("%q is not one of %v", s, def.Enum)
	case FieldRef:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("expected entity id, got %T", v)
		}
		if reason := checkRefID(s); reason != "" {
			return reason
		}
	case FieldRefList:
		items, ok := v.([]any)
		if !ok {
			// Round-tripping through JSON can also yield []string.
			strs, oks := v.([]string)
			if !oks {
				return fmt.Sprintf("expected list of entity ids, got %T", v)
			}
			for _, s := range strs {
				if reason := checkRefID(s); reason != "" {
					return reason
				}
			}
			return ""
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return fmt.Sprintf("expected entity id, got %T", item)
			}
			if reason := checkRefID(s); reason != "" {
				return reason
			}
		}
	}
	return ""
}

func checkRefID(s string) string {
	if _, _, err := entity.ParseID(s); err != nil {
		return fmt.Sprintf("%q is not a valid entity id", s)
	}
	return ""
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}
