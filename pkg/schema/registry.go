package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kittclouds/lorevault/pkg/entity"
)

// Registry holds one schema per entity type. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema, or replaces one with a newer compatible version.
// Updates must be backward-readable: every existing document of the type
// must still validate, so fields may be added (optional only) but never
// removed, retyped, or promoted to required.
func (r *Registry) Register(s *Schema) error {
	if err := s.check(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.schemas[s.Type]
	if exists {
		if reasons := breakingChanges(old, s); len(reasons) > 0 {
			return &entity.BreakingChangeError{Type: s.Type, Reasons: reasons}
		}
	}

	cp := *s
	cp.Fields = append([]FieldDef(nil), s.Fields...)
	r.schemas[s.Type] = &cp
	return nil
}

func breakingChanges(old, next *Schema) []string {
	var reasons []string
	if next.Version <= old.Version {
		reasons = append(reasons, fmt.Sprintf("version must increase (have %d, got %d)", old.Version, next.Version))
	}
	for _, of := range old.Fields {
		nf, ok := next.Field(of.Name)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("field %q removed", of.Name))
			continue
		}
		if nf.Type != of.Type {
			reasons = append(reasons, fmt.Sprintf("field %q retyped %s -> %s", of.Name, of.Type, nf.Type))
		}
		if nf.Required && !of.Required {
			reasons = append(reasons, fmt.Sprintf("field %q promoted to required", of.Name))
		}
		if nf.Type.IsRef() && nf.Ref != of.Ref {
			reasons = append(reasons, fmt.Sprintf("field %q reference target changed %s -> %s", of.Name, of.Ref, nf.Ref))
		}
	}
	for _, nf := range next.Fields {
		if _, ok := old.Field(nf.Name); !ok && nf.Required {
			reasons = append(reasons, fmt.Sprintf("new field %q may not be required", nf.Name))
		}
	}
	return reasons
}

// Get returns the schema registered for a type.
func (r *Registry) Get(typ string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[typ]
	return s, ok
}

// Types lists all registered entity types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks a field map against the schema for the type. Pure: no
// side effects. An empty result means the fields conform. An unregistered
// type yields a single violation rather than an error, so callers can
// treat "no schema" and "bad fields" uniformly.
func (r *Registry) Validate(typ string, fields map[string]any) []entity.Violation {
	s, ok := r.Get(typ)
	if !ok {
		return []entity.Violation{{Field: "type", Reason: fmt.Sprintf("no schema registered for type %q", typ)}}
	}

	var out []entity.Violation
	for _, def := range s.Fields {
		v, present := fields[def.Name]
		if !present || isEmpty(v) {
			if def.Required {
				out = append(out, entity.Violation{Field: def.Name, Reason: "required field missing"})
			}
			continue
		}
		if reason := validateValue(def, v); reason != "" {
			out = append(out, entity.Violation{Field: def.Name, Reason: reason})
		}
	}
	for name := range fields {
		if _, ok := s.Field(name); !ok {
			out = append(out, entity.Violation{Field: name, Reason: "field not in schema"})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// RefTarget resolves the entity type a reference field must point at.
// Used by the consistency checker for reference-type mismatch detection.
func (r *Registry) RefTarget(typ, field string) (string, bool) {
	s, ok := r.Get(typ)
	if !ok {
		return "", false
	}
	def, ok := s.Field(field)
	if !ok || !def.Type.IsRef() {
		return "", false
	}
	return def.Ref, true
}

// LoadDir reads every *.json schema file in dir into the registry.
// A missing directory is not an error; an empty one leaves the registry
// untouched so the caller can fall back to the builtin set.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema dir: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("read schema %s: %w", path, err)
		}
		var s Schema
		if err := json.Unmarshal(data, &s); err != nil {
			return loaded, fmt.Errorf("parse schema %s: %w", path, err)
		}
		if err := r.Register(&s); err != nil {
			return loaded, fmt.Errorf("register schema %s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}

// Builtin returns the starter schemas registered when a vault carries no
// schema files of its own: the classic worldbuilding kinds.
func Builtin() []*Schema {
	return []*Schema{
		{
			Type: "character", Version: 1,
			Fields: []FieldDef{
				{Name: "role", Type: FieldString, Required: true},
				{Name: "status", Type: FieldEnum, Enum: []string{"alive", "dead", "unknown"}},
				{Name: "faction", Type: FieldRef, Ref: "faction"},
				{Name: "home", Type: FieldRef, Ref: "place"},
				{Name: "allies", Type: FieldRefList, Ref: "character"},
			},
		},
		{
			Type: "place", Version: 1,
			Fields: []FieldDef{
				{Name: "kind", Type: FieldString, Required: true},
				{Name: "region", Type: FieldRef, Ref: "place"},
				{Name: "ruler", Type: FieldRef, Ref: "character"},
			},
		},
		{
			Type: "faction", Version: 1,
			Fields: []FieldDef{
				{Name: "goal", Type: FieldString, Required: true},
				{Name: "leader", Type: FieldRef, Ref: "character"},
				{Name: "seat", Type: FieldRef, Ref: "place"},
				{Name: "rivals", Type: FieldRefList, Ref: "faction"},
			},
		},
		{
			Type: "item", Version: 1,
			Fields: []FieldDef{
				{Name: "kind", Type: FieldString, Required: true},
				{Name: "owner", Type: FieldRef, Ref: "character"},
				{Name: "origin", Type: FieldRef, Ref: "place"},
			},
		},
		{
			Type: "event", Version: 1,
			Fields: []FieldDef{
				{Name: "summary", Type: FieldString, Required: true},
				{Name: "location", Type: FieldRef, Ref: "place"},
				{Name: "participants", Type: FieldRefList, Ref: "character"},
			},
		},
	}
}
