package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/lorevault/pkg/entity"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, s := range Builtin() {
		require.NoError(t, r.Register(s))
	}
	return r
}

func TestValidateReportsEveryViolation(t *testing.T) {
	r := newTestRegistry(t)

	violations := r.Validate("character", map[string]any{
		"status":  "petrified",
		"faction": "not-an-id",
		"unknown": "x",
	})

	fields := make([]string, len(violations))
	for i, v := range violations {
		fields[i] = v.Field
	}
	// role missing, status not in enum, faction malformed id, unknown field.
	assert.ElementsMatch(t, []string{"role", "status", "faction", "unknown"}, fields)
}

func TestValidateAcceptsConformingFields(t *testing.T) {
	r := newTestRegistry(t)

	violations := r.Validate("character", map[string]any{
		"role":    "wandering knight",
		"status":  "alive",
		"faction": "faction:iron-kingdom",
		"allies":  []any{"character:mira"},
	})
	assert.Empty(t, violations)
}

func TestValidateUnknownType(t *testing.T) {
	r := newTestRegistry(t)
	violations := r.Validate("deity", map[string]any{})
	require.Len(t, violations, 1)
	assert.Equal(t, "type", violations[0].Field)
}

func TestRegisterRejectsBreakingChanges(t *testing.T) {
	r := newTestRegistry(t)

	cases := []struct {
		name string
		next *Schema
	}{
		{
			name: "version not increased",
			next: &Schema{Type: "place", Version: 1, Fields: Builtin()[1].Fields},
		},
		{
			name: "field removed",
			next: &Schema{Type: "place", Version: 2, Fields: []FieldDef{
				{Name: "kind", Type: FieldString, Required: true},
			}},
		},
		{
			name: "field retyped",
			next: &Schema{Type: "place", Version: 2, Fields: []FieldDef{
				{Name: "kind", Type: FieldNumber, Required: true},
				{Name: "region", Type: FieldRef, Ref: "place"},
				{Name: "ruler", Type: FieldRef, Ref: "character"},
			}},
		},
		{
			name: "new required field",
			next: &Schema{Type: "place", Version: 2, Fields: []FieldDef{
				{Name: "kind", Type: FieldString, Required: true},
				{Name: "region", Type: FieldRef, Ref: "place"},
				{Name: "ruler", Type: FieldRef, Ref: "character"},
				{Name: "climate", Type: FieldString, Required: true},
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Register(tc.next)
			var breaking *entity.BreakingChangeError
			require.ErrorAs(t, err, &breaking)
			assert.Equal(t, "place", breaking.Type)
		})
	}
}

func TestRegisterAcceptsAdditiveEvolution(t *testing.T) {
	r := newTestRegistry(t)

	next := &Schema{Type: "place", Version: 2, Fields: append(
		append([]FieldDef(nil), Builtin()[1].Fields...),
		FieldDef{Name: "climate", Type: FieldString},
	)}
	require.NoError(t, r.Register(next))

	s, ok := r.Get("place")
	require.True(t, ok)
	assert.Equal(t, 2, s.Version)
	_, ok = s.Field("climate")
	assert.True(t, ok)
}

func TestRefTarget(t *testing.T) {
	r := newTestRegistry(t)

	target, ok := r.RefTarget("character", "faction")
	require.True(t, ok)
	assert.Equal(t, "faction", target)

	_, ok = r.RefTarget("character", "role")
	assert.False(t, ok, "scalar fields have no reference target")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	s := Schema{Type: "relic", Version: 1, Fields: []FieldDef{
		{Name: "power", Type: FieldString, Required: true},
		{Name: "keeper", Type: FieldRef, Ref: "character"},
	}}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relic.json"), data, 0o644))

	r := NewRegistry()
	n, err := r.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := r.Get("relic")
	assert.True(t, ok)
}
