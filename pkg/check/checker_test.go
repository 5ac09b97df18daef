package check

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/lorevault/internal/index"
	"github.com/kittclouds/lorevault/pkg/docstore"
	"github.com/kittclouds/lorevault/pkg/schema"
)

type env struct {
	store *docstore.Store
	ix    *index.Index
	check *Checker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := schema.NewRegistry()
	for _, s := range schema.Builtin() {
		require.NoError(t, reg.Register(s))
	}
	store, err := docstore.Open(t.TempDir(), reg, nil)
	require.NoError(t, err)
	ix, err := index.Open(":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return &env{store: store, ix: ix, check: New(ix, reg, nil)}
}

func (e *env) sync(t *testing.T) {
	t.Helper()
	_, err := e.ix.Sync(context.Background(), e.store)
	require.NoError(t, err)
}

func TestCleanWorld(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.Write("faction", "", docstore.Draft{Name: "Iron Kingdom", Fields: map[string]any{"goal": "conquest"}})
	require.NoError(t, err)
	_, err = e.store.Write("character", "", docstore.Draft{
		Name:   "Aldric",
		Fields: map[string]any{"role": "knight", "faction": "faction:iron-kingdom"},
		Prose:  "Aldric serves the Iron Kingdom.",
	})
	require.NoError(t, err)
	e.sync(t)

	report, err := e.check.Run()
	require.NoError(t, err)
	assert.True(t, report.Clean(), "findings: %+v", report)
}

func TestDanglingReferences(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.Write("faction", "", docstore.Draft{Name: "Old Guard", Fields: map[string]any{"goal": "survival"}})
	require.NoError(t, err)
	_, err = e.store.Write("character", "", docstore.Draft{
		Name: "Aldric",
		Fields: map[string]any{
			"role":    "knight",
			"faction": "faction:ghost-legion", // never authored
			"allies":  []any{"character:mira"}, // about to be tombstoned
		},
	})
	require.NoError(t, err)
	_, err = e.store.Write("character", "", docstore.Draft{Name: "Mira", Fields: map[string]any{"role": "scout"}})
	require.NoError(t, err)
	e.sync(t)
	require.NoError(t, e.store.Delete("character:mira", true))
	e.sync(t)

	report, err := e.check.Run()
	require.NoError(t, err)
	require.Len(t, report.Dangling, 2)
	assert.Equal(t, "character:mira", report.Dangling[0].Ref.TargetID)
	assert.Equal(t, "tombstoned", report.Dangling[0].Reason)
	assert.Equal(t, "faction:ghost-legion", report.Dangling[1].Ref.TargetID)
	assert.Equal(t, "missing", report.Dangling[1].Reason)
}

func TestOrphanedStubs(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.Write("character", "", docstore.Draft{
		Name:   "Aldric",
		Fields: map[string]any{"role": "knight", "allies": []any{"character:ghost"}},
	})
	require.NoError(t, err)

	// A roughed-in document missing its required role field.
	dir := filepath.Join(e.store.Dir(), "character")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ghost.json"),
		[]byte(`{"id":"character:ghost","type":"character","name":"Ghost"}`), 0o644))
	e.sync(t)

	report, err := e.check.Run()
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "character:ghost", report.Orphans[0].ID)
	require.Len(t, report.Orphans[0].Referencers, 1)
	assert.Equal(t, "character:aldric", report.Orphans[0].Referencers[0].SourceID)
	assert.Empty(t, report.Dangling, "a stub exists, it is not dangling")
}

func TestAliasCollisions(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.Write("character", "", docstore.Draft{Name: "Maren", Fields: map[string]any{"role": "seer"}})
	require.NoError(t, err)
	_, err = e.store.Write("place", "", docstore.Draft{
		Name:    "Maren Hollow",
		Aliases: []string{"Maren"},
		Fields:  map[string]any{"kind": "village"},
	})
	require.NoError(t, err)
	e.sync(t)

	report, err := e.check.Run()
	require.NoError(t, err)
	require.Len(t, report.Collisions, 1)
	assert.Equal(t, "maren", report.Collisions[0].Surface)
	assert.Equal(t, []string{"character:maren", "place:maren-hollow"}, report.Collisions[0].IDs)
}

func TestTypeMismatch(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.Write("place", "", docstore.Draft{Name: "Ashford", Fields: map[string]any{"kind": "town"}})
	require.NoError(t, err)
	// faction expects a faction id; a place id passes format validation
	// but not the audit.
	_, err = e.store.Write("character", "", docstore.Draft{
		Name:   "Aldric",
		Fields: map[string]any{"role": "knight", "faction": "place:ashford"},
	})
	require.NoError(t, err)
	e.sync(t)

	report, err := e.check.Run()
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	m := report.Mismatches[0]
	assert.Equal(t, "faction", m.Ref.Field)
	assert.Equal(t, "faction", m.WantType)
	assert.Equal(t, "place", m.GotType)
}

func TestUnlinkedMentions(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.Write("place", "", docstore.Draft{Name: "Ashford", Fields: map[string]any{"kind": "town"}})
	require.NoError(t, err)
	_, err = e.store.Write("character", "", docstore.Draft{
		Name:   "Aldric",
		Fields: map[string]any{"role": "knight"},
		Prose:  "Aldric was born in Ashford, though he never speaks of it.",
	})
	require.NoError(t, err)
	e.sync(t)

	report, err := e.check.Run()
	require.NoError(t, err)
	require.Len(t, report.UnlinkedMentions, 1)
	m := report.UnlinkedMentions[0]
	assert.Equal(t, "character:aldric", m.SourceID)
	assert.Equal(t, "place:ashford", m.TargetID)
	assert.Equal(t, "Ashford", m.Surface)

	// Adding the reference resolves the finding.
	_, err = e.store.Write("character", "character:aldric", docstore.Draft{
		Name:   "Aldric",
		Fields: map[string]any{"role": "knight", "home": "place:ashford"},
		Prose:  "Aldric was born in Ashford, though he never speaks of it.",
	})
	require.NoError(t, err)
	e.sync(t)

	report, err = e.check.Run()
	require.NoError(t, err)
	assert.Empty(t, report.UnlinkedMentions)
}
