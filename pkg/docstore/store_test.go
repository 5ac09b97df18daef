package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/lorevault/pkg/entity"
	"github.com/kittclouds/lorevault/pkg/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	reg := schema.NewRegistry()
	for _, s := range schema.Builtin() {
		require.NoError(t, reg.Register(s))
	}
	s, err := Open(t.TempDir(), reg, nil)
	require.NoError(t, err)
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	written, err := s.Write("character", "", Draft{
		Name:    "Aldric",
		Aliases: []string{"the Bold"},
		Tags:    []string{"protagonist"},
		Fields: map[string]any{
			"role":    "wandering knight",
			"faction": "faction:iron-kingdom",
		},
		Prose: "Aldric rode north through the ash fields.",
	})
	require.NoError(t, err)
	assert.Equal(t, "character:aldric", written.ID)
	assert.Equal(t, int64(1), written.Rev)
	assert.NotZero(t, written.CreatedAt)

	got, err := s.Read("character:aldric")
	require.NoError(t, err)
	assert.Equal(t, written.Name, got.Name)
	assert.Equal(t, written.Aliases, got.Aliases)
	assert.Equal(t, written.Tags, got.Tags)
	assert.Equal(t, written.Fields, got.Fields)
	assert.Equal(t, written.Prose, got.Prose)
}

func TestWriteValidationFailurePersistsNothing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("character", "", Draft{
		Name:   "Mira",
		Fields: map[string]any{"status": "alive"}, // role missing
	})
	var verr *entity.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "role", verr.Violations[0].Field)

	_, err = s.Read("character:mira")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.Equal(t, int64(0), s.Revision(), "failed write must not burn a revision")
}

func TestRenamePreservesOldNameAsAlias(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("place", "", Draft{Name: "Ashford", Fields: map[string]any{"kind": "town"}})
	require.NoError(t, err)

	renamed, err := s.Write("place", "place:ashford", Draft{Name: "New Ashford", Fields: map[string]any{"kind": "town"}})
	require.NoError(t, err)
	assert.Equal(t, "place:ashford", renamed.ID, "id stays stable across renames")
	assert.Contains(t, renamed.Aliases, "Ashford")
}

func TestDeleteTombstones(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("faction", "", Draft{Name: "Iron Kingdom", Fields: map[string]any{"goal": "conquest"}})
	require.NoError(t, err)

	require.NoError(t, s.Delete("faction:iron-kingdom", false))

	_, err = s.Read("faction:iron-kingdom")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	// Document survives as a tombstone.
	var tombstoned *entity.Entity
	require.NoError(t, s.Walk(func(path string, e *entity.Entity, err error) error {
		if e != nil && e.ID == "faction:iron-kingdom" {
			tombstoned = e
		}
		return nil
	}))
	require.NotNil(t, tombstoned)
	assert.True(t, tombstoned.Deleted)
	assert.NotZero(t, tombstoned.DeletedAt)
}

func TestDeleteBlockedByDependents(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("faction", "", Draft{Name: "Iron Kingdom", Fields: map[string]any{"goal": "conquest"}})
	require.NoError(t, err)

	s.SetDependents(func(id string) ([]entity.Reference, error) {
		return []entity.Reference{{SourceID: "character:aldric", Field: "faction", TargetID: id}}, nil
	})

	err = s.Delete("faction:iron-kingdom", false)
	var deps *entity.DependentsError
	require.ErrorAs(t, err, &deps)
	assert.Len(t, deps.Referencers, 1)

	// Still readable, then force goes through.
	_, err = s.Read("faction:iron-kingdom")
	require.NoError(t, err)
	require.NoError(t, s.Delete("faction:iron-kingdom", true))
}

func TestListFiltersByTypeAndExcludesTombstones(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("character", "", Draft{Name: "Aldric", Fields: map[string]any{"role": "knight"}})
	require.NoError(t, err)
	_, err = s.Write("character", "", Draft{Name: "Mira", Fields: map[string]any{"role": "scout"}})
	require.NoError(t, err)
	_, err = s.Write("place", "", Draft{Name: "Ashford", Fields: map[string]any{"kind": "town"}})
	require.NoError(t, err)
	require.NoError(t, s.Delete("character:mira", false))

	var chars, all []string
	require.NoError(t, s.List("character", func(id string) error {
		chars = append(chars, id)
		return nil
	}))
	require.NoError(t, s.List("", func(id string) error {
		all = append(all, id)
		return nil
	}))

	assert.Equal(t, []string{"character:aldric"}, chars)
	assert.Equal(t, []string{"character:aldric", "place:ashford"}, all)
}

func TestWalkReportsCorruptDocuments(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("character", "", Draft{Name: "Aldric", Fields: map[string]any{"role": "knight"}})
	require.NoError(t, err)

	bad := filepath.Join(s.Dir(), "character", "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))

	var good, corrupt int
	require.NoError(t, s.Walk(func(path string, e *entity.Entity, err error) error {
		if err != nil {
			corrupt++
			return nil
		}
		good++
		return nil
	}))
	assert.Equal(t, 1, good)
	assert.Equal(t, 1, corrupt)
}

func TestRevisionRecoveredOnReopen(t *testing.T) {
	reg := schema.NewRegistry()
	for _, sc := range schema.Builtin() {
		require.NoError(t, reg.Register(sc))
	}
	dir := t.TempDir()

	s, err := Open(dir, reg, nil)
	require.NoError(t, err)
	_, err = s.Write("character", "", Draft{Name: "Aldric", Fields: map[string]any{"role": "knight"}})
	require.NoError(t, err)
	_, err = s.Write("character", "", Draft{Name: "Mira", Fields: map[string]any{"role": "scout"}})
	require.NoError(t, err)
	require.Equal(t, int64(2), s.Revision())

	reopened, err := Open(dir, reg, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reopened.Revision())
}

func TestInvalidIDs(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("character", "place:aldric", Draft{Name: "Aldric", Fields: map[string]any{"role": "knight"}})
	assert.ErrorIs(t, err, entity.ErrInvalidArgument)

	_, err = s.Read("no-colon")
	assert.ErrorIs(t, err, entity.ErrInvalidArgument)

	err = errors.Unwrap(err)
	assert.NotNil(t, err)
}
