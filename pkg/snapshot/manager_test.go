package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	vault string
	docs  string
	mgr   *Manager
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	vault := t.TempDir()
	docs := filepath.Join(vault, "documents")
	require.NoError(t, os.MkdirAll(filepath.Join(docs, "character"), 0o755))

	f := &fixture{
		vault: vault,
		docs:  docs,
		mgr:   New(vault, docs, nil),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	// Each call advances the clock so snapshot ids order deterministically.
	f.mgr.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func (f *fixture) writeDoc(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.docs, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) readDoc(t *testing.T, rel string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(f.docs, rel))
	require.NoError(t, err)
	return string(raw)
}

func TestCreateAndList(t *testing.T) {
	f := newFixture(t)
	f.writeDoc(t, "character/aldric.json", `{"id":"character:aldric"}`)

	first, err := f.mgr.Create("before refactor")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Documents)
	assert.Equal(t, "before refactor", first.Reason)

	f.writeDoc(t, "character/mira.json", `{"id":"character:mira"}`)
	second, err := f.mgr.Create("added mira")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Documents)

	snaps, err := f.mgr.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, second.ID, snaps[0].ID, "newest first")
	assert.Equal(t, first.ID, snaps[1].ID)

	got, err := f.mgr.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Reason, got.Reason)
}

func TestListEmptyVault(t *testing.T) {
	f := newFixture(t)
	snaps, err := f.mgr.List()
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestRestoreRollsBackAndIsUndoable(t *testing.T) {
	f := newFixture(t)
	f.writeDoc(t, "character/aldric.json", "original")

	snap, err := f.mgr.Create("checkpoint")
	require.NoError(t, err)

	f.writeDoc(t, "character/aldric.json", "mangled")
	f.writeDoc(t, "character/intruder.json", "should vanish on restore")

	pre, err := f.mgr.Restore(snap.ID)
	require.NoError(t, err)

	assert.Equal(t, "original", f.readDoc(t, "character/aldric.json"))
	_, statErr := os.Stat(filepath.Join(f.docs, "character", "intruder.json"))
	assert.True(t, os.IsNotExist(statErr))

	// The pre-restore snapshot holds the mangled state, so the restore
	// itself can be undone.
	_, err = f.mgr.Restore(pre.ID)
	require.NoError(t, err)
	assert.Equal(t, "mangled", f.readDoc(t, "character/aldric.json"))
	assert.Equal(t, "should vanish on restore", f.readDoc(t, "character/intruder.json"))
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Restore("20990101T000000-deadbeef")
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	f := newFixture(t)
	f.writeDoc(t, "character/aldric.json", "v1")

	var ids []string
	for range 4 {
		snap, err := f.mgr.Create("routine")
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	removed, err := f.mgr.Prune(2)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], removed, "oldest go first")

	snaps, err := f.mgr.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, ids[3], snaps[0].ID)

	// Pruning below the current count again is a no-op.
	removed, err = f.mgr.Prune(2)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestFailedCreateLeavesNothingListable(t *testing.T) {
	f := newFixture(t)
	f.writeDoc(t, "character/aldric.json", "v1")
	f.writeDoc(t, "character/mira.json", "v1")

	calls := 0
	f.mgr.copyFile = func(dst, src string) error {
		calls++
		if calls > 1 {
			return errors.New("disk full")
		}
		return copyFile(dst, src)
	}

	_, err := f.mgr.Create("doomed")
	require.Error(t, err)

	snaps, err := f.mgr.List()
	require.NoError(t, err)
	assert.Empty(t, snaps, "partial snapshot must not be listable")

	entries, err := os.ReadDir(filepath.Join(f.vault, SnapshotsDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory cleaned up")
}
