// Package snapshot saves and restores point-in-time copies of the
// document tree. Snapshots cover documents only; the index is derived
// and gets rebuilt after a restore. A snapshot directory appears under
// its final name only when fully written, so a crash mid-copy can never
// leave a listable half-snapshot.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/lorevault/pkg/entity"
)

// SnapshotsDirName is the snapshot root inside a vault, next to the
// documents directory.
const SnapshotsDirName = "snapshots"

const metadataFile = "metadata.json"

// Snapshot describes one saved copy.
type Snapshot struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
	Reason    string `json:"reason"`
	Documents int    `json:"documents"`
}

// Manager creates, lists, restores and prunes snapshots of one vault's
// document tree.
type Manager struct {
	docs string
	dir  string
	log  *slog.Logger
	now  func() time.Time

	// copyFile is swappable in tests to inject copy failures.
	copyFile func(dst, src string) error
}

// New returns a manager for the vault rooted at vaultDir, whose
// documents live in docsDir.
func New(vaultDir, docsDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		docs:     docsDir,
		dir:      filepath.Join(vaultDir, SnapshotsDirName),
		log:      log,
		now:      time.Now,
		copyFile: copyFile,
	}
}

// Create snapshots the current document tree. The copy is staged under a
// hidden name and renamed into place only once complete, metadata
// included.
func (m *Manager) Create(reason string) (*Snapshot, error) {
	now := m.now()
	id := now.UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	staging := filepath.Join(m.dir, ".staging-"+id)
	defer os.RemoveAll(staging)

	count, err := m.copyTree(filepath.Join(staging, "documents"), m.docs)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}

	snap := &Snapshot{ID: id, CreatedAt: now.UnixMilli(), Reason: reason, Documents: count}
	meta, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeFileSync(filepath.Join(staging, metadataFile), append(meta, '\n')); err != nil {
		return nil, fmt.Errorf("snapshot %s metadata: %w", id, err)
	}

	if err := os.Rename(staging, filepath.Join(m.dir, id)); err != nil {
		return nil, fmt.Errorf("finalize snapshot %s: %w", id, err)
	}
	// Durability of the rename itself requires the parent directory to
	// reach disk too.
	if err := syncDir(m.dir); err != nil {
		return nil, fmt.Errorf("finalize snapshot %s: %w", id, err)
	}
	m.log.Info("snapshot created", "id", id, "reason", reason, "documents", count)
	return snap, nil
}

// List returns all snapshots, newest first. Staging leftovers and
// unreadable entries are ignored.
func (m *Manager) List() ([]*Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var out []*Snapshot
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.dir, e.Name(), metadataFile))
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			continue
		}
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Get returns one snapshot's metadata.
func (m *Manager) Get(id string) (*Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(m.dir, id, metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// Restore replaces the document tree with the named snapshot's copy. A
// fresh pre-restore snapshot is taken first, so a restore is itself
// undoable. Returns that safety snapshot. The caller rebuilds the index
// afterwards.
func (m *Manager) Restore(id string) (*Snapshot, error) {
	src := filepath.Join(m.dir, id, "documents")
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w", id, entity.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}

	pre, err := m.Create("pre-restore of " + id)
	if err != nil {
		return nil, fmt.Errorf("pre-restore snapshot: %w", err)
	}

	staging := m.docs + ".restore"
	os.RemoveAll(staging)
	if _, err := m.copyTree(staging, src); err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}

	aside := m.docs + ".old"
	os.RemoveAll(aside)
	if err := os.Rename(m.docs, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	if err := os.Rename(staging, m.docs); err != nil {
		// Put the original tree back before failing.
		os.Rename(aside, m.docs)
		os.RemoveAll(staging)
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	os.RemoveAll(aside)

	m.log.Info("snapshot restored", "id", id, "preRestore", pre.ID)
	return pre, nil
}

// Prune deletes all but the newest retain snapshots and returns the
// removed ids.
func (m *Manager) Prune(retain int) ([]string, error) {
	if retain < 0 {
		return nil, fmt.Errorf("retain %d: %w", retain, entity.ErrInvalidArgument)
	}
	snaps, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(snaps) <= retain {
		return nil, nil
	}

	var removed []string
	for _, snap := range snaps[retain:] {
		if err := os.RemoveAll(filepath.Join(m.dir, snap.ID)); err != nil {
			return removed, fmt.Errorf("prune %s: %w", snap.ID, err)
		}
		removed = append(removed, snap.ID)
	}
	m.log.Info("snapshots pruned", "removed", len(removed), "retained", retain)
	return removed, nil
}

// copyTree copies the document tree at src into dst, returning the
// number of files copied. A missing src counts as an empty tree.
func (m *Manager) copyTree(dst, src string) (int, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, err
	}
	count := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := m.copyFile(target, path); err != nil {
			return err
		}
		count++
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return count, err
}

// copyFile copies and fsyncs one file, so a snapshot listed after a
// crash never holds empty or truncated copies.
func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
