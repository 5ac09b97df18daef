package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kittclouds/lorevault/pkg/docstore"
	"github.com/kittclouds/lorevault/pkg/entity"
	"github.com/kittclouds/lorevault/pkg/schema"
)

// Skip records one document the sync pass could not index. Non-fatal:
// the document is retried on the next pass.
type Skip struct {
	ID     string `json:"id,omitempty"`
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason"`
}

// SyncReport summarizes one sync pass.
type SyncReport struct {
	Synced  int    `json:"synced"`
	Removed int    `json:"removed"`
	Skips   []Skip `json:"skips,omitempty"`
}

// Changed reports whether the pass mutated the index at all.
func (r *SyncReport) Changed() bool { return r.Synced > 0 || r.Removed > 0 }

type syncMark struct {
	rev  int64
	hash string
}

// Sync brings the index up to date with the document store, touching only
// entities whose documents changed since their last-synced marker.
// Running it twice with no intervening writes performs no work. A bad
// document is skipped and reported, never fatal to the pass.
func (ix *Index) Sync(ctx context.Context, store *docstore.Store) (*SyncReport, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.syncLocked(ctx, store)
}

func (ix *Index) syncLocked(ctx context.Context, store *docstore.Store) (*SyncReport, error) {
	// Revision cutoff taken before the walk: documents written after this
	// point belong to the next pass, so the pass observes a consistent
	// "store as of revision high" view.
	high := store.Revision()

	tx, err := ix.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin sync: %w", err)
	}
	defer tx.Rollback()

	state, err := loadSyncState(tx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	seen := make(map[string]bool, len(state))

	err = store.Walk(func(path string, e *entity.Entity, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			id := idFromPath(path)
			seen[id] = true
			report.Skips = append(report.Skips, Skip{ID: id, Path: path, Reason: walkErr.Error()})
			return nil
		}
		seen[e.ID] = true

		if e.Rev > high {
			// Written after the cutoff; picked up next pass.
			return nil
		}
		if _, ok := ix.reg.Get(e.Type); !ok {
			report.Skips = append(report.Skips, Skip{ID: e.ID, Path: path, Reason: fmt.Sprintf("no schema registered for type %q", e.Type)})
			return nil
		}

		hash := entity.Hash(e)
		if mark, ok := state[e.ID]; ok && mark.hash == hash {
			return nil
		}

		if err := applyEntity(tx, ix.reg, e); err != nil {
			return fmt.Errorf("index %s: %w", e.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO sync_state (id, rev, hash) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET rev = excluded.rev, hash = excluded.hash
		`, e.ID, e.Rev, hash); err != nil {
			return fmt.Errorf("mark %s synced: %w", e.ID, err)
		}
		report.Synced++
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Documents removed out-of-band (files deleted, not tombstoned) drop
	// out of the index entirely.
	for id := range state {
		if seen[id] {
			continue
		}
		if err := removeEntity(tx, id); err != nil {
			return nil, fmt.Errorf("remove %s: %w", id, err)
		}
		report.Removed++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sync: %w", err)
	}

	ix.log.Info("sync complete", "synced", report.Synced, "removed", report.Removed, "skipped", len(report.Skips))
	return report, nil
}

// Rebuild regenerates the whole index from the document store. File-backed
// indexes are rebuilt into a fresh database that replaces the live one
// atomically only on success, so a cancelled or failed rebuild leaves the
// previous index fully intact.
func (ix *Index) Rebuild(ctx context.Context, store *docstore.Store) (*SyncReport, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.path == ":memory:" {
		return ix.rebuildInPlace(ctx, store)
	}

	tmpPath := ix.path + ".rebuild"
	removeIndexFiles(tmpPath)

	fresh, err := Open(tmpPath, ix.reg, ix.log)
	if err != nil {
		return nil, fmt.Errorf("stage rebuild: %w", err)
	}

	report, err := fresh.syncLocked(ctx, store)
	if err != nil {
		fresh.Close()
		removeIndexFiles(tmpPath)
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	if err := fresh.Close(); err != nil {
		removeIndexFiles(tmpPath)
		return nil, fmt.Errorf("finalize rebuild: %w", err)
	}

	if err := ix.db.Close(); err != nil {
		removeIndexFiles(tmpPath)
		return nil, fmt.Errorf("close live index: %w", err)
	}
	removeIndexFiles(ix.path)
	if err := os.Rename(tmpPath, ix.path); err != nil {
		return nil, fmt.Errorf("swap index: %w", err)
	}

	db, err := openDB(ix.path)
	if err != nil {
		return nil, fmt.Errorf("reopen index: %w", err)
	}
	ix.db = db
	ix.log.Info("rebuild complete", "synced", report.Synced)
	return report, nil
}

// rebuildInPlace clears all derived rows inside one transaction and
// resyncs. Used for ephemeral in-memory indexes where a file swap has
// nothing to swap.
func (ix *Index) rebuildInPlace(ctx context.Context, store *docstore.Store) (*SyncReport, error) {
	for _, table := range []string{"edges", "fields", "tags", "aliases", "entities", "sync_state"} {
		if _, err := ix.db.Exec("DELETE FROM " + table); err != nil {
			return nil, fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return ix.syncLocked(ctx, store)
}

func loadSyncState(tx *sql.Tx) (map[string]syncMark, error) {
	rows, err := tx.Query(`SELECT id, rev, hash FROM sync_state`)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]syncMark)
	for rows.Next() {
		var id, hash string
		var rev int64
		if err := rows.Scan(&id, &rev, &hash); err != nil {
			return nil, err
		}
		state[id] = syncMark{rev: rev, hash: hash}
	}
	return state, rows.Err()
}

// applyEntity recomputes every derived row for one entity: the index row,
// alias/tag/field rows, and the outgoing edge set diffed against what is
// already stored. FTS rows follow via triggers.
func applyEntity(tx *sql.Tx, reg *schema.Registry, e *entity.Entity) error {
	stub := isStub(reg, e)

	_, err := tx.Exec(`
		INSERT INTO entities (id, type, name, aliases_text, tags_text, prose, rev, created_at, updated_at, deleted, stub)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			aliases_text = excluded.aliases_text,
			tags_text = excluded.tags_text,
			prose = excluded.prose,
			rev = excluded.rev,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			stub = excluded.stub
	`, e.ID, e.Type, e.Name, strings.Join(e.Aliases, " "), strings.Join(e.Tags, " "), e.Prose,
		e.Rev, e.CreatedAt, e.UpdatedAt, boolToInt(e.Deleted), boolToInt(stub))
	if err != nil {
		return err
	}

	for _, table := range []string{"aliases", "tags", "fields"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE entity_id = ?", e.ID); err != nil {
			return err
		}
	}

	if !e.Deleted {
		for _, alias := range e.Aliases {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO aliases (entity_id, alias) VALUES (?, ?)`, e.ID, alias); err != nil {
				return err
			}
		}
		for _, tag := range e.Tags {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (entity_id, tag) VALUES (?, ?)`, e.ID, tag); err != nil {
				return err
			}
		}
		for field, value := range fieldValues(reg, e) {
			if _, err := tx.Exec(`INSERT INTO fields (entity_id, field, value) VALUES (?, ?, ?)`, e.ID, field, value); err != nil {
				return err
			}
		}
	}

	return diffEdges(tx, e.ID, extractEdges(reg, e))
}

// diffEdges reconciles the stored outgoing edges of source with the
// wanted set: removed edges are deleted, added edges inserted, unchanged
// edges untouched.
func diffEdges(tx *sql.Tx, sourceID string, want map[[2]string]bool) error {
	rows, err := tx.Query(`SELECT field, target_id FROM edges WHERE source_id = ?`, sourceID)
	if err != nil {
		return err
	}
	have := make(map[[2]string]bool)
	for rows.Next() {
		var field, target string
		if err := rows.Scan(&field, &target); err != nil {
			rows.Close()
			return err
		}
		have[[2]string{field, target}] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for edge := range have {
		if !want[edge] {
			if _, err := tx.Exec(`DELETE FROM edges WHERE source_id = ? AND field = ? AND target_id = ?`,
				sourceID, edge[0], edge[1]); err != nil {
				return err
			}
		}
	}
	for edge := range want {
		if !have[edge] {
			if _, err := tx.Exec(`INSERT INTO edges (source_id, field, target_id) VALUES (?, ?, ?)`,
				sourceID, edge[0], edge[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

func removeEntity(tx *sql.Tx, id string) error {
	for _, stmt := range []string{
		"DELETE FROM edges WHERE source_id = ?",
		"DELETE FROM aliases WHERE entity_id = ?",
		"DELETE FROM tags WHERE entity_id = ?",
		"DELETE FROM fields WHERE entity_id = ?",
		"DELETE FROM entities WHERE id = ?",
		"DELETE FROM sync_state WHERE id = ?",
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}
	return nil
}

// isStub reports whether a live document is missing required fields: an
// entity implied by other documents (or roughed in by hand) but never
// properly authored. Stubs are indexed so search and traversal still see
// them; the consistency checker reports them as orphans when referenced.
func isStub(reg *schema.Registry, e *entity.Entity) bool {
	if e.Deleted {
		return false
	}
	for _, v := range reg.Validate(e.Type, e.Fields) {
		if strings.HasPrefix(v.Reason, "required field") {
			return true
		}
	}
	return false
}

// extractEdges derives the outgoing edge set from the entity's reference
// fields per its schema. Tombstoned entities contribute no edges.
func extractEdges(reg *schema.Registry, e *entity.Entity) map[[2]string]bool {
	out := make(map[[2]string]bool)
	if e.Deleted {
		return out
	}
	s, ok := reg.Get(e.Type)
	if !ok {
		return out
	}
	for _, def := range s.Fields {
		if !def.Type.IsRef() {
			continue
		}
		for _, target := range refTargets(e.Fields[def.Name]) {
			out[[2]string{def.Name, target}] = true
		}
	}
	return out
}

func refTargets(v any) []string {
	switch t := v.(type) {
	case string:
		if _, _, err := entity.ParseID(t); err == nil {
			return []string{t}
		}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				if _, _, err := entity.ParseID(s); err == nil {
					out = append(out, s)
				}
			}
		}
		return out
	case []string:
		var out []string
		for _, s := range t {
			if _, _, err := entity.ParseID(s); err == nil {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// fieldValues renders schema fields to text for relational filtering.
func fieldValues(reg *schema.Registry, e *entity.Entity) map[string]string {
	out := make(map[string]string)
	s, ok := reg.Get(e.Type)
	if !ok {
		return out
	}
	for _, def := range s.Fields {
		v, present := e.Fields[def.Name]
		if !present || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				out[def.Name] = t
			}
		case bool:
			out[def.Name] = strconv.FormatBool(t)
		case float64:
			out[def.Name] = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			out[def.Name] = strconv.Itoa(t)
		case int64:
			out[def.Name] = strconv.FormatInt(t, 10)
		case []any, []string:
			if ids := refTargets(v); len(ids) > 0 {
				out[def.Name] = strings.Join(ids, ",")
			}
		}
	}
	return out
}

// idFromPath recovers an entity id from a document path when the file
// itself cannot be parsed: documents/<type>/<slug>.json -> type:slug.
func idFromPath(path string) string {
	typ := filepath.Base(filepath.Dir(path))
	slug := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if typ == "" || typ == "." || slug == "" {
		return ""
	}
	return typ + ":" + slug
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
