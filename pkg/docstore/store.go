// Package docstore is the authoritative side of the dual representation:
// one hand-editable JSON document per entity under
// <vault>/documents/<type>/<slug>.json. Everything queryable is derived
// from these files and can be rebuilt from them at any time.
package docstore

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kittclouds/lorevault/pkg/entity"
	"github.com/kittclouds/lorevault/pkg/schema"
)

// DocumentsDirName is the subdirectory of the vault that holds documents.
const DocumentsDirName = "documents"

// DependentsFunc reports the live references pointing at an entity.
// Wired to the derived index by the application; Delete consults it so a
// referenced entity is not tombstoned by accident.
type DependentsFunc func(id string) ([]entity.Reference, error)

// Draft is the caller-supplied portion of a write. System fields (id,
// revision, timestamps) are assigned by the store.
type Draft struct {
	Name    string
	Aliases []string
	Tags    []string
	Fields  map[string]any
	Prose   string
}

// Store reads and writes entity documents. Single-writer: all mutations
// serialize through one mutex, which is all the interactive workload
// needs.
type Store struct {
	mu   sync.Mutex
	root string
	reg  *schema.Registry
	log  *slog.Logger

	rev        int64
	dependents DependentsFunc
	now        func() int64
}

// Open scans an existing vault (creating the documents directory if
// needed) and recovers the revision high-water mark from the documents
// themselves.
func Open(vaultDir string, reg *schema.Registry, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		root: filepath.Join(vaultDir, DocumentsDirName),
		reg:  reg,
		log:  log,
		now:  func() int64 { return time.Now().UnixMilli() },
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}

	err := s.Walk(func(path string, e *entity.Entity, err error) error {
		if err != nil {
			log.Warn("unreadable document at open", "path", path, "error", err)
			return nil
		}
		if e.Rev > s.rev {
			s.rev = e.Rev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetDependents installs the live-reference lookup used by Delete.
func (s *Store) SetDependents(fn DependentsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents = fn
}

// Dir returns the documents directory, for the snapshot manager and the
// file watcher.
func (s *Store) Dir() string { return s.root }

// Revision returns the current store-wide revision high-water mark.
// Every successful write or delete increments it, so the sync engine can
// take a consistent cutoff before walking documents.
func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Write validates the draft against the schema for typ and persists it.
// An empty id assigns a new one from the slugged name; writing an
// existing id updates the document in place. On a rename, the previous
// canonical name is preserved as an alias so it stays resolvable.
// Nothing is persisted when validation fails.
func (s *Store) Write(typ, id string, d Draft) (*entity.Entity, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("%w: entity name is required", entity.ErrInvalidArgument)
	}
	if violations := s.reg.Validate(typ, d.Fields); len(violations) > 0 {
		return nil, &entity.ValidationError{ID: id, Type: typ, Violations: violations}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id == "" {
		id = entity.MakeID(typ, d.Name)
	}
	idType, _, err := entity.ParseID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidArgument, err)
	}
	if idType != typ {
		return nil, fmt.Errorf("%w: id %q does not belong to type %q", entity.ErrInvalidArgument, id, typ)
	}

	e := &entity.Entity{
		ID:        id,
		Type:      typ,
		Name:      d.Name,
		Aliases:   append([]string{}, d.Aliases...),
		Tags:      append([]string{}, d.Tags...),
		Fields:    d.Fields,
		Prose:     d.Prose,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}

	if prev, err := s.readLocked(id); err == nil {
		e.CreatedAt = prev.CreatedAt
		if prev.Name != e.Name && !containsFold(e.Aliases, prev.Name) {
			e.Aliases = append(e.Aliases, prev.Name)
		}
	}

	s.rev++
	e.Rev = s.rev

	if err := s.persistLocked(e); err != nil {
		s.rev--
		return nil, err
	}
	s.log.Debug("document written", "id", e.ID, "rev", e.Rev)
	return e, nil
}

// Read returns the live entity with the given id. Tombstoned and missing
// entities both yield ErrNotFound.
func (s *Store) Read(id string) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.readLocked(id)
	if err != nil {
		return nil, err
	}
	if e.Deleted {
		return nil, fmt.Errorf("read %s: %w", id, entity.ErrNotFound)
	}
	return e, nil
}

// Delete tombstones an entity. The document stays on disk so references
// to it remain reportable; only the live views exclude it. Without force,
// the delete is refused while live edges still point at the entity.
func (s *Store) Delete(id string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.readLocked(id)
	if err != nil {
		return err
	}
	if e.Deleted {
		return fmt.Errorf("delete %s: %w", id, entity.ErrNotFound)
	}

	if !force && s.dependents != nil {
		refs, err := s.dependents(id)
		if err != nil {
			return fmt.Errorf("check dependents of %s: %w", id, err)
		}
		if len(refs) > 0 {
			return &entity.DependentsError{ID: id, Referencers: refs}
		}
	}

	now := s.now()
	e.Deleted = true
	e.DeletedAt = now
	e.UpdatedAt = now
	s.rev++
	e.Rev = s.rev

	if err := s.persistLocked(e); err != nil {
		s.rev--
		return err
	}
	s.log.Info("entity tombstoned", "id", id, "forced", force)
	return nil
}

// List streams live entity ids, optionally filtered by type, in sorted
// order. Documents are not materialized, so memory stays bounded at
// thousands of entities.
func (s *Store) List(typ string, fn func(id string) error) error {
	var ids []string
	err := s.Walk(func(path string, e *entity.Entity, err error) error {
		if err != nil || e == nil || e.Deleted {
			return nil
		}
		if typ != "" && e.Type != typ {
			return nil
		}
		ids = append(ids, e.ID)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// WalkFunc visits one document per call. A non-nil err means the file
// could not be parsed; e is nil in that case. Returning an error stops
// the walk.
type WalkFunc func(path string, e *entity.Entity, err error) error

// Walk visits every document in the store, tombstoned ones included.
// Parse failures are passed to fn rather than aborting, so one corrupt
// file never hides the rest of the store.
func (s *Store) Walk(fn WalkFunc) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fn(path, nil, err)
		}
		e, err := entity.Decode(data)
		if err != nil {
			return fn(path, nil, err)
		}
		return fn(path, e, nil)
	})
}

func (s *Store) path(id string) (string, error) {
	typ, slug, err := entity.ParseID(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrInvalidArgument, err)
	}
	return filepath.Join(s.root, typ, slug+".json"), nil
}

func (s *Store) readLocked(id string) (*entity.Entity, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	e, err := entity.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", id, err)
	}
	return e, nil
}

// persistLocked writes the document atomically: temp file in the target
// directory, then rename. A crash mid-write leaves either the old
// document or none, never a truncated one.
func (s *Store) persistLocked(e *entity.Entity) error {
	path, err := s.path(e.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create type dir: %w", err)
	}
	data, err := entity.Encode(e)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", e.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("stage %s: %w", e.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("stage %s: %w", e.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist %s: %w", e.ID, err)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
