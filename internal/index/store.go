// Package index maintains the derived, disposable representation of the
// document store: one relational row per entity, alias/tag/field rows,
// relationship edges extracted from reference fields, and an FTS5
// inverted index over the searchable text. None of it is authoritative;
// all of it can be rebuilt from the documents at any time.
//
// Uses ncruces/go-sqlite3/driver, which provides a database/sql interface
// over an embedded SQLite.
package index

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kittclouds/lorevault/pkg/schema"
)

// unitSep joins multi-valued columns inside group_concat results.
const unitSep = "\x1f"

// ddl defines all derived tables. The entities_fts virtual table is
// external-content over entities; the triggers keep it aligned with live
// rows only, so tombstones never surface in search.
const ddl = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    aliases_text TEXT NOT NULL DEFAULT '',
    tags_text TEXT NOT NULL DEFAULT '',
    prose TEXT NOT NULL DEFAULT '',
    rev INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    stub INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type) WHERE deleted = 0;
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);

CREATE TABLE IF NOT EXISTS aliases (
    entity_id TEXT NOT NULL,
    alias TEXT NOT NULL,
    PRIMARY KEY (entity_id, alias)
);

CREATE TABLE IF NOT EXISTS tags (
    entity_id TEXT NOT NULL,
    tag TEXT NOT NULL,
    PRIMARY KEY (entity_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

CREATE TABLE IF NOT EXISTS fields (
    entity_id TEXT NOT NULL,
    field TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (entity_id, field)
);

CREATE INDEX IF NOT EXISTS idx_fields_value ON fields(field, value);

-- Edges: no foreign keys, referential integrity is the checker's job.
CREATE TABLE IF NOT EXISTS edges (
    source_id TEXT NOT NULL,
    field TEXT NOT NULL,
    target_id TEXT NOT NULL,
    PRIMARY KEY (source_id, field, target_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

CREATE TABLE IF NOT EXISTS sync_state (
    id TEXT PRIMARY KEY,
    rev INTEGER NOT NULL,
    hash TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
    name,
    aliases_text,
    tags_text,
    prose,
    content='entities',
    content_rowid='rowid',
    tokenize='porter unicode61'
);
`

// triggers keep entities_fts in lockstep with live entity rows.
const triggers = `
CREATE TRIGGER IF NOT EXISTS entities_ai AFTER INSERT ON entities BEGIN
    INSERT INTO entities_fts(rowid, name, aliases_text, tags_text, prose)
        SELECT new.rowid, new.name, new.aliases_text, new.tags_text, new.prose WHERE new.deleted = 0;
END;
CREATE TRIGGER IF NOT EXISTS entities_ad AFTER DELETE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, name, aliases_text, tags_text, prose)
        SELECT 'delete', old.rowid, old.name, old.aliases_text, old.tags_text, old.prose WHERE old.deleted = 0;
END;
CREATE TRIGGER IF NOT EXISTS entities_au AFTER UPDATE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, name, aliases_text, tags_text, prose)
        SELECT 'delete', old.rowid, old.name, old.aliases_text, old.tags_text, old.prose WHERE old.deleted = 0;
    INSERT INTO entities_fts(rowid, name, aliases_text, tags_text, prose)
        SELECT new.rowid, new.name, new.aliases_text, new.tags_text, new.prose WHERE new.deleted = 0;
END;
`

// Index is the SQLite-backed derived index. A single mutex serializes
// sync and rebuild; readers go through database/sql and see the last
// committed state while a sync transaction is open.
type Index struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	reg  *schema.Registry
	log  *slog.Logger
}

// Open opens (or creates) the index at path. Use ":memory:" for an
// ephemeral index in tests.
func Open(path string, reg *schema.Registry, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Index{db: db, path: path, reg: reg, log: log}, nil
}

func openDB(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	for _, stmts := range []string{ddl, triggers} {
		if _, err := db.Exec(stmts); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index schema: %w", err)
		}
	}
	return db, nil
}

// Close closes the database handle.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.db != nil {
		err := ix.db.Close()
		ix.db = nil
		return err
	}
	return nil
}

// Path returns the index file path ("" semantics aside, ":memory:" for
// ephemeral indexes).
func (ix *Index) Path() string { return ix.path }

// removeIndexFiles deletes an index database and its WAL sidecars.
func removeIndexFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
}

func splitValues(joined sql.NullString) []string {
	if !joined.Valid || joined.String == "" {
		return nil
	}
	return strings.Split(joined.String, unitSep)
}
