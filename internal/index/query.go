package index

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kittclouds/lorevault/pkg/entity"
)

// Row is one entity as the index sees it. Fields is only populated by
// Get; list queries leave it nil.
type Row struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Aliases   []string          `json:"aliases,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Prose     string            `json:"prose,omitempty"`
	Rev       int64             `json:"rev"`
	CreatedAt int64             `json:"createdAt"`
	UpdatedAt int64             `json:"updatedAt"`
	Deleted   bool              `json:"deleted,omitempty"`
	Stub      bool              `json:"stub,omitempty"`
}

// rowSelect pulls one entity row with its aliases and tags aggregated
// in a single round trip.
const rowSelect = `
SELECT e.id, e.type, e.name, e.prose, e.rev, e.created_at, e.updated_at, e.deleted, e.stub,
       (SELECT group_concat(a.alias, char(31)) FROM aliases a WHERE a.entity_id = e.id),
       (SELECT group_concat(t.tag, char(31)) FROM tags t WHERE t.entity_id = e.id)
FROM entities e
`

func scanRow(s interface{ Scan(...any) error }) (*Row, error) {
	var r Row
	var deleted, stub int
	var aliases, tags sql.NullString
	if err := s.Scan(&r.ID, &r.Type, &r.Name, &r.Prose, &r.Rev, &r.CreatedAt, &r.UpdatedAt,
		&deleted, &stub, &aliases, &tags); err != nil {
		return nil, err
	}
	r.Deleted = deleted != 0
	r.Stub = stub != 0
	r.Aliases = splitValues(aliases)
	r.Tags = splitValues(tags)
	return &r, nil
}

// Get returns the live entity with the given id, fields included.
func (ix *Index) Get(id string) (*Row, error) {
	if _, _, err := entity.ParseID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidArgument, err)
	}
	row, err := scanRow(ix.db.QueryRow(rowSelect+`WHERE e.id = ? AND e.deleted = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	fields, err := ix.db.Query(`SELECT field, value FROM fields WHERE entity_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get %s fields: %w", id, err)
	}
	defer fields.Close()
	row.Fields = map[string]string{}
	for fields.Next() {
		var field, value string
		if err := fields.Scan(&field, &value); err != nil {
			return nil, err
		}
		row.Fields[field] = value
	}
	return row, fields.Err()
}

// FilterOpts narrows a listing. Zero values mean "any". Field and Value
// go together; Field without Value matches any entity that has the field
// populated.
type FilterOpts struct {
	Type  string
	Tag   string
	Field string
	Value string
}

// Filter lists live entities matching every set criterion, ordered by
// name then id.
func (ix *Index) Filter(opts FilterOpts) ([]*Row, error) {
	var where []string
	var args []any
	where = append(where, "e.deleted = 0")
	if opts.Type != "" {
		where = append(where, "e.type = ?")
		args = append(args, opts.Type)
	}
	if opts.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM tags t WHERE t.entity_id = e.id AND t.tag = ?)")
		args = append(args, opts.Tag)
	}
	if opts.Field != "" {
		if opts.Value != "" {
			// instr over a comma-fenced value matches both scalar fields
			// and members of comma-joined reference lists.
			where = append(where, `EXISTS (SELECT 1 FROM fields f WHERE f.entity_id = e.id AND f.field = ?
				AND instr(',' || f.value || ',', ',' || ? || ',') > 0)`)
			args = append(args, opts.Field, opts.Value)
		} else {
			where = append(where, "EXISTS (SELECT 1 FROM fields f WHERE f.entity_id = e.id AND f.field = ?)")
			args = append(args, opts.Field)
		}
	}

	query := rowSelect + "WHERE " + strings.Join(where, " AND ") + " ORDER BY e.name, e.id"
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Hit is one search result. Score is the negated bm25 rank, so higher
// is better.
type Hit struct {
	Row   *Row    `json:"entity"`
	Score float64 `json:"score"`
}

// Search runs an FTS5 match over names, aliases, tags and prose, with
// name hits weighted heaviest. Results order by relevance, ties broken
// by most recently updated. A malformed query surfaces as
// entity.ErrInvalidArgument rather than a bare SQL error.
func (ix *Index) Search(query, typ string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query: %w", entity.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = 20
	}

	stmt := `
		SELECT e.id, e.type, e.name, e.prose, e.rev, e.created_at, e.updated_at, e.deleted, e.stub,
		       (SELECT group_concat(a.alias, char(31)) FROM aliases a WHERE a.entity_id = e.id),
		       (SELECT group_concat(t.tag, char(31)) FROM tags t WHERE t.entity_id = e.id),
		       bm25(entities_fts, 8.0, 4.0, 2.0, 1.0) AS rank
		FROM entities_fts
		JOIN entities e ON e.rowid = entities_fts.rowid
		WHERE entities_fts MATCH ? AND e.deleted = 0`
	args := []any{query}
	if typ != "" {
		stmt += " AND e.type = ?"
		args = append(args, typ)
	}
	stmt += " ORDER BY rank, e.updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := ix.db.Query(stmt, args...)
	if err != nil {
		return nil, matchErr(query, err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var r Row
		var deleted, stub int
		var aliases, tags sql.NullString
		var rank float64
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.Prose, &r.Rev, &r.CreatedAt, &r.UpdatedAt,
			&deleted, &stub, &aliases, &tags, &rank); err != nil {
			return nil, err
		}
		r.Deleted = deleted != 0
		r.Stub = stub != 0
		r.Aliases = splitValues(aliases)
		r.Tags = splitValues(tags)
		out = append(out, Hit{Row: &r, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, matchErr(query, err)
	}
	return out, nil
}

// matchErr translates FTS5 query-syntax failures, which SQLite may report
// either at prepare or at first step, into entity.ErrInvalidArgument.
func matchErr(query string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "fts5") || strings.Contains(msg, "syntax error") {
		return fmt.Errorf("search query %q: %w", query, entity.ErrInvalidArgument)
	}
	return fmt.Errorf("search: %w", err)
}

// Neighbor is one entity reached by graph traversal, annotated with its
// hop distance from the start.
type Neighbor struct {
	Row      *Row `json:"entity"`
	Distance int  `json:"distance"`
}

// Traverse walks the relationship graph breadth-first from start, in
// both edge directions, up to maxHops. A non-empty relation restricts
// the walk to edges derived from that field. The start entity itself is
// not in the result. Tombstoned entities terminate a path: they are
// neither returned nor traversed through. Cycles terminate because each
// entity is visited at most once.
func (ix *Index) Traverse(start string, maxHops int, relation string) ([]Neighbor, error) {
	if maxHops < 0 {
		return nil, fmt.Errorf("maxHops %d: %w", maxHops, entity.ErrInvalidArgument)
	}
	live, err := ix.liveIDs()
	if err != nil {
		return nil, err
	}
	if maxHops > len(live) {
		return nil, fmt.Errorf("maxHops %d exceeds entity count %d: %w", maxHops, len(live), entity.ErrInvalidArgument)
	}
	if _, err := ix.Get(start); err != nil {
		return nil, err
	}
	if maxHops == 0 {
		return nil, nil
	}

	edges, err := ix.AllEdges()
	if err != nil {
		return nil, err
	}
	// Only edges between two live entities enter the adjacency: a
	// tombstoned or never-authored target must not act as a bridge
	// between its referencers.
	adj := make(map[string][]string)
	for _, e := range edges {
		if relation != "" && e.Field != relation {
			continue
		}
		if !live[e.SourceID] || !live[e.TargetID] {
			continue
		}
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}

	visited := map[string]bool{start: true}
	distance := map[string]int{}
	frontier := []string{start}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range adj[id] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				distance[nb] = hop
				next = append(next, nb)
			}
		}
		frontier = next
	}

	var out []Neighbor
	for id, d := range distance {
		row, err := ix.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, Neighbor{Row: row, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Row.ID < out[j].Row.ID
	})
	return out, nil
}

// Referencers returns every live entity holding a reference to id,
// sorted for stable output. Used both as a query and as the document
// store's delete guard.
func (ix *Index) Referencers(id string) ([]entity.Reference, error) {
	rows, err := ix.db.Query(`
		SELECT ed.source_id, ed.field
		FROM edges ed
		JOIN entities s ON s.id = ed.source_id AND s.deleted = 0
		WHERE ed.target_id = ?
		ORDER BY ed.source_id, ed.field`, id)
	if err != nil {
		return nil, fmt.Errorf("referencers of %s: %w", id, err)
	}
	defer rows.Close()

	var out []entity.Reference
	for rows.Next() {
		ref := entity.Reference{TargetID: id}
		if err := rows.Scan(&ref.SourceID, &ref.Field); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// AllRows returns every indexed entity, tombstones included. The
// consistency checker works from this.
func (ix *Index) AllRows() ([]*Row, error) {
	rows, err := ix.db.Query(rowSelect + "ORDER BY e.id")
	if err != nil {
		return nil, fmt.Errorf("all rows: %w", err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllEdges returns the full edge set as references.
func (ix *Index) AllEdges() ([]entity.Reference, error) {
	rows, err := ix.db.Query(`SELECT source_id, field, target_id FROM edges ORDER BY source_id, field, target_id`)
	if err != nil {
		return nil, fmt.Errorf("all edges: %w", err)
	}
	defer rows.Close()

	var out []entity.Reference
	for rows.Next() {
		var ref entity.Reference
		if err := rows.Scan(&ref.SourceID, &ref.Field, &ref.TargetID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// LiveCount returns the number of live (non-tombstoned) entities.
func (ix *Index) LiveCount() (int, error) {
	var n int
	err := ix.db.QueryRow(`SELECT count(*) FROM entities WHERE deleted = 0`).Scan(&n)
	return n, err
}

func (ix *Index) liveIDs() (map[string]bool, error) {
	rows, err := ix.db.Query(`SELECT id FROM entities WHERE deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("live ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
