// Package entity defines the document model shared by the authoritative
// store and the derived index. A document is one JSON file per entity,
// diff-friendly and hand-editable; everything else in the system is derived
// from these files.
package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Entity is one addressable record in the document store.
// The ID is immutable once assigned; the canonical name may change, but
// prior names are kept resolvable through the aliases list.
type Entity struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	Aliases []string       `json:"aliases"`
	Tags    []string       `json:"tags"`
	Fields  map[string]any `json:"fields"`
	Prose   string         `json:"prose"`

	// Rev is the store-wide revision at which this document was last
	// written. The sync engine keys incremental work on it.
	Rev       int64 `json:"rev"`
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`

	// Tombstone fields. Deleted entities keep their document so that
	// references to them stay reportable.
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedAt int64 `json:"deletedAt,omitempty"`
}

// Reference is a derived relationship fact: source entity's field names the
// target entity. Edges are never authored directly; they are recomputed from
// reference fields on every sync.
type Reference struct {
	SourceID string `json:"sourceId"`
	Field    string `json:"field"`
	TargetID string `json:"targetId"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s.%s -> %s", r.SourceID, r.Field, r.TargetID)
}

// Encode renders the document in its on-disk form: indented JSON with
// stable field order, so hand edits and programmatic writes diff cleanly.
func Encode(e *Entity) ([]byte, error) {
	buf, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.ID, err)
	}
	return append(buf, '\n'), nil
}

// Decode parses a document. It is strict about JSON shape but not about
// schema conformance; schema validation is the registry's job.
func Decode(data []byte) (*Entity, error) {
	var e Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		return nil, fmt.Errorf("document has no id")
	}
	if e.Type == "" {
		return nil, fmt.Errorf("document %s has no type", e.ID)
	}
	if e.Aliases == nil {
		e.Aliases = []string{}
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	return &e, nil
}

// Hash returns a content hash of the document, used by the sync engine to
// detect out-of-band edits that did not bump the revision counter.
func Hash(e *Entity) string {
	buf, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// MakeID builds a canonical entity id of the form "type:slug".
func MakeID(typ, name string) string {
	return typ + ":" + Slug(name)
}

// ParseID splits an entity id into its type and slug parts.
func ParseID(id string) (typ, slug string, err error) {
	typ, slug, ok := strings.Cut(id, ":")
	if !ok || typ == "" || slug == "" {
		return "", "", fmt.Errorf("malformed entity id %q (want type:slug)", id)
	}
	return typ, slug, nil
}

// Slug lowercases a display name into a filesystem- and id-safe token.
// "Iron Kingdom" -> "iron-kingdom".
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
