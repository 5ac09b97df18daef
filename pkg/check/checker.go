// Package check audits the indexed world for consistency problems that
// neither schema validation nor sync prevent: references to entities
// that do not exist, references resting on stubs, alias collisions,
// reference fields pointing at the wrong entity type, and prose that
// mentions an entity without a reference field backing it up. Findings
// are reported, never auto-fixed; the documents stay exactly as their
// author wrote them.
package check

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kittclouds/lorevault/internal/index"
	"github.com/kittclouds/lorevault/pkg/entity"
	"github.com/kittclouds/lorevault/pkg/matcher"
	"github.com/kittclouds/lorevault/pkg/schema"
)

// Dangling is a reference whose target has no live entity behind it.
type Dangling struct {
	Ref entity.Reference `json:"ref"`
	// Reason is "missing" when no document exists for the target, or
	// "tombstoned" when the target was deleted.
	Reason string `json:"reason"`
}

// Orphan is a stub entity that other entities reference: implied by the
// world but never properly authored.
type Orphan struct {
	ID          string             `json:"id"`
	Referencers []entity.Reference `json:"referencers"`
}

// Collision is a name or alias claimed by more than one live entity,
// keyed by its canonical form.
type Collision struct {
	Surface string   `json:"surface"`
	IDs     []string `json:"ids"`
}

// Mismatch is a reference field pointing at an entity of the wrong type.
type Mismatch struct {
	Ref      entity.Reference `json:"ref"`
	WantType string           `json:"wantType"`
	GotType  string           `json:"gotType"`
}

// Mention is a prose passage naming an entity the source has no
// reference field for.
type Mention struct {
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
	Surface  string `json:"surface"`
	Offset   int    `json:"offset"`
}

// Report holds one audit's findings.
type Report struct {
	Dangling         []Dangling  `json:"dangling,omitempty"`
	Orphans          []Orphan    `json:"orphans,omitempty"`
	Collisions       []Collision `json:"collisions,omitempty"`
	Mismatches       []Mismatch  `json:"mismatches,omitempty"`
	UnlinkedMentions []Mention   `json:"unlinkedMentions,omitempty"`
}

// Clean reports whether the audit found nothing at all.
func (r *Report) Clean() bool {
	return len(r.Dangling) == 0 && len(r.Orphans) == 0 && len(r.Collisions) == 0 &&
		len(r.Mismatches) == 0 && len(r.UnlinkedMentions) == 0
}

// Count returns the total number of findings.
func (r *Report) Count() int {
	return len(r.Dangling) + len(r.Orphans) + len(r.Collisions) +
		len(r.Mismatches) + len(r.UnlinkedMentions)
}

// Checker runs consistency audits against the derived index. Run after a
// sync so the audit sees current state.
type Checker struct {
	ix  *index.Index
	reg *schema.Registry
	log *slog.Logger
}

func New(ix *index.Index, reg *schema.Registry, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{ix: ix, reg: reg, log: log}
}

// Run performs a full audit.
func (c *Checker) Run() (*Report, error) {
	rows, err := c.ix.AllRows()
	if err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}
	edges, err := c.ix.AllEdges()
	if err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}

	byID := make(map[string]*index.Row, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	report := &Report{}
	c.checkEdges(report, byID, edges)
	if err := c.checkCollisions(report, rows); err != nil {
		return nil, err
	}
	if err := c.checkMentions(report, rows, edges); err != nil {
		return nil, err
	}

	sortReport(report)
	c.log.Info("check complete", "findings", report.Count())
	return report, nil
}

// checkEdges covers the three structural audits in one pass over the
// edge set: dangling targets, stub targets, and type mismatches.
func (c *Checker) checkEdges(report *Report, byID map[string]*index.Row, edges []entity.Reference) {
	orphanRefs := map[string][]entity.Reference{}

	for _, e := range edges {
		source, ok := byID[e.SourceID]
		if !ok || source.Deleted {
			continue
		}

		target, ok := byID[e.TargetID]
		switch {
		case !ok:
			report.Dangling = append(report.Dangling, Dangling{Ref: e, Reason: "missing"})
			continue
		case target.Deleted:
			report.Dangling = append(report.Dangling, Dangling{Ref: e, Reason: "tombstoned"})
			continue
		case target.Stub:
			orphanRefs[e.TargetID] = append(orphanRefs[e.TargetID], e)
		}

		if want, ok := c.reg.RefTarget(source.Type, e.Field); ok && want != target.Type {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Ref: e, WantType: want, GotType: target.Type,
			})
		}
	}

	for id, refs := range orphanRefs {
		report.Orphans = append(report.Orphans, Orphan{ID: id, Referencers: refs})
	}
}

func (c *Checker) checkCollisions(report *Report, rows []*index.Row) error {
	dict, err := liveDictionary(rows)
	if err != nil {
		return fmt.Errorf("check collisions: %w", err)
	}
	for surface, ids := range dict.Collisions() {
		sort.Strings(ids)
		report.Collisions = append(report.Collisions, Collision{Surface: surface, IDs: ids})
	}
	return nil
}

// checkMentions scans every live entity's prose against the name
// dictionary and reports mentions of entities the source holds no
// reference edge to. Self-mentions are expected and skipped; ambiguous
// mentions (a colliding surface) are skipped too, they already show up
// as collisions.
func (c *Checker) checkMentions(report *Report, rows []*index.Row, edges []entity.Reference) error {
	dict, err := liveDictionary(rows)
	if err != nil {
		return fmt.Errorf("check mentions: %w", err)
	}

	linked := map[[2]string]bool{}
	for _, e := range edges {
		linked[[2]string{e.SourceID, e.TargetID}] = true
	}

	for _, r := range rows {
		if r.Deleted || r.Prose == "" {
			continue
		}
		for _, m := range dict.Scan(r.Prose) {
			if len(m.IDs) != 1 {
				continue
			}
			target := m.IDs[0]
			if target == r.ID || linked[[2]string{r.ID, target}] {
				continue
			}
			report.UnlinkedMentions = append(report.UnlinkedMentions, Mention{
				SourceID: r.ID,
				TargetID: target,
				Surface:  m.Surface,
				Offset:   m.Start,
			})
		}
	}
	return nil
}

func liveDictionary(rows []*index.Row) (*matcher.Dictionary, error) {
	var entries []matcher.Entry
	for _, r := range rows {
		if r.Deleted {
			continue
		}
		entries = append(entries, matcher.Entry{ID: r.ID, Name: r.Name, Aliases: r.Aliases})
	}
	return matcher.Compile(entries)
}

func sortReport(r *Report) {
	sort.Slice(r.Dangling, func(i, j int) bool {
		return r.Dangling[i].Ref.String() < r.Dangling[j].Ref.String()
	})
	sort.Slice(r.Orphans, func(i, j int) bool { return r.Orphans[i].ID < r.Orphans[j].ID })
	for _, o := range r.Orphans {
		sort.Slice(o.Referencers, func(i, j int) bool {
			return o.Referencers[i].String() < o.Referencers[j].String()
		})
	}
	sort.Slice(r.Collisions, func(i, j int) bool { return r.Collisions[i].Surface < r.Collisions[j].Surface })
	sort.Slice(r.Mismatches, func(i, j int) bool {
		return r.Mismatches[i].Ref.String() < r.Mismatches[j].Ref.String()
	})
	sort.Slice(r.UnlinkedMentions, func(i, j int) bool {
		a, b := r.UnlinkedMentions[i], r.UnlinkedMentions[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.Offset < b.Offset
	})
}
