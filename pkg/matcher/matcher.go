// Package matcher builds an Aho-Corasick dictionary over entity names and
// aliases. One automaton serves two uses: canonical-form lookup (alias
// collision detection) and linear-time scanning of prose for entity
// mentions.
package matcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"
)

// isJoiner reports punctuation that commonly appears inside names and is
// preserved during canonicalization: "Jean-Luc", "O'Brien", "St. Maren".
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'.', '_', '&':
		return true
	default:
		return false
	}
}

// Canonicalize folds a surface form for matching: lowercase, keep letters,
// digits and joiners, collapse everything else to single spaces. The same
// function is applied to dictionary patterns and scanned text, so the two
// always agree.
func Canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}
	return strings.TrimRight(out.String(), " ")
}

// Entry is one entity to index: its canonical name plus aliases.
type Entry struct {
	ID      string
	Name    string
	Aliases []string
}

// Match is one detected mention, with byte offsets into the original text.
type Match struct {
	Start   int
	End     int
	Surface string
	// IDs lists every entity sharing the matched pattern. More than one
	// id here is itself an alias collision.
	IDs []string
}

// Dictionary is the compiled automaton plus pattern bookkeeping.
type Dictionary struct {
	ac           *ahocorasick.Automaton
	patterns     []string
	patternIndex map[string]int
	patternIDs   [][]string
	stop         *stopwords.Stopwords
}

// Compile builds a dictionary from entries. Single-word patterns that are
// plain English stopwords ("the", "it") are dropped: an alias like "the
// Bold" stays, a bare "The" would only produce noise.
func Compile(entries []Entry) (*Dictionary, error) {
	d := &Dictionary{
		patternIndex: make(map[string]int),
		stop:         stopwords.MustGet("en"),
	}

	for _, e := range entries {
		surfaces := append([]string{e.Name}, e.Aliases...)
		for _, surface := range surfaces {
			key := Canonicalize(surface)
			if key == "" || d.isStopPattern(key) {
				continue
			}
			idx, exists := d.patternIndex[key]
			if !exists {
				idx = len(d.patterns)
				d.patterns = append(d.patterns, key)
				d.patternIndex[key] = idx
				d.patternIDs = append(d.patternIDs, nil)
			}
			d.patternIDs[idx] = appendUnique(d.patternIDs[idx], e.ID)
		}
	}

	if len(d.patterns) == 0 {
		return d, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(d.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	d.ac = ac
	return d, nil
}

func (d *Dictionary) isStopPattern(key string) bool {
	if strings.ContainsRune(key, ' ') {
		return false
	}
	return d.stop != nil && d.stop.Contains(key)
}

// Lookup returns the ids registered for a surface form, or nil.
func (d *Dictionary) Lookup(surface string) []string {
	idx, ok := d.patternIndex[Canonicalize(surface)]
	if !ok {
		return nil
	}
	return d.patternIDs[idx]
}

// Collisions returns every pattern claimed by more than one entity,
// keyed by canonical form.
func (d *Dictionary) Collisions() map[string][]string {
	out := map[string][]string{}
	for i, ids := range d.patternIDs {
		if len(ids) > 1 {
			out[d.patterns[i]] = ids
		}
	}
	return out
}

// Scan finds all entity mentions in text. Offsets are mapped back from
// the canonicalized haystack to the original string so callers can quote
// the exact passage.
func (d *Dictionary) Scan(text string) []Match {
	if d.ac == nil {
		return nil
	}

	canon := Canonicalize(text)
	canonToOrig := offsetMap(text)

	found := d.ac.FindAllOverlapping([]byte(canon))
	out := make([]Match, 0, len(found))
	for _, m := range found {
		if !wholeWords(canon, m.Start, m.End) {
			continue
		}
		start := clampOffset(m.Start, canonToOrig, len(text))
		end := clampOffset(m.End, canonToOrig, len(text))
		if start >= end || end > len(text) {
			continue
		}
		out = append(out, Match{
			Start:   start,
			End:     end,
			Surface: text[start:end],
			IDs:     d.patternIDs[m.PatternID],
		})
	}
	return out
}

// wholeWords rejects matches that begin or end mid-token, e.g. the
// pattern "ash" inside "ashford".
func wholeWords(canon string, start, end int) bool {
	if start > 0 && canon[start-1] != ' ' {
		return false
	}
	if end < len(canon) && canon[end] != ' ' {
		return false
	}
	return true
}

// offsetMap maps each byte position of the canonicalized text back to its
// byte position in the original, mirroring the transformation done by
// Canonicalize rune by rune.
func offsetMap(original string) []int {
	mapping := make([]int, 0, len(original)+1)
	lastWasSpace := true
	pos := 0

	for _, ch := range original {
		runeLen := utf8.RuneLen(ch)
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			for i := 0; i < utf8.RuneLen(c); i++ {
				mapping = append(mapping, pos)
			}
			lastWasSpace = false
		} else if !lastWasSpace {
			mapping = append(mapping, pos)
			lastWasSpace = true
		}
		pos += runeLen
	}
	mapping = append(mapping, pos)
	return mapping
}

func clampOffset(off int, mapping []int, originalLen int) int {
	if off < 0 {
		return 0
	}
	if off >= len(mapping) {
		return originalLen
	}
	return mapping[off]
}

func appendUnique(list []string, item string) []string {
	for _, s := range list {
		if s == item {
			return list
		}
	}
	return append(list, item)
}
