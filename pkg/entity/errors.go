package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for caller misuse and missing records. Wrapped with
// context at the call site; match with errors.Is.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Violation is one schema rule a document breaks.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError rejects a write. It carries every violated field, not
// just the first, so the caller can fix the document in one pass. The
// store persists nothing when this is returned.
type ValidationError struct {
	ID         string
	Type       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Reason
	}
	subject := e.ID
	if subject == "" {
		subject = "new " + e.Type
	}
	return fmt.Sprintf("document %s fails schema validation (%s)", subject, strings.Join(parts, "; "))
}

// DependentsError blocks a delete while live entities still reference the
// target. Recoverable: remove the referencing fields first, or force the
// delete and let the consistency checker report the dangling references.
type DependentsError struct {
	ID          string
	Referencers []Reference
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("cannot delete %s: %d live reference(s), first %s (use force to tombstone anyway)",
		e.ID, len(e.Referencers), e.Referencers[0])
}

// BreakingChangeError rejects a schema registration that existing
// documents could no longer satisfy. Must be resolved by the schema
// author; never auto-recovered.
type BreakingChangeError struct {
	Type    string
	Reasons []string
}

func (e *BreakingChangeError) Error() string {
	return fmt.Sprintf("schema %q: breaking change rejected (%s)", e.Type, strings.Join(e.Reasons, "; "))
}
