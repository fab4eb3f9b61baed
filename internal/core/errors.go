package core

// errors.go defines the import error taxonomy.
//
// Sentinel errors cover session-level conditions. The five typed errors map to
// the stages of an import: parsing (fatal, no session), validation (per row,
// excluded before the session exists), matching (per item), group consistency
// (per group) and committing to the target catalog (per group, retryable).

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that a session, item, entity or catalog entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness conflict in a store.
	ErrAlreadyExists = errors.New("already exists")

	// ErrActiveSessionExists is returned by Start when the owner already has an
	// ACTIVE or PAUSED session.
	ErrActiveSessionExists = errors.New("owner already has an active import session")

	// ErrNoActiveSession is returned by owner commands when the owner has no
	// ACTIVE or PAUSED session.
	ErrNoActiveSession = errors.New("no active import session")

	// ErrSessionNotActive is returned when a mutation requires an ACTIVE session.
	ErrSessionNotActive = errors.New("import session is not active")

	// ErrInvalidTransition is returned when a status change is not allowed from
	// the session's current status.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrStalePrompt is returned when a response does not match the session's
	// pending prompt.
	ErrStalePrompt = errors.New("prompt is no longer pending")

	// ErrPromptExpired is returned when a response arrives after the prompt timed out.
	ErrPromptExpired = errors.New("prompt expired")

	// ErrInvalidToken is returned for malformed correlation tokens.
	ErrInvalidToken = errors.New("invalid prompt token")

	// ErrNoAcceptedRows is returned by Start when validation rejected every row.
	ErrNoAcceptedRows = errors.New("no rows passed validation")

	// ErrUnknownFlavor is returned for an unregistered importer flavor.
	ErrUnknownFlavor = errors.New("unknown import flavor")

	// ErrFileTooLarge is returned when a source file exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrSessionBusy is returned when another worker is already driving the session.
	ErrSessionBusy = errors.New("import session is busy")

	// ErrInvalidResponse is returned for a response action the prompt cannot accept.
	ErrInvalidResponse = errors.New("invalid prompt response")
)

// ParseError is a malformed-file error. Any parse error aborts the import.
type ParseError struct {
	Line    int    // 1-based source line, 0 when not tied to a line
	Column  string // canonical column, when the error concerns one
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error")
	if e.Line > 0 {
		fmt.Fprintf(&b, " on line %d", e.Line)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %q", e.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseErrors collects every parse error found before aborting.
type ParseErrors []*ParseError

func (p ParseErrors) Error() string {
	switch len(p) {
	case 0:
		return "parse error"
	case 1:
		return p[0].Error()
	}
	msgs := make([]string, len(p))
	for i, e := range p {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d parse errors: %s", len(p), strings.Join(msgs, "; "))
}

// As lets errors.As find the first *ParseError.
func (p ParseErrors) As(target any) bool {
	if t, ok := target.(**ParseError); ok && len(p) > 0 {
		*t = p[0]
		return true
	}
	return false
}

// ValidationError is a single (row, column, message) rejection.
type ValidationError struct {
	RowIndex int    `json:"rowIndex"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value,omitempty"`
	Message  string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d: %s: %s", e.RowIndex, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.RowIndex, e.Message)
}

// MatchKind distinguishes the two match failure modes.
type MatchKind string

const (
	MatchNotFound    MatchKind = "not_found"
	MatchUnavailable MatchKind = "unavailable"
)

// MatchError reports a catalog lookup failure for one item.
type MatchError struct {
	Kind    MatchKind
	Subject string
	Err     error
}

func (e *MatchError) Error() string {
	switch e.Kind {
	case MatchNotFound:
		return fmt.Sprintf("candidate not found: %s", e.Subject)
	default:
		if e.Err != nil {
			return fmt.Sprintf("catalog unavailable while resolving %q: %v", e.Subject, e.Err)
		}
		return fmt.Sprintf("catalog unavailable while resolving %q", e.Subject)
	}
}

func (e *MatchError) Unwrap() error { return e.Err }

// Reason returns the item result reason for this failure.
func (e *MatchError) Reason() ResultReason {
	if e.Kind == MatchNotFound {
		return ReasonCandidateNotFound
	}
	return ReasonCatalogDown
}

// GroupConsistencyError reports members of one group disagreeing on shared fields.
type GroupConsistencyError struct {
	GroupKey string
	Field    string
	Values   []string
}

func (e *GroupConsistencyError) Error() string {
	return fmt.Sprintf("mismatched group fields in group %q: %s has values %s",
		e.GroupKey, e.Field, strings.Join(quoteAll(e.Values), ", "))
}

// CommitError reports a failed write to the target catalog.
type CommitError struct {
	GroupKey string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit group %q: %v", e.GroupKey, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

func quoteAll(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprintf("%q", v)
	}
	return out
}
