package core

import (
	"context"
	"errors"
	"strings"
)

// MaxCandidates caps the candidate list shown to an operator.
const MaxCandidates = 25

// Resolution is the matcher's answer for one subject.
type Resolution struct {
	Resolved   bool
	CatalogID  string
	Title      string
	Confidence Confidence
	Query      string      // text that was searched
	Candidates []Candidate // set when not resolved
}

// Matcher resolves row subjects against the catalog. It has no side effects;
// the driver persists what it returns.
type Matcher struct {
	catalog Catalog
	limit   int
}

// NewMatcher creates a matcher. limit is clamped to 1..MaxCandidates.
func NewMatcher(catalog Catalog, limit int) *Matcher {
	if limit <= 0 || limit > MaxCandidates {
		limit = MaxCandidates
	}
	return &Matcher{catalog: catalog, limit: limit}
}

// Resolve runs the automatic path: verify a pre-supplied id, otherwise search
// by subject and auto-accept a single exact title match.
func (m *Matcher) Resolve(ctx context.Context, subject, preSuppliedID string) (Resolution, error) {
	if preSuppliedID != "" {
		return m.Verify(ctx, preSuppliedID, ConfidenceExact)
	}
	return m.Search(ctx, subject, ConfidenceExact)
}

// Verify looks up an id. A missing id is a MatchError with no fallback to search.
func (m *Matcher) Verify(ctx context.Context, id string, conf Confidence) (Resolution, error) {
	id = strings.TrimSpace(id)
	c, err := m.catalog.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Resolution{}, &MatchError{Kind: MatchNotFound, Subject: id, Err: err}
	}
	if err != nil {
		return Resolution{}, &MatchError{Kind: MatchUnavailable, Subject: id, Err: err}
	}
	return Resolution{
		Resolved:   true,
		CatalogID:  c.ID,
		Title:      c.Title,
		Confidence: conf,
		Query:      id,
	}, nil
}

// Search queries the catalog by text. Exactly one normalized-title match
// resolves with confidence conf; anything else returns ranked candidates.
func (m *Matcher) Search(ctx context.Context, text string, conf Confidence) (Resolution, error) {
	text = strings.TrimSpace(text)
	results, err := m.catalog.Search(ctx, text, m.limit)
	if err != nil {
		return Resolution{}, &MatchError{Kind: MatchUnavailable, Subject: text, Err: err}
	}

	want := NormalizeTitle(text)
	var exact []Candidate
	for _, c := range results {
		if NormalizeTitle(c.Title) == want {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return Resolution{
			Resolved:   true,
			CatalogID:  exact[0].ID,
			Title:      exact[0].Title,
			Confidence: conf,
			Query:      text,
		}, nil
	}

	if len(results) > m.limit {
		results = results[:m.limit]
	}
	return Resolution{Query: text, Candidates: results}, nil
}
