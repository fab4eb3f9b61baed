package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/JonMunkholm/Reconcile/internal/core"
)

// Static is an in-memory catalog loaded from a YAML snapshot. It is used
// offline, in development and in tests.
type Static struct {
	titles []core.Candidate
	byID   map[string]int
	byRef  map[string]int // "igdb:1234" -> index
}

type snapshot struct {
	Titles []core.Candidate `yaml:"titles"`
}

// LoadStatic reads a snapshot file.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog snapshot: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic decodes a YAML snapshot.
func ParseStatic(data []byte) (*Static, error) {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode catalog snapshot: %w", err)
	}
	return NewStatic(snap.Titles)
}

// NewStatic builds a catalog from candidates. Ids must be unique.
func NewStatic(titles []core.Candidate) (*Static, error) {
	s := &Static{
		titles: titles,
		byID:   make(map[string]int, len(titles)),
		byRef:  make(map[string]int),
	}
	for i, t := range titles {
		if t.ID == "" || t.Title == "" {
			return nil, fmt.Errorf("catalog entry %d: id and title are required", i)
		}
		if _, dup := s.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %q", t.ID)
		}
		s.byID[t.ID] = i
		for ns, ref := range t.ExternalIDs {
			s.byRef[ns+":"+ref] = i
		}
	}
	return s, nil
}

// Len returns the number of titles.
func (s *Static) Len() int {
	return len(s.titles)
}

// Search ranks titles against the query: exact normalized match first, then
// prefix, then containment of every query word. Ties sort by title.
func (s *Static) Search(ctx context.Context, query string, limit int) ([]core.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := core.NormalizeTitle(query)
	if q == "" {
		return nil, nil
	}
	words := strings.Fields(q)

	type hit struct {
		rank  int
		title string
		idx   int
	}
	var hits []hit
	for i, t := range s.titles {
		norm := core.NormalizeTitle(t.Title)
		rank := -1
		switch {
		case norm == q:
			rank = 0
		case strings.HasPrefix(norm, q):
			rank = 1
		case containsAll(norm, words):
			rank = 2
		}
		if rank >= 0 {
			hits = append(hits, hit{rank: rank, title: norm, idx: i})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].title < hits[j].title
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]core.Candidate, len(hits))
	for i, h := range hits {
		out[i] = s.titles[h.idx]
	}
	return out, nil
}

// Get resolves a native id or an external reference such as "steam:570".
func (s *Static) Get(ctx context.Context, id string) (*core.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i, ok := s.byID[id]; ok {
		c := s.titles[i]
		return &c, nil
	}
	if i, ok := s.byRef[id]; ok {
		c := s.titles[i]
		return &c, nil
	}
	return nil, core.ErrNotFound
}

func containsAll(s string, words []string) bool {
	padded := " " + s + " "
	for _, w := range words {
		if !strings.Contains(padded, " "+w+" ") {
			return false
		}
	}
	return true
}
