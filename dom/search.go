package dom

import (
	"unicode"

	"golang.org/x/text/language"
	textsearch "golang.org/x/text/search"
)

// Query is a compiled search. Every whitespace-separated word must occur in
// the text, compared loosely (case and accents are ignored).
type Query struct {
	pats []*textsearch.Pattern
}

// ParseQuery compiles query. It returns nil for a query with no words,
// which matches nothing.
func ParseQuery(query string) *Query {
	var words []string
	start := -1
	for i, r := range query {
		space := unicode.IsSpace(r)
		if space && start != -1 {
			words = append(words, query[start:i])
			start = -1
		} else if !space && start == -1 {
			start = i
		}
	}
	if start != -1 {
		words = append(words, query[start:])
	}
	if len(words) == 0 {
		return nil
	}
	m := textsearch.New(language.Und, textsearch.Loose)
	q := &Query{pats: make([]*textsearch.Pattern, len(words))}
	for i := range words {
		q.pats[i] = m.CompileString(words[i])
	}
	return q
}

// MatchesText reports whether every word of q occurs in s.
func (q *Query) MatchesText(s string) bool {
	if q == nil || len(q.pats) == 0 {
		return false
	}
	for _, pat := range q.pats {
		if start, _ := pat.IndexString(s); start == -1 {
			return false
		}
	}
	return true
}

// MatchesQuery matches groups on their title and entries on their title or
// tags.
func (n *Node) MatchesQuery(q *Query) bool {
	if q.MatchesText(n.Title.Value) {
		return true
	}
	return n.Kind == KindEntry && q.MatchesText(n.Entry.Tags)
}

// Search returns the entries below id that match q, skipping groups where
// searching is disabled.
func (t *Tree) Search(id NodeID, q *Query) []NodeID {
	var results []NodeID
	t.Walk(id, func(c NodeID) error {
		n := t.nodes[c]
		if n.Kind == KindEntry && t.IsSearchingPermitted(c) && n.MatchesQuery(q) {
			results = append(results, c)
		}
		return nil
	})
	return results
}
