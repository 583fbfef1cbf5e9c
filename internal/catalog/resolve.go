package catalog

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Jaro-Winkler similarity a query needs to match an entry, without and with
// a shared phonetic code.
const (
	minResolveScore  = 0.88
	minPhoneticScore = 0.72
)

// ResolveTopic finds the topic whose id or title best matches query. Typed
// and spoken names ("ordering coffee", "cafe order", "Book Clup") resolve to
// the same entry.
func (c *Catalog) ResolveTopic(query string) (Topic, bool) {
	names := make([][]string, len(c.topics))
	for i, t := range c.topics {
		names[i] = []string{t.ID, t.Title}
	}
	i, ok := resolve(query, names)
	if !ok {
		return Topic{}, false
	}
	return c.topics[i], true
}

// ResolvePersona finds the persona whose id or name best matches query.
func (c *Catalog) ResolvePersona(query string) (Persona, bool) {
	names := make([][]string, len(c.personas))
	for i, p := range c.personas {
		names[i] = []string{p.ID, p.Name}
	}
	i, ok := resolve(query, names)
	if !ok {
		return Persona{}, false
	}
	return c.Persona(c.personas[i].ID)
}

// resolve returns the index of the best-scoring candidate group. Exact
// matches win outright; otherwise a candidate sharing a Double Metaphone code
// with the query needs minPhoneticScore, and one without needs
// minResolveScore.
func resolve(query string, candidates [][]string) (int, bool) {
	q := normalize(query)
	if q == "" {
		return -1, false
	}
	qCodes := metaphones(q)

	best, bestScore, bestPhonetic := -1, 0.0, false
	for i, names := range candidates {
		for _, name := range names {
			n := normalize(name)
			if n == "" {
				continue
			}
			if n == q {
				return i, true
			}
			score := similarity(q, n)
			phonetic := overlaps(qCodes, metaphones(n))
			threshold := minResolveScore
			if phonetic {
				threshold = minPhoneticScore
			}
			if score < threshold {
				continue
			}
			// Phonetic agreement outranks raw similarity.
			if (phonetic && !bestPhonetic) || (phonetic == bestPhonetic && score > bestScore) {
				best, bestScore, bestPhonetic = i, score, phonetic
			}
		}
	}
	return best, best >= 0
}

// normalize lowercases and turns id separators into spaces so "cafe_order"
// compares against "cafe order".
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// similarity is the Jaro-Winkler score of the full strings or of their
// space-free forms, whichever is higher.
func similarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if s := matchr.JaroWinkler(strings.ReplaceAll(a, " ", ""), strings.ReplaceAll(b, " ", ""), false); s > score {
		score = s
	}
	return score
}

// metaphones returns the concatenated primary Double Metaphone code of every
// word in s, and the concatenated secondary code when it differs.
func metaphones(s string) []string {
	var prim, sec strings.Builder
	for _, w := range strings.Fields(s) {
		p, sc := matchr.DoubleMetaphone(w)
		prim.WriteString(p)
		if sc == "" {
			sc = p
		}
		sec.WriteString(sc)
	}
	out := []string{prim.String()}
	if sec.String() != prim.String() {
		out = append(out, sec.String())
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
