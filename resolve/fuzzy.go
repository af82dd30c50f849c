package resolve

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/brunobiangulo/relgraph/registry"
)

// minFuzzyLen keeps very short names out of approximate matching, where a
// single edit changes the company.
const minFuzzyLen = 4

// fuzzy is stage 2: the best character-level match over all name variants.
func (r *Resolver) fuzzy(m string) (Resolved, bool) {
	nm := registry.Normalize(m)
	if utf8.RuneCountInString(nm) < minFuzzyLen {
		return Resolved{}, false
	}
	mTokens := registry.Tokens(nm)

	best := make(map[string]scored)
	for _, v := range r.reg.Variants() {
		if utf8.RuneCountInString(v.Normalized) < minFuzzyLen {
			continue
		}
		if !fuzzy.MatchFold(nm, v.Normalized) && !fuzzy.MatchFold(v.Normalized, nm) && !shareToken(mTokens, registry.Tokens(v.Normalized)) {
			continue
		}
		sim := similarity(nm, v.Normalized, mTokens)
		if sim < r.opts.FuzzyFloor {
			continue
		}
		if prev, ok := best[v.EntityID]; ok && prev.sim >= sim {
			continue
		}
		e, _ := r.reg.Get(v.EntityID)
		best[v.EntityID] = scored{e, MethodFuzzy, sim}
	}

	cands := make([]scored, 0, len(best))
	for _, c := range best {
		cands = append(cands, c)
	}
	return pick(cands)
}

// similarity is the larger of the Levenshtein ratio and token Jaccard.
func similarity(a, b string, aTokens []string) float64 {
	return max(levenshteinRatio(a, b), jaccard(aTokens, registry.Tokens(b)))
}

func levenshteinRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

func shareToken(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
