package taxonomy

import "fmt"

// Scorer returns a similarity in [0, 1] between two cleaned sequences.
type Scorer func(a, b string) float64

// PositionalIdentity counts positions where both sequences carry the same base
// (over the shorter length) and divides by the longer length. It is not an
// alignment: a single indel shifts every later position.
func PositionalIdentity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := min(len(a), len(b))
	matches := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(max(len(a), len(b)))
}

// EditIdentity is 1 - levenshtein(a, b) / max(len(a), len(b)). It tolerates
// indels, at O(len(a)*len(b)) cost.
func EditIdentity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return 1 - float64(prev[len(b)])/float64(max(len(a), len(b)))
}

// ScorerByName maps a config value to a scorer. Empty means positional.
func ScorerByName(name string) (Scorer, error) {
	switch name {
	case "", "positional":
		return PositionalIdentity, nil
	case "edit":
		return EditIdentity, nil
	}
	return nil, fmt.Errorf("unknown similarity scorer %q", name)
}
