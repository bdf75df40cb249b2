// Package similarity scores string pairs on a 0-100 scale. The default
// scorer implements partial-ratio semantics: the best edit-distance ratio
// obtainable by sliding the shorter string across the longer one, which
// rewards containment relationships ("ABC Construction" inside
// "ABC Construction LLC").
package similarity

import (
	"math"

	"github.com/agnivade/levenshtein"
)

// Scorer computes a similarity score in [0,100] for a pair of strings.
// Implementations must be safe for concurrent use.
type Scorer interface {
	Score(a, b string) int
}

// PartialRatio is the default Scorer. It aligns the shorter input against
// every same-length window of the longer input and keeps the best
// Levenshtein ratio.
type PartialRatio struct{}

// Score returns the partial-ratio similarity of a and b. Two empty strings
// score 100; exactly one empty string scores 0.
func (PartialRatio) Score(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		if len(rb) == 0 {
			return 100
		}
		return 0
	}

	shorter := string(ra)
	n := len(ra)
	best := 0
	for i := 0; i+n <= len(rb); i++ {
		dist := levenshtein.ComputeDistance(shorter, string(rb[i:i+n]))
		score := ratioScore(dist, n)
		if score > best {
			best = score
			if best == 100 {
				return 100
			}
		}
	}
	return best
}

// Ratio is the plain (whole-string) Levenshtein ratio, exposed for callers
// that want strict rather than containment-tolerant comparison.
func Ratio(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 100
	}
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return ratioScore(dist, longest)
}

func ratioScore(dist, length int) int {
	if dist >= length {
		return 0
	}
	return int(math.Round(100 * (1 - float64(dist)/float64(length))))
}
