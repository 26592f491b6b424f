package routing

import "math"

// FallbackPriority is assigned to bare file names (no placeholders, no
// separators) so they always sort after every other pattern.
const FallbackPriority = math.MaxInt32

// Priority scores a pattern; lower scores are tried first.
//
// The weights are a heuristic. Depth is penalized so shallow generic patterns
// can outrank deep specific ones; revisit here, not in the matcher.
func Priority(placeholders, depth, staticSegments int) int {
	if placeholders == 0 && depth == 0 {
		return FallbackPriority
	}
	return placeholders*100 - depth*10 - staticSegments*20
}
