// Package sample picks the group values rendered on the preview map.
package sample

import (
	"math/rand/v2"
	"time"
)

// DefaultK is the number of groups sampled for visualization.
const DefaultK = 5

// NewSource returns a PCG-backed random source. Seed 0 derives the seed from
// the clock; any other value makes runs reproducible.
func NewSource(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed))
}

// Pick selects up to k values uniformly without replacement. When the input
// already fits, it is copied in its given order; otherwise the subset follows
// the permutation drawn from rng.
func Pick(values []string, k int, rng *rand.Rand) []string {
	if k <= 0 {
		k = DefaultK
	}
	if len(values) <= k {
		out := make([]string, len(values))
		copy(out, values)
		return out
	}

	out := make([]string, 0, k)
	for _, idx := range rng.Perm(len(values))[:k] {
		out = append(out, values[idx])
	}
	return out
}
