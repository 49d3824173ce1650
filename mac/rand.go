package mac

import "math/rand"

/*------------------------------------------------------------------
 *
 * Purpose:	Injected entropy source for CSMA-CA backoff (spec.md
 *		section 5, "Randomness" / section 9, "Global entropy").
 *
 * Description:	The teacher's xmit.go draws p-persistence jitter from
 *		math/rand directly; this module wraps the same package
 *		behind a narrow interface so tests can seed it
 *		deterministically instead of reaching for a global.
 *
 *------------------------------------------------------------------*/

// Entropy is the narrow randomness capability the engine consults for
// CSMA backoff. A single source is consulted per spec.md section 5; it
// may be re-seeded by the host at startup.
type Entropy interface {
	// Backoff draws a uniform integer in [1, n] inclusive.
	Backoff(n int) int
}

// seededEntropy is the default Entropy, wrapping a *rand.Rand so tests
// can seed it to a fixed value for determinism.
type seededEntropy struct {
	r *rand.Rand
}

// NewEntropy returns an Entropy seeded with the given value.
func NewEntropy(seed int64) Entropy {
	return &seededEntropy{r: rand.New(rand.NewSource(seed))}
}

func (e *seededEntropy) Backoff(n int) int {
	if n <= 0 {
		return 0
	}
	return 1 + e.r.Intn(n)
}
