package coap

import "math/rand"

// Rng is the jitter source the transaction engine draws ACK_RANDOM_FACTOR
// multipliers from. It need not be cryptographically secure (spec.md §5).
type Rng interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

// mathRand wraps a seeded math/rand.Rand.
type mathRand struct{ r *rand.Rand }

// NewRng returns an Rng seeded once with seed, per spec.md §5's "seeded
// once at init" requirement.
func NewRng(seed int64) Rng {
	return &mathRand{r: rand.New(rand.NewSource(seed))}
}

func (m *mathRand) Float64() float64 { return m.r.Float64() }
