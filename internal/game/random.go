package game

import "math/rand/v2"

// Random supplies randomness for dice and selection logic upstream of the
// engine core. Substitutable for deterministic tests.
type Random interface {
	// Float64 returns a uniform float in [0, 1).
	Float64() float64
	// IntRange returns a uniform integer in [min, max] inclusive.
	IntRange(min, max int) int
}

type systemRandom struct{}

func (systemRandom) Float64() float64 { return rand.Float64() }

func (systemRandom) IntRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.IntN(max-min+1)
}

// SystemRandom returns a Random backed by the shared math/rand source.
func SystemRandom() Random {
	return systemRandom{}
}

// SeededRandom returns a deterministic Random for tests.
func SeededRandom(seed uint64) Random {
	return &seededRandom{r: rand.New(rand.NewPCG(seed, seed))}
}

type seededRandom struct {
	r *rand.Rand
}

func (s *seededRandom) Float64() float64 { return s.r.Float64() }

func (s *seededRandom) IntRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.r.IntN(max-min+1)
}
