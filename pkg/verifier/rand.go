package verifier

import (
	"math/rand"
	"sync"
)

// Rand is the random source used for reliability draws and latency jitter.
// It is injectable so tests can force deterministic outcomes instead of
// depending on true randomness. Implementations must be safe for concurrent
// use: one round draws from all verifier goroutines at once.
type Rand interface {
	Float64() float64
}

// lockedRand serializes access to a seeded math/rand source.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a concurrency-safe Rand seeded with seed.
func NewSource(seed int64) Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}
