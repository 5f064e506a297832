package services

import (
	"math/rand"
	"sync"
	"time"
)

// RandomSource supplies the exploration term added to every resonance score.
// It is injected so tests can pin the sequence with a fixed seed.
type RandomSource interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomSource returns a seeded source safe for concurrent use.
func NewRandomSource(seed int64) RandomSource {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// NewTimeRandomSource seeds from the clock. Production default.
func NewTimeRandomSource() RandomSource {
	return NewRandomSource(time.Now().UnixNano())
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
