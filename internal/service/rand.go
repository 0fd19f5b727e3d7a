package service

import (
	"math/rand"
	"sync"
	"time"
)

// LockedRand makes a math/rand source safe for concurrent allocators.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandSource returns a goroutine-safe uniform source. Seed 0 picks a
// time based seed.
func NewRandSource(seed int64) *LockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}
