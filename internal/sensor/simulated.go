package sensor

import (
	"context"
	"math/rand"
	"time"
)

// Simulated draws readings uniformly from [low, high].
type Simulated struct {
	low  float64
	high float64
	rng  *rand.Rand
}

// NewSimulated creates a simulated source. A nil rng is seeded from the clock.
func NewSimulated(low, high float64, rng *rand.Rand) *Simulated {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulated{low: low, high: high, rng: rng}
}

func (s *Simulated) Name() string { return KindSimulated }

func (s *Simulated) Read(ctx context.Context) (float64, error) {
	v := s.low + s.rng.Float64()*(s.high-s.low)
	if v > s.high {
		v = s.high
	}
	return v, nil
}

func (s *Simulated) IsAvailable() bool { return true }
