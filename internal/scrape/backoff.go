package scrape

import (
	"math"
	"math/rand/v2"
	"time"
)

// maxJitter keeps delay(n+1) >= delay(n) for every random draw: 2*(1-j) >= 1+j.
const maxJitter = 1.0 / 3

// Backoff computes retry delays as Base * 2^attempt, scaled by a random factor in
// [1-Jitter, 1+Jitter] and capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Max: 30 * time.Minute, Jitter: 0.25}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base, limit := float64(b.Base), float64(b.Max)
	if base <= 0 {
		base = float64(time.Second)
	}
	if limit <= 0 {
		limit = math.MaxInt64 / 2
	}
	d := base * math.Pow(2, float64(attempt))

	j := b.Jitter
	if j < 0 {
		j = 0
	}
	if j > maxJitter {
		j = maxJitter
	}
	if j > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d *= 1 + (r()*2-1)*j
	}
	if d > limit || math.IsInf(d, 0) || math.IsNaN(d) {
		d = limit
	}
	return time.Duration(d)
}
