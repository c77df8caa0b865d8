package quicnet

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig defines dial retry behavior. With Jitter set, each delay
// is scaled by a random factor in [0.5, 1.5).
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay returns the wait after failed attempt n (1-based). A nil rng
// applies the low end of the jitter range.
func (c BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(c.Multiplier, 1)
	delay := float64(c.InitialDelay) * math.Pow(mult, float64(max(n, 1)-1))
	if c.MaxDelay > 0 {
		delay = math.Min(delay, float64(c.MaxDelay))
	}
	if c.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// dialBackoff serializes access to the shared rng across dial goroutines.
type dialBackoff struct {
	cfg BackoffConfig
	mu  sync.Mutex
	rng *rand.Rand
}

func newDialBackoff(cfg BackoffConfig) *dialBackoff {
	return &dialBackoff{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// wait sleeps for the delay after attempt n and reports false when ctx ends
// first.
func (b *dialBackoff) wait(ctx context.Context, n int) bool {
	b.mu.Lock()
	delay := b.cfg.Delay(n, b.rng)
	b.mu.Unlock()
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
