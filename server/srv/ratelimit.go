package srv

import (
	"math"
	"time"
)

const (
	msgRateHz = 10.0 // sustained client messages per second
	msgBurst  = 30.0
)

// tokenBucket limits how fast one connection may send messages.
type tokenBucket struct {
	tokens float64
	last   time.Time
}

func (b *tokenBucket) allow(now time.Time, rateHz, burst float64) bool {
	if b.last.IsZero() {
		b.last = now
		b.tokens = burst
	}

	dt := now.Sub(b.last).Seconds()
	b.tokens = math.Min(burst, b.tokens+dt*rateHz)
	b.last = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true
	}
	return false
}
