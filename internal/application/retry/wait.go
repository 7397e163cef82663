package retry

import (
	"math/rand/v2"
	"time"
)

// WaitStrategy maps a failure count to the delay before the next attempt.
type WaitStrategy interface {
	RetryIn(failures int) time.Duration
}

// ExponentialWait doubles Base per failure up to Max. Jitter in [0,1] subtracts a
// random share of the delay so concurrent retries spread out.
type ExponentialWait struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (w ExponentialWait) RetryIn(failures int) time.Duration {
	if failures <= 0 || w.Base <= 0 {
		return 0
	}
	delay := w.Base
	for i := 1; i < failures; i++ {
		delay *= 2
		if w.Max > 0 && delay >= w.Max {
			delay = w.Max
			break
		}
	}
	if w.Max > 0 && delay > w.Max {
		delay = w.Max
	}
	if w.Jitter > 0 {
		j := w.Jitter
		if j > 1 {
			j = 1
		}
		delay -= time.Duration(rand.Float64() * j * float64(delay))
	}
	return delay
}

// FixedWait always waits the same delay.
type FixedWait time.Duration

func (w FixedWait) RetryIn(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	return time.Duration(w)
}
