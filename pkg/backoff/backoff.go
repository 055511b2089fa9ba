package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy is a capped exponential backoff: Base * Multiplier^(attempt-1),
// never above Max, with an optional +/- Jitter fraction.
type Policy struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := p.Multiplier
	if mul < 1 {
		mul = 2
	}
	f := float64(p.Base) * math.Pow(mul, float64(attempt-1))
	d := time.Duration(math.MaxInt64)
	if f < float64(math.MaxInt64) {
		d = time.Duration(f)
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	j := min(p.Jitter, 1)
	r := (rand.Float64()*2 - 1) * j
	jd := float64(d) * (1 + r)
	if jd >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(jd)
}
