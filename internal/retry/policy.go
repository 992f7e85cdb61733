package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults used when a Policy field is zero.
const (
	DefaultMaxRetries   = 5
	DefaultInitialDelay = 1 * time.Second
)

// maxShift caps the exponent so NextDelay cannot overflow time.Duration.
const maxShift = 30

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// DefaultPolicy returns a Policy with five attempts starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
	}
}

// WithDefaults fills zero fields with the package defaults.
func (p Policy) WithDefaults() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	return p
}

// NextDelay returns the wait after the given 1-based attempt.
// Attempts below 1 are treated as the first attempt.
func (p Policy) NextDelay(attempt int) time.Duration {
	p = p.WithDefaults()
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	return p.InitialDelay << uint(shift)
}

// IsExhausted reports whether no attempt should follow the given one.
func (p Policy) IsExhausted(attempt int) bool {
	return attempt >= p.WithDefaults().MaxRetries
}

// Budget is the total time spent sleeping when every attempt fails.
func (p Policy) Budget() time.Duration {
	p = p.WithDefaults()
	var total time.Duration
	for n := 1; !p.IsExhausted(n); n++ {
		total += p.NextDelay(n)
	}
	return total
}

// BackOff returns a fresh attempt counter for one retry loop.
func (p Policy) BackOff() *Attempts {
	return &Attempts{policy: p.WithDefaults()}
}

// Attempts is a stateful backoff.BackOff over a Policy. It is not safe for
// concurrent use; each retry loop owns its own.
type Attempts struct {
	policy  Policy
	attempt int
}

var _ backoff.BackOff = (*Attempts)(nil)

// NextBackOff records a failed attempt and returns the delay before the next
// one, or backoff.Stop once the policy is exhausted.
func (a *Attempts) NextBackOff() time.Duration {
	a.attempt++
	if a.policy.IsExhausted(a.attempt) {
		return backoff.Stop
	}
	return a.policy.NextDelay(a.attempt)
}

// Reset clears the attempt counter.
func (a *Attempts) Reset() {
	a.attempt = 0
}

// Attempt returns the number of failed attempts recorded so far.
func (a *Attempts) Attempt() int {
	return a.attempt
}
