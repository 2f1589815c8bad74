package pubsub

import (
	"errors"
	"time"
)

var errTransient = errors.New("pubsub: transient error")

// Policy is the exponential backoff shared by Connect and Publish
// retries (§4.6, §5): starts at 50ms, doubles, caps at 2s, bounded by
// a configurable retry count.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Factor     float64
	MaxRetries int
}

// DefaultPolicy matches the constants named in §5.
func DefaultPolicy() Policy {
	return Policy{Initial: 50 * time.Millisecond, Max: 2 * time.Second, Factor: 2, MaxRetries: 5}
}

// Delay returns the backoff delay before retry attempt n (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d > p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Retry runs fn up to MaxRetries+1 times, sleeping the backoff delay
// between attempts, and returns the last error if every attempt fails.
func Retry(policy Policy, fn func() error) error {
	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < policy.MaxRetries {
			time.Sleep(policy.Delay(attempt))
		}
	}
	return err
}
