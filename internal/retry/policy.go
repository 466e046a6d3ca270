// Package retry decides, per failed attempt, between a delayed retry and
// the dead-letter set. The policy is pure: it never touches storage.
package retry

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

type FailureKind string

const (
	// Transient failures are retryable up to the attempt cap.
	Transient FailureKind = "transient"

	// Poison marks a deterministic failure the handler flagged explicitly.
	// Retrying cannot help, so the task dead-letters immediately.
	Poison FailureKind = "poison"
)

func (k FailureKind) Valid() bool {
	return k == Transient || k == Poison
}

type Decision struct {
	Dead  bool
	Delay time.Duration
}

const (
	backoffMultiplier = 2
	maxJitterDivisor  = 2
)

type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Base: time.Second,
		Max:  5 * time.Minute,
	}
}

// Decide maps a failed attempt to its outcome. attempt is the number of
// dequeues already counted against the task.
func (p Policy) Decide(attempt int, maxAttempts int, kind FailureKind) Decision {
	if kind == Poison {
		return Decision{Dead: true}
	}

	if attempt >= maxAttempts {
		return Decision{Dead: true}
	}

	return Decision{Delay: p.backoff(attempt)}
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.Base) * math.Pow(backoffMultiplier, float64(attempt)))
	if delay > p.Max || delay <= 0 {
		delay = p.Max
	}

	return delay + jitter(delay/maxJitterDivisor)
}

// jitter draws a random duration in [0, limit) to avoid thundering-herd
// re-contention when many tasks fail together.
func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return 0
	}

	return time.Duration(n.Int64())
}
