package referral

import (
	"fmt"

	"github.com/holiman/uint256"
)

// DurationGated only lets referrals of at least MinGatedDuration through to the
// wrapped strategy. Shorter durations earn nothing and cause no side effects.
type DurationGated struct {
	inner Strategy
}

// NewDurationGated wraps inner with the one-year duration gate.
func NewDurationGated(inner Strategy) (*DurationGated, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: duration gate requires an inner strategy", ErrInvalidStrategy)
	}
	return &DurationGated{inner: inner}, nil
}

// Unwrap implements Wrapper.
func (d *DurationGated) Unwrap() Strategy { return d.inner }

// Evaluate implements Strategy.
func (d *DurationGated) Evaluate(env Env, rc *Context, balance *uint256.Int) (*uint256.Int, error) {
	if !rc.HasReferrer() || rc.Duration < MinGatedDuration {
		return zero(), nil
	}
	return d.inner.Evaluate(env, rc, balance)
}
