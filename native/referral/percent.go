package referral

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Percent pays a fixed share of the total price, clamped to the treasury
// balance. It is stateless.
type Percent struct {
	bps uint32
}

// NewPercent creates a percent strategy. bps must lie in [0, 10000].
func NewPercent(bps uint32) (*Percent, error) {
	if bps > MaxCommissionBps {
		return nil, fmt.Errorf("%w: %d bps", ErrInvalidRate, bps)
	}
	return &Percent{bps: bps}, nil
}

// Bps returns the configured rate.
func (p *Percent) Bps() uint32 { return p.bps }

// Evaluate implements Strategy.
func (p *Percent) Evaluate(_ Env, rc *Context, balance *uint256.Int) (*uint256.Int, error) {
	if !rc.HasReferrer() {
		return zero(), nil
	}
	total, err := rc.Total()
	if err != nil {
		return nil, err
	}
	return commission(total, uint64(p.bps), balance), nil
}
