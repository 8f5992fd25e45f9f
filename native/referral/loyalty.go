package referral

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LoyaltyLedger accumulates the referred duration of every referrer. Entries
// only ever grow; there is no decay and no reset.
type LoyaltyLedger struct {
	store LoyaltyStore
}

// NewLoyaltyLedger binds a ledger to the supplied store.
func NewLoyaltyLedger(store LoyaltyStore) *LoyaltyLedger {
	return &LoyaltyLedger{store: store}
}

// Accrue adds duration to the referrer's cumulative total and returns the new
// total. The sum saturates at the 256-bit maximum instead of wrapping.
func (l *LoyaltyLedger) Accrue(referrer common.Address, duration uint64) (*uint256.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrMissingStore
	}
	current, err := l.store.Cumulative(referrer)
	if err != nil {
		return nil, fmt.Errorf("referral: read loyalty: %w", err)
	}
	if current == nil {
		current = new(uint256.Int)
	}
	next, overflow := new(uint256.Int).AddOverflow(current, uint256.NewInt(duration))
	if overflow {
		next.SetAllOne()
	}
	if err := l.store.SetCumulative(referrer, next); err != nil {
		return nil, fmt.Errorf("referral: write loyalty: %w", err)
	}
	return next, nil
}

// CumulativeOf returns the referrer's cumulative duration, zero when unseen.
func (l *LoyaltyLedger) CumulativeOf(referrer common.Address) (*uint256.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrMissingStore
	}
	current, err := l.store.Cumulative(referrer)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return new(uint256.Int), nil
	}
	return current, nil
}

// LoyaltyRateBps returns min(cumulative * LoyaltyBonusBps / LoyaltyBonusPeriod,
// LoyaltyCapBps).
func LoyaltyRateBps(cumulative *uint256.Int) uint64 {
	if cumulative == nil || cumulative.IsZero() {
		return 0
	}
	rate, overflow := new(uint256.Int).MulDivOverflow(cumulative, uint256.NewInt(LoyaltyBonusBps), uint256.NewInt(LoyaltyBonusPeriod))
	if overflow || !rate.IsUint64() || rate.Uint64() > LoyaltyCapBps {
		return LoyaltyCapBps
	}
	return rate.Uint64()
}

// Loyalty rewards referrers proportionally to the duration they have referred
// over the lifetime of the program. The ledger is updated on every evaluation,
// including when the treasury is empty, before the rate is derived.
type Loyalty struct{}

// NewLoyalty creates a loyalty strategy.
func NewLoyalty() *Loyalty { return &Loyalty{} }

// Evaluate implements Strategy.
func (*Loyalty) Evaluate(env Env, rc *Context, balance *uint256.Int) (*uint256.Int, error) {
	if !rc.HasReferrer() {
		return zero(), nil
	}
	if env.Loyalty == nil {
		return nil, fmt.Errorf("%w: loyalty", ErrMissingStore)
	}
	cumulative, err := NewLoyaltyLedger(env.Loyalty).Accrue(rc.Referrer, rc.Duration)
	if err != nil {
		return nil, err
	}
	total, err := rc.Total()
	if err != nil {
		return nil, err
	}
	return commission(total, LoyaltyRateBps(cumulative), balance), nil
}
