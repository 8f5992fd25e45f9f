package referral

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Strategy decides how much commission a referral earns.
//
// Evaluate receives the current treasury balance and must never return more
// than it. A strategy that declines to reward a referral returns zero rather
// than an error; errors abort the whole registration and are reserved for
// conditions unrelated to fund availability, such as malformed referrer data.
// Bookkeeping side effects go through the stores carried by env so they are
// rolled back together with the enclosing operation.
type Strategy interface {
	Evaluate(env Env, rc *Context, balance *uint256.Int) (*uint256.Int, error)
}

// Wrapper is implemented by strategies decorating another strategy.
type Wrapper interface {
	Unwrap() Strategy
}

// Env carries the program-scoped stores a strategy may read or mutate.
type Env struct {
	Loyalty   LoyaltyStore
	Allowlist AllowlistStore
}

// LoyaltyStore persists cumulative referred duration per referrer.
type LoyaltyStore interface {
	Cumulative(referrer common.Address) (*uint256.Int, error)
	SetCumulative(referrer common.Address, total *uint256.Int) error
}

// AllowlistStore exposes the current allowlist commitment.
type AllowlistStore interface {
	Root() (common.Hash, error)
}

// Contains reports whether s or any strategy it wraps has type T.
func Contains[T Strategy](s Strategy) bool {
	for s != nil {
		if _, ok := s.(T); ok {
			return true
		}
		w, ok := s.(Wrapper)
		if !ok {
			return false
		}
		s = w.Unwrap()
	}
	return false
}

// commission returns min(total * bps / BpsDenominator, balance).
func commission(total *uint256.Int, bps uint64, balance *uint256.Int) *uint256.Int {
	if total == nil || balance == nil || bps == 0 || balance.IsZero() {
		return new(uint256.Int)
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(total, uint256.NewInt(bps), uint256.NewInt(BpsDenominator))
	if overflow || amount.Gt(balance) {
		return new(uint256.Int).Set(balance)
	}
	return amount
}

func zero() *uint256.Int { return new(uint256.Int) }
