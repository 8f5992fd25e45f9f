// Package registrar defines the name-registration service that referral
// programs wrap, and ships an in-memory reference controller.
package registrar

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	refstate "nameref/core/state"
)

// SecondsPerYear is the 365-day year used by pricing and duration policies.
const SecondsPerYear uint64 = 365 * 24 * 60 * 60

var (
	ErrInvalidName      = errors.New("registrar: invalid name")
	ErrDurationTooShort = errors.New("registrar: duration too short")
	ErrUnavailable      = errors.New("registrar: name unavailable")
	ErrNotRegistered    = errors.New("registrar: name not registered")
	ErrWrongPayment     = errors.New("registrar: payment does not match price")
	ErrInvalidOwner     = errors.New("registrar: invalid owner")
	ErrPriceOverflow    = errors.New("registrar: price overflow")
	ErrExpiryOverflow   = errors.New("registrar: expiry overflow")
)

// Price is a rent quote split into its base and premium components.
type Price struct {
	Base    *uint256.Int
	Premium *uint256.Int
}

// Total returns base + premium.
func (p Price) Total() (*uint256.Int, error) {
	base := p.Base
	if base == nil {
		base = new(uint256.Int)
	}
	premium := p.Premium
	if premium == nil {
		premium = new(uint256.Int)
	}
	total, overflow := new(uint256.Int).AddOverflow(base, premium)
	if overflow {
		return nil, ErrPriceOverflow
	}
	return total, nil
}

// Flags is the 96-bit fuse bitmask passed through to the registrar.
type Flags [12]byte

// Registration carries the arguments of a registration request.
type Registration struct {
	Name        string
	Owner       common.Address
	Secret      common.Hash
	Subregistry common.Address
	Resolver    common.Address
	Flags       Flags
	Duration    uint64
}

// Pricer quotes the rent of a name for a duration.
type Pricer interface {
	RentPrice(name string, duration uint64) (Price, error)
}

// Controller registers and renews names. Implementations run inside the
// caller's state transaction and must leave no effect behind when they fail;
// the transaction is discarded by the caller in that case. The value argument
// has already been transferred to Address() when the call is made.
type Controller interface {
	Pricer
	Address() common.Address
	Register(ctx context.Context, tx *refstate.Txn, value *uint256.Int, reg Registration) (*big.Int, error)
	Renew(ctx context.Context, tx *refstate.Txn, value *uint256.Int, name string, duration uint64) error
}
