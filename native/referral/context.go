package referral

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"nameref/native/registrar"
)

// Context is the ephemeral referral context built for every register or
// renew call. It is never persisted.
type Context struct {
	Name         string
	Duration     uint64
	Price        registrar.Price
	Referrer     common.Address
	ReferrerData []byte
	Renewal      bool
}

// HasReferrer reports whether a referrer other than the zero address was
// supplied.
func (rc *Context) HasReferrer() bool {
	return rc != nil && rc.Referrer != (common.Address{})
}

// Total returns the full price of the call (base + premium).
func (rc *Context) Total() (*uint256.Int, error) {
	if rc == nil {
		return new(uint256.Int), nil
	}
	return rc.Price.Total()
}
