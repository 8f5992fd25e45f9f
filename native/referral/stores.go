package referral

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	refstate "nameref/core/state"
)

type txnLoyaltyStore struct {
	tx      *refstate.Txn
	program common.Address
}

func (s txnLoyaltyStore) Cumulative(referrer common.Address) (*uint256.Int, error) {
	return s.tx.LoyaltyCumulative(s.program, referrer)
}

func (s txnLoyaltyStore) SetCumulative(referrer common.Address, total *uint256.Int) error {
	return s.tx.SetLoyaltyCumulative(s.program, referrer, total)
}

type txnAllowlistStore struct {
	tx      *refstate.Txn
	program common.Address
}

func (s txnAllowlistStore) Root() (common.Hash, error) {
	return s.tx.AllowlistRoot(s.program)
}

func (p *Program) env(tx *refstate.Txn) Env {
	return Env{
		Loyalty:   txnLoyaltyStore{tx: tx, program: p.address},
		Allowlist: txnAllowlistStore{tx: tx, program: p.address},
	}
}
