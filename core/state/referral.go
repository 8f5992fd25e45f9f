package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LoyaltyCumulative returns the cumulative referred duration recorded for the
// referrer inside the program. Unseen referrers report zero.
func (t *Txn) LoyaltyCumulative(program, referrer common.Address) (*uint256.Int, error) {
	return t.getUint(composeKey(loyaltyPrefix, program.Bytes(), referrer.Bytes()))
}

// SetLoyaltyCumulative stores the cumulative referred duration for the
// referrer inside the program.
func (t *Txn) SetLoyaltyCumulative(program, referrer common.Address, total *uint256.Int) error {
	return t.putUint(composeKey(loyaltyPrefix, program.Bytes(), referrer.Bytes()), total)
}

// AllowlistRoot returns the allowlist commitment of the program. The zero hash
// means no commitment has been set.
func (t *Txn) AllowlistRoot(program common.Address) (common.Hash, error) {
	raw, err := t.get(composeKey(allowlistRootPrefix, program.Bytes()))
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(raw), nil
}

// SetAllowlistRoot replaces the allowlist commitment of the program.
func (t *Txn) SetAllowlistRoot(program common.Address, root common.Hash) error {
	key := composeKey(allowlistRootPrefix, program.Bytes())
	if root == (common.Hash{}) {
		return t.del(key)
	}
	return t.put(key, root.Bytes())
}

// Claim returns the credited but unwithdrawn commission of the referrer.
func (t *Txn) Claim(program, referrer common.Address) (*uint256.Int, error) {
	return t.getUint(composeKey(claimPrefix, program.Bytes(), referrer.Bytes()))
}

// SetClaim overwrites the credited commission of the referrer.
func (t *Txn) SetClaim(program, referrer common.Address, amount *uint256.Int) error {
	return t.putUint(composeKey(claimPrefix, program.Bytes(), referrer.Bytes()), amount)
}
