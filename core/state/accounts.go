package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (t *Txn) getUint(key []byte) (*uint256.Int, error) {
	raw, err := t.get(key)
	if err != nil {
		return nil, err
	}
	if len(raw) > 32 {
		return nil, fmt.Errorf("state: corrupt 256-bit value (%d bytes)", len(raw))
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func (t *Txn) putUint(key []byte, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return t.del(key)
	}
	return t.put(key, value.Bytes())
}

// Balance returns the native balance held by addr. Unknown accounts hold zero.
func (t *Txn) Balance(addr common.Address) (*uint256.Int, error) {
	return t.getUint(composeKey(balancePrefix, addr.Bytes()))
}

// SetBalance overwrites the native balance held by addr.
func (t *Txn) SetBalance(addr common.Address, amount *uint256.Int) error {
	return t.putUint(composeKey(balancePrefix, addr.Bytes()), amount)
}
