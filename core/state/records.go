package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// GetRecord decodes the RLP record stored under (namespace, id) into out. It
// reports false when no record exists.
func (t *Txn) GetRecord(namespace string, id []byte, out interface{}) (bool, error) {
	raw, err := t.get(composeKey(recordPrefix, []byte(namespace), id))
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s record: %w", namespace, err)
	}
	return true, nil
}

// PutRecord RLP-encodes value and stores it under (namespace, id).
func (t *Txn) PutRecord(namespace string, id []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %s record: %w", namespace, err)
	}
	return t.put(composeKey(recordPrefix, []byte(namespace), id), encoded)
}

// DeleteRecord removes the record stored under (namespace, id).
func (t *Txn) DeleteRecord(namespace string, id []byte) error {
	return t.del(composeKey(recordPrefix, []byte(namespace), id))
}
