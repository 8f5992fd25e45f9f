package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	balancePrefix       = []byte("balance:")
	loyaltyPrefix       = []byte("referral/loyalty:")
	allowlistRootPrefix = []byte("referral/allowlist-root:")
	claimPrefix         = []byte("referral/claim:")
	recordPrefix        = []byte("record:")
)

// composeKey hashes the prefix followed by each part. Parts are separated so
// that distinct (prefix, parts) tuples never collide on concatenation.
func composeKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, ':')
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}
