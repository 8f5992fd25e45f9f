package referral

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"nameref/crypto/merkle"
)

var proofArguments = abi.Arguments{{Type: mustABIType("bytes32[]")}}

func mustABIType(name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeProof ABI-encodes a membership proof as bytes32[] so it can travel in
// the opaque referrer data.
func EncodeProof(proof []common.Hash) ([]byte, error) {
	raw := make([][32]byte, len(proof))
	for i, h := range proof {
		raw[i] = h
	}
	return proofArguments.Pack(raw)
}

// DecodeProof parses referrer data produced by EncodeProof.
func DecodeProof(data []byte) ([]common.Hash, error) {
	values, err := proofArguments.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: expected one value, got %d", ErrMalformedProof, len(values))
	}
	raw, ok := values[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformedProof, values[0])
	}
	if len(raw) > MaxProofLength {
		return nil, fmt.Errorf("%w: %d siblings exceeds %d", ErrMalformedProof, len(raw), MaxProofLength)
	}
	// Unpack ignores trailing bytes and tolerates non-canonical offsets; only
	// the canonical encoding is accepted so each proof has one representation.
	canonical, err := proofArguments.Pack(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if !bytes.Equal(canonical, data) {
		return nil, fmt.Errorf("%w: %d bytes, canonical encoding is %d", ErrMalformedProof, len(data), len(canonical))
	}
	proof := make([]common.Hash, len(raw))
	for i, h := range raw {
		proof[i] = h
	}
	return proof, nil
}

// AllowlistVerifier checks referrer membership against a commitment.
type AllowlistVerifier struct{}

// Verify recomputes the hash chain from keccak256(referrer) through proof and
// compares it with root. It has no side effects.
func (AllowlistVerifier) Verify(proof []common.Hash, root common.Hash, referrer common.Address) bool {
	if root == (common.Hash{}) {
		return false
	}
	return merkle.VerifyAddress(proof, root, referrer)
}

// AllowlistGated only lets allowlisted referrers through to the wrapped
// strategy. The proof travels ABI-encoded in the referrer data. A proof that
// fails to decode aborts the operation; a proof that does not match the
// current root earns nothing and the inner strategy is not consulted.
type AllowlistGated struct {
	inner    Strategy
	verifier AllowlistVerifier
}

// NewAllowlistGated wraps inner with the allowlist gate.
func NewAllowlistGated(inner Strategy) (*AllowlistGated, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: allowlist gate requires an inner strategy", ErrInvalidStrategy)
	}
	return &AllowlistGated{inner: inner}, nil
}

// Unwrap implements Wrapper.
func (a *AllowlistGated) Unwrap() Strategy { return a.inner }

// Evaluate implements Strategy.
func (a *AllowlistGated) Evaluate(env Env, rc *Context, balance *uint256.Int) (*uint256.Int, error) {
	if !rc.HasReferrer() {
		return zero(), nil
	}
	if env.Allowlist == nil {
		return nil, fmt.Errorf("%w: allowlist", ErrMissingStore)
	}
	proof, err := DecodeProof(rc.ReferrerData)
	if err != nil {
		return nil, err
	}
	root, err := env.Allowlist.Root()
	if err != nil {
		return nil, fmt.Errorf("referral: read allowlist root: %w", err)
	}
	if !a.verifier.Verify(proof, root, rc.Referrer) {
		return zero(), nil
	}
	return a.inner.Evaluate(env, rc, balance)
}
