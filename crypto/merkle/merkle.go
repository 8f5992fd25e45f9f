// Package merkle implements the sorted-pair keccak256 Merkle tree used for
// referrer allowlists. Leaves are keccak256 of the 20-byte address and every
// interior node hashes its two children in ascending byte order, so a proof is
// just the ordered list of sibling hashes from leaf to root.
package merkle

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrEmptyTree     = errors.New("merkle: no leaves")
	ErrDuplicateLeaf = errors.New("merkle: duplicate leaf")
	ErrLeafNotFound  = errors.New("merkle: leaf not in tree")
)

// LeafHash returns the leaf commitment of an address.
func LeafHash(addr common.Address) common.Hash {
	return ethcrypto.Keccak256Hash(addr.Bytes())
}

// HashPair hashes two nodes in ascending order.
func HashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return ethcrypto.Keccak256Hash(a[:], b[:])
}

// ProcessProof folds the proof into leaf and returns the reconstructed root.
func ProcessProof(proof []common.Hash, leaf common.Hash) common.Hash {
	computed := leaf
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed
}

// Verify reports whether proof reconstructs root starting from leaf.
func Verify(proof []common.Hash, root, leaf common.Hash) bool {
	return ProcessProof(proof, leaf) == root
}

// VerifyAddress reports whether addr is a member of the set committed to by
// root.
func VerifyAddress(proof []common.Hash, root common.Hash, addr common.Address) bool {
	return Verify(proof, root, LeafHash(addr))
}

// Tree is a fully materialised allowlist tree. It is used by operators to
// publish a root and hand out proofs; verification never needs it.
type Tree struct {
	layers [][]common.Hash
	index  map[common.Hash]int
}

// NewTree builds a tree over the supplied addresses. Leaves are sorted so the
// root does not depend on input order. An odd node at the end of a layer is
// promoted unchanged.
func NewTree(addrs []common.Address) (*Tree, error) {
	if len(addrs) == 0 {
		return nil, ErrEmptyTree
	}
	leaves := make([]common.Hash, 0, len(addrs))
	seen := make(map[common.Hash]struct{}, len(addrs))
	for _, addr := range addrs {
		leaf := LeafHash(addr)
		if _, dup := seen[leaf]; dup {
			return nil, ErrDuplicateLeaf
		}
		seen[leaf] = struct{}{}
		leaves = append(leaves, leaf)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})

	tree := &Tree{index: make(map[common.Hash]int, len(leaves))}
	for i, leaf := range leaves {
		tree.index[leaf] = i
	}
	layer := leaves
	tree.layers = append(tree.layers, layer)
	for len(layer) > 1 {
		next := make([]common.Hash, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				next = append(next, layer[i])
				continue
			}
			next = append(next, HashPair(layer[i], layer[i+1]))
		}
		tree.layers = append(tree.layers, next)
		layer = next
	}
	return tree, nil
}

// Root returns the tree commitment.
func (t *Tree) Root() common.Hash {
	if t == nil || len(t.layers) == 0 {
		return common.Hash{}
	}
	return t.layers[len(t.layers)-1][0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	if t == nil || len(t.layers) == 0 {
		return 0
	}
	return len(t.layers[0])
}

// Proof returns the sibling path for addr.
func (t *Tree) Proof(addr common.Address) ([]common.Hash, error) {
	if t == nil {
		return nil, ErrEmptyTree
	}
	pos, ok := t.index[LeafHash(addr)]
	if !ok {
		return nil, ErrLeafNotFound
	}
	var proof []common.Hash
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := pos ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		pos /= 2
	}
	return proof, nil
}
