package zktrie

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automata-network/linea-prover/mimc"
)

const subTrieRootPath = 1

// LeafPath returns the full trie path for leaf index idx: the sub-trie
// selector, the forty index bits high to low, and the value terminator.
func LeafPath(idx uint64) []byte {
	path := make([]byte, Depth+2)
	path[0] = subTrieRootPath
	for i := Depth; i >= 1; i-- {
		path[i] = byte(idx & 1)
		idx >>= 1
	}
	path[Depth+1] = LeafTypeValue
	return path
}

// nextFreeNodePath addresses the allocator leaf under the top branch.
func nextFreeNodePath() []byte {
	return []byte{0, LeafTypeNextFreeNode}
}

// ParseNodeIndex reads a leaf index from the last eight bytes of an
// allocator value. Empty input is index zero.
func ParseNodeIndex(value []byte) uint64 {
	if len(value) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(value[len(value)-8:])
}

// FormatNodeIndex widens a leaf index to a 32-byte big-endian word.
func FormatNodeIndex(idx uint64) common.Hash {
	var out common.Hash
	binary.BigEndian.PutUint64(out[24:], idx)
	return out
}

// TrieHash is the key/value hash of the trie: MiMC over the input.
func TrieHash(data []byte) (common.Hash, error) {
	h, err := mimc.Sum(data)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(h), nil
}

func prefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
