package zktrie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReachedMaxLevel reports a path longer than the trie depth.
	ErrReachedMaxLevel = errors.New("zktrie: reached max trie level")
	// ErrPathNotAllowed reports a leaf collision on incompatible paths.
	ErrPathNotAllowed = errors.New("zktrie: path not allowed")
	// ErrNextFreeNotFound reports a root without an inline allocator.
	ErrNextFreeNotFound = errors.New("zktrie: next free node not found in memory")
	// ErrInvalidProof reports a proof whose recomputed root disagrees
	// with the claimed one.
	ErrInvalidProof = errors.New("zktrie: invalid proof")
)

// NodeNotFoundError reports a node hash absent from the store during a
// path walk.
type NodeNotFoundError struct {
	Level int
	Hash  common.Hash
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("zktrie: node %x not found at level %d", e.Hash, e.Level)
}

// KeyNotFoundError reports a path that resolved to a non-value node.
type KeyNotFoundError struct {
	Path []byte
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("zktrie: key not found at path %x", e.Path)
}

// KeyRangeNotFoundError reports a nearest-key lookup the trace index
// never witnessed.
type KeyRangeNotFoundError struct {
	Root common.Hash
	HKey common.Hash
}

func (e *KeyRangeNotFoundError) Error() string {
	return fmt.Sprintf("zktrie: no key range for hkey %x at root %x", e.HKey, e.Root)
}
