// Package statedb defines the verifiable state backend shared by the two
// trie flavors: the content-addressed node store, the dirty-tracking trie
// cache, and the account-oriented state interface the EVM adapter drives.
package statedb

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Trie is the mutation surface a TrieCache flushes through. Put with an
// empty value deletes the key. Implementations signal witness gaps with
// MissingNodeError and delete-induced collapses with ReductionNodeError.
type Trie interface {
	// Hash returns the current root hash.
	Hash() common.Hash
	// Get returns the raw value stored at key, nil if absent.
	Get(key []byte) ([]byte, error)
	// Put writes value at key; an empty value removes the key.
	Put(key, value []byte) error
	// Commit materializes the nodes built by Put into the node store.
	Commit() error
	// Reset repoints the trie at root, dropping any in-flight state.
	Reset(root common.Hash)
}

// StateDB is the account-oriented state interface both trie flavors
// implement. All balances are 256-bit words; errors surface witness
// problems, never transient conditions.
type StateDB interface {
	StateRoot() common.Hash

	GetBalance(addr common.Address) (*uint256.Int, error)
	SetBalance(addr common.Address, val *uint256.Int) error
	AddBalance(addr common.Address, val *uint256.Int) error
	SubBalance(addr common.Address, val *uint256.Int) error

	GetNonce(addr common.Address) (uint64, error)
	SetNonce(addr common.Address, nonce uint64) error

	GetCode(addr common.Address) ([]byte, error)
	GetCodeHash(addr common.Address) (common.Hash, error)
	SetCode(addr common.Address, code []byte) error

	GetState(addr common.Address, slot common.Hash) (common.Hash, error)
	SetState(addr common.Address, slot, value common.Hash) error
	GetStorageRoot(addr common.Address) (common.Hash, error)

	Exist(addr common.Address) (bool, error)
	Suicide(addr common.Address) error

	// Revert drops all cached state and reopens the backend at root.
	// It is a no-op when the root already matches and nothing is dirty.
	Revert(root common.Hash)
	// Flush writes every dirty entry back into the tries, resolving
	// reduction nodes, and returns the new state root.
	Flush() (common.Hash, error)
}

// ProofFetcher supplies trie nodes that were not part of the sealed
// witness: Merkle proofs for a key, or individual nodes by hash (the
// reduction-node path).
type ProofFetcher interface {
	FetchProofs(key []byte) ([][]byte, error)
	GetNodes(hashes []common.Hash) ([][]byte, error)
}

// NoopFetcher refuses every request. A sealed PoB is self-contained, so
// the replay path runs with this fetcher; any call means the witness is
// incomplete.
type NoopFetcher struct{}

func (NoopFetcher) FetchProofs(key []byte) ([][]byte, error) {
	return nil, fmt.Errorf("statedb: no proofs available for key %x", key)
}

func (NoopFetcher) GetNodes(hashes []common.Hash) ([][]byte, error) {
	return nil, fmt.Errorf("statedb: nodes not available: %v", hashes)
}

// MissingNodeError reports a trie node absent from the node store while
// reading or updating.
type MissingNodeError struct {
	NodeHash common.Hash
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("statedb: missing trie node %x", e.NodeHash)
}

// ReductionNodeError reports a node that became necessary only because a
// delete collapsed a branch; the caller refetches it and retries.
type ReductionNodeError struct {
	NodeHash common.Hash
}

func (e *ReductionNodeError) Error() string {
	return fmt.Sprintf("statedb: reduction node %x required", e.NodeHash)
}

// CodeNotFoundError reports contract bytecode missing from the witness.
type CodeNotFoundError struct {
	CodeHash common.Hash
}

func (e *CodeNotFoundError) Error() string {
	return fmt.Sprintf("statedb: code %x not found", e.CodeHash)
}
