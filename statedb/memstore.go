package statedb

import (
	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
)

// codeCacheSize bounds the shared bytecode store. Witness code for a
// single block is a few hundred kilobytes at most, far below the bound,
// so entries are never evicted within a store's lifetime.
const codeCacheSize = 64 * 1024 * 1024

// NodeDB is the content-addressed node store contract shared by the MPT
// and the sparse trie. Entries are keyed by their own hash, so they are
// self-certifying; reads are total and return the zero value on miss.
type NodeDB[N any] interface {
	Get(hash common.Hash) *N
	Staging(node *N) *N
	RemoveStaging(hash common.Hash)
	Commit() int
	Fork() NodeDB[N]
	GetCode(hash common.Hash) []byte
	SetCode(hash common.Hash, code []byte)
}

// MemStore is the in-memory NodeDB. A fork starts with an empty staging
// overlay and reads through to the ancestor chain's committed maps;
// writes never propagate upward. The optional static table (the sparse
// trie's empty-subtree nodes) is consulted before any map.
type MemStore[N any] struct {
	hash func(*N) common.Hash

	static    map[common.Hash]*N
	staging   map[common.Hash]*N
	committed map[common.Hash]*N
	parent    *MemStore[N]

	codes *fastcache.Cache
}

// NewMemStore builds a root store. hash extracts a node's own hash;
// static may be nil.
func NewMemStore[N any](hash func(*N) common.Hash, static map[common.Hash]*N) *MemStore[N] {
	return &MemStore[N]{
		hash:      hash,
		static:    static,
		staging:   make(map[common.Hash]*N),
		committed: make(map[common.Hash]*N),
		codes:     fastcache.New(codeCacheSize),
	}
}

// Get looks up a node by hash: static table, then staging, then the
// committed chain up through the ancestors.
func (s *MemStore[N]) Get(hash common.Hash) *N {
	if n, ok := s.static[hash]; ok {
		return n
	}
	if n, ok := s.staging[hash]; ok {
		return n
	}
	for db := s; db != nil; db = db.parent {
		if n, ok := db.committed[hash]; ok {
			return n
		}
	}
	return nil
}

// Staging inserts node into the write-back buffer and returns the shared
// handle. If the hash is already staged the existing handle wins.
func (s *MemStore[N]) Staging(node *N) *N {
	h := s.hash(node)
	if prev, ok := s.staging[h]; ok {
		return prev
	}
	s.staging[h] = node
	return node
}

// RemoveStaging cancels a pending insert, used when a trie rewrite
// supersedes a just-built node before commit.
func (s *MemStore[N]) RemoveStaging(hash common.Hash) {
	delete(s.staging, hash)
}

// Commit promotes the staging buffer into the committed map and returns
// the number of promoted entries. Committed entries are immutable for
// the life of the store.
func (s *MemStore[N]) Commit() int {
	n := len(s.staging)
	for h, node := range s.staging {
		s.committed[h] = node
	}
	s.staging = make(map[common.Hash]*N)
	return n
}

// Fork produces an isolated child overlay. The code store is shared:
// bytecode is content-addressed and append-only across forks.
func (s *MemStore[N]) Fork() NodeDB[N] {
	return &MemStore[N]{
		hash:      s.hash,
		static:    s.static,
		staging:   make(map[common.Hash]*N),
		committed: make(map[common.Hash]*N),
		parent:    s,
		codes:     s.codes,
	}
}

// GetCode returns the contract bytecode for hash, nil if unknown.
func (s *MemStore[N]) GetCode(hash common.Hash) []byte {
	code, ok := s.codes.HasGet(nil, hash[:])
	if !ok {
		return nil
	}
	return code
}

// SetCode stores bytecode under its keccak hash.
func (s *MemStore[N]) SetCode(hash common.Hash, code []byte) {
	s.codes.Set(hash[:], code)
}
