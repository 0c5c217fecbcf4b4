package statedb

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Codec converts cached values to and from their trie representation.
// Decode(nil) must return the type's default value; Encode of a default
// value must return an empty slice (which deletes the trie key).
type Codec[V any] interface {
	Encode(V) []byte
	Decode([]byte) (V, error)
}

// Resolver fetches the witness material for a key whose trie walk hit a
// missing node, ingesting it into the node store so the retry succeeds.
type Resolver[K comparable] func(key K, missing common.Hash) error

// TrieCache wraps a trie with a read cache and per-key dirty flags. Reads
// load through the trie once; writes stay in the cache until Flush.
type TrieCache[K comparable, V any] struct {
	trie    Trie
	codec   Codec[V]
	keyFn   func(K) []byte
	resolve Resolver[K]

	cache map[K]V
	dirty map[K]struct{}
}

// NewTrieCache builds a cache over trie. keyFn maps a logical key to the
// trie key (e.g. keccak for the MPT); resolve may be nil when a miss is
// unconditionally fatal (the sparse-trie replay path).
func NewTrieCache[K comparable, V any](trie Trie, codec Codec[V], keyFn func(K) []byte, resolve Resolver[K]) *TrieCache[K, V] {
	return &TrieCache[K, V]{
		trie:    trie,
		codec:   codec,
		keyFn:   keyFn,
		resolve: resolve,
		cache:   make(map[K]V),
		dirty:   make(map[K]struct{}),
	}
}

func (c *TrieCache[K, V]) RootHash() common.Hash { return c.trie.Hash() }

// IsDirty reports whether key has an unflushed write.
func (c *TrieCache[K, V]) IsDirty(key K) bool {
	_, ok := c.dirty[key]
	return ok
}

// WithKey loads the value for key (fetching proofs on a missing node),
// invokes f with the value and its dirty flag, and records dirtiness.
func (c *TrieCache[K, V]) WithKey(key K, f func(v *V, dirty *bool)) error {
	v, ok := c.cache[key]
	if !ok {
		loaded, err := c.load(key)
		if err != nil {
			return err
		}
		v = loaded
	}
	dirty := c.IsDirty(key)
	f(&v, &dirty)
	c.cache[key] = v
	if dirty {
		c.dirty[key] = struct{}{}
	}
	return nil
}

func (c *TrieCache[K, V]) load(key K) (V, error) {
	var zero V
	raw := c.keyFn(key)
	data, err := c.trie.Get(raw)
	var missing *MissingNodeError
	if errors.As(err, &missing) {
		if c.resolve == nil {
			return zero, err
		}
		if rerr := c.resolve(key, missing.NodeHash); rerr != nil {
			return zero, rerr
		}
		data, err = c.trie.Get(raw)
		if errors.As(err, &missing) {
			// a second miss means the fetched proof did not cover the
			// node, which only a corrupt witness can cause
			return zero, fmt.Errorf("witness incomplete for key %x: %w", raw, err)
		}
	}
	if err != nil {
		return zero, err
	}
	return c.codec.Decode(data)
}

// Flush writes every dirty entry into the trie. Keys whose delete hit a
// collapsed branch stay dirty and their reduction-node hashes are
// returned; the caller materializes those nodes and flushes again.
func (c *TrieCache[K, V]) Flush() ([]common.Hash, error) {
	keys := make([]K, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(c.keyFn(keys[i]), c.keyFn(keys[j])) > 0
	})

	var reductions []common.Hash
	for _, k := range keys {
		data := c.codec.Encode(c.cache[k])
		err := c.trie.Put(c.keyFn(k), data)
		var reduction *ReductionNodeError
		if errors.As(err, &reduction) {
			reductions = append(reductions, reduction.NodeHash)
			continue
		}
		if err != nil {
			return nil, err
		}
		delete(c.dirty, k)
	}
	if err := c.trie.Commit(); err != nil {
		return nil, err
	}
	return reductions, nil
}

// CachedKeys returns every loaded key, ordered by trie key bytes.
func (c *TrieCache[K, V]) CachedKeys() []K {
	keys := make([]K, 0, len(c.cache))
	for k := range c.cache {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(c.keyFn(keys[i]), c.keyFn(keys[j])) < 0
	})
	return keys
}

// Revert reopens the cache at root, dropping cached values. It reports
// whether anything changed; matching root with no dirty state is a
// no-op.
func (c *TrieCache[K, V]) Revert(root common.Hash) bool {
	if c.trie.Hash() == root && len(c.dirty) == 0 {
		return false
	}
	c.cache = make(map[K]V)
	c.dirty = make(map[K]struct{})
	c.trie.Reset(root)
	return true
}
