package statedb

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// fakeTrie is a map-backed trie that can simulate witness gaps and
// delete-induced reductions.
type fakeTrie struct {
	values      map[string][]byte
	missing     map[string]common.Hash
	reduceOnce  map[string]common.Hash
	root        common.Hash
	committed   int
	resetCalled int
}

func newFakeTrie() *fakeTrie {
	return &fakeTrie{
		values:     make(map[string][]byte),
		missing:    make(map[string]common.Hash),
		reduceOnce: make(map[string]common.Hash),
	}
}

func (f *fakeTrie) Hash() common.Hash { return f.root }

func (f *fakeTrie) Get(key []byte) ([]byte, error) {
	if hash, ok := f.missing[string(key)]; ok {
		return nil, &MissingNodeError{NodeHash: hash}
	}
	return f.values[string(key)], nil
}

func (f *fakeTrie) Put(key, value []byte) error {
	if hash, ok := f.reduceOnce[string(key)]; ok {
		delete(f.reduceOnce, string(key))
		return &ReductionNodeError{NodeHash: hash}
	}
	if len(value) == 0 {
		delete(f.values, string(key))
	} else {
		f.values[string(key)] = value
	}
	f.root = crypto.Keccak256Hash(f.root[:], key, value)
	return nil
}

func (f *fakeTrie) Commit() error { f.committed++; return nil }

func (f *fakeTrie) Reset(root common.Hash) { f.root = root; f.resetCalled++ }

type bytesCodec struct{}

func (bytesCodec) Encode(v []byte) []byte { return v }

func (bytesCodec) Decode(data []byte) ([]byte, error) { return data, nil }

func rawKey(k string) []byte { return []byte(k) }

func TestWithKeyCachesAndTracksDirty(t *testing.T) {
	trie := newFakeTrie()
	trie.values["k"] = []byte("v0")
	cache := NewTrieCache[string, []byte](trie, bytesCodec{}, rawKey, nil)

	var seen []byte
	require.NoError(t, cache.WithKey("k", func(v *[]byte, dirty *bool) {
		seen = *v
	}))
	require.Equal(t, []byte("v0"), seen)
	require.False(t, cache.IsDirty("k"))

	require.NoError(t, cache.WithKey("k", func(v *[]byte, dirty *bool) {
		*v = []byte("v1")
		*dirty = true
	}))
	require.True(t, cache.IsDirty("k"))

	// trie changes after caching are invisible
	trie.values["k"] = []byte("external")
	require.NoError(t, cache.WithKey("k", func(v *[]byte, dirty *bool) {
		seen = *v
	}))
	require.Equal(t, []byte("v1"), seen)
}

func TestWithKeyResolvesMissingNodeOnce(t *testing.T) {
	trie := newFakeTrie()
	nodeHash := crypto.Keccak256Hash([]byte("node"))
	trie.missing["k"] = nodeHash
	trie.values["k"] = []byte("resolved")

	resolved := 0
	cache := NewTrieCache[string, []byte](trie, bytesCodec{}, rawKey,
		func(key string, missing common.Hash) error {
			require.Equal(t, nodeHash, missing)
			delete(trie.missing, key)
			resolved++
			return nil
		})

	require.NoError(t, cache.WithKey("k", func(v *[]byte, dirty *bool) {
		require.Equal(t, []byte("resolved"), *v)
	}))
	require.Equal(t, 1, resolved)
}

func TestWithKeyFatalWithoutResolver(t *testing.T) {
	trie := newFakeTrie()
	trie.missing["k"] = crypto.Keccak256Hash([]byte("node"))
	cache := NewTrieCache[string, []byte](trie, bytesCodec{}, rawKey, nil)

	err := cache.WithKey("k", func(v *[]byte, dirty *bool) {})
	require.Error(t, err)
}

func TestFlushCollectsReductionsAndRetries(t *testing.T) {
	trie := newFakeTrie()
	nodeHash := crypto.Keccak256Hash([]byte("collapsed"))
	trie.reduceOnce["a"] = nodeHash
	cache := NewTrieCache[string, []byte](trie, bytesCodec{}, rawKey, nil)

	require.NoError(t, cache.WithKey("a", func(v *[]byte, dirty *bool) {
		*v = nil
		*dirty = true
	}))
	require.NoError(t, cache.WithKey("b", func(v *[]byte, dirty *bool) {
		*v = []byte("vb")
		*dirty = true
	}))

	reductions, err := cache.Flush()
	require.NoError(t, err)
	require.Equal(t, []common.Hash{nodeHash}, reductions)
	// the blocked key stays dirty, the applied one does not
	require.True(t, cache.IsDirty("a"))
	require.False(t, cache.IsDirty("b"))
	require.Equal(t, 1, trie.committed)

	reductions, err = cache.Flush()
	require.NoError(t, err)
	require.Empty(t, reductions)
	require.False(t, cache.IsDirty("a"))
}

func TestRevertSemantics(t *testing.T) {
	trie := newFakeTrie()
	cache := NewTrieCache[string, []byte](trie, bytesCodec{}, rawKey, nil)
	root := trie.Hash()

	// clean cache at the same root: no-op
	require.False(t, cache.Revert(root))
	require.Equal(t, 0, trie.resetCalled)

	require.NoError(t, cache.WithKey("k", func(v *[]byte, dirty *bool) {
		*v = []byte("x")
		*dirty = true
	}))
	require.True(t, cache.Revert(root))
	require.Equal(t, 1, trie.resetCalled)
	require.False(t, cache.IsDirty("k"))
}
