package mpt

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/automata-network/linea-prover/statedb"
)

func TestTrieUpdateAndReadBack(t *testing.T) {
	db := NewDatabase()
	tr, err := NewTrie(types.EmptyRootHash, db)
	require.NoError(t, err)

	key := crypto.Keccak256([]byte("alpha"))
	require.NoError(t, tr.Put(key, []byte("value-1")))
	require.NoError(t, tr.Commit())
	root := tr.Hash()
	require.NotEqual(t, types.EmptyRootHash, root)

	reopened, err := NewTrie(root, db)
	require.NoError(t, err)
	got, err := reopened.Get(key)
	require.NoError(t, err)
	require.Equal(t, []byte("value-1"), got)
}

func TestTrieDeleteRestoresEmptyRoot(t *testing.T) {
	db := NewDatabase()
	tr, err := NewTrie(types.EmptyRootHash, db)
	require.NoError(t, err)

	key := crypto.Keccak256([]byte("alpha"))
	require.NoError(t, tr.Put(key, []byte("value-1")))
	require.NoError(t, tr.Commit())

	require.NoError(t, tr.Put(key, nil))
	require.NoError(t, tr.Commit())
	require.Equal(t, types.EmptyRootHash, tr.Hash())
}

func TestTrieMissingNodeSurfaces(t *testing.T) {
	// build a populated trie, then reopen it over a store that only
	// holds the root node
	full := NewDatabase()
	tr, err := NewTrie(types.EmptyRootHash, full)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, tr.Put(crypto.Keccak256([]byte(name)), []byte("v-"+name)))
	}
	require.NoError(t, tr.Commit())
	full.Commit()
	root := tr.Hash()

	sparse := NewDatabase()
	rootNode := full.Get(root)
	require.NotNil(t, rootNode)
	sparse.Staging(rootNode)
	sparse.Commit()

	partial, err := NewTrie(root, sparse)
	require.NoError(t, err)
	_, err = partial.Get(crypto.Keccak256([]byte("a")))
	var missing *statedb.MissingNodeError
	require.True(t, errors.As(err, &missing))
	require.NotEqual(t, root, missing.NodeHash)
}

func TestTrieDeleteOnPartialWitnessIsReduction(t *testing.T) {
	full := NewDatabase()
	tr, err := NewTrie(types.EmptyRootHash, full)
	require.NoError(t, err)
	keys := [][]byte{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		key := crypto.Keccak256([]byte(name))
		keys = append(keys, key)
		require.NoError(t, tr.Put(key, []byte("v-"+name)))
	}
	require.NoError(t, tr.Commit())
	full.Commit()
	root := tr.Hash()

	// witness only the path of the key being deleted
	reference, err := NewTrie(root, full)
	require.NoError(t, err)
	proof := proveKey(t, reference, full, keys[0])

	sparse := NewDatabase()
	ResumeProofs(sparse, proof)
	sparse.Commit()

	partial, err := NewTrie(root, sparse)
	require.NoError(t, err)
	err = partial.Put(keys[0], nil)
	if err != nil {
		var reduction *statedb.ReductionNodeError
		require.True(t, errors.As(err, &reduction), "unexpected error: %v", err)
	}
}

// proveKey walks the committed trie and returns the node blobs on the
// key's path, a stand-in for a remote Merkle proof.
func proveKey(t *testing.T, tr *Trie, db NodeDB, key []byte) [][]byte {
	t.Helper()
	prover := newProofCollector(db)
	require.NoError(t, tr.tr.Prove(key, prover))
	return prover.nodes
}

type proofCollector struct {
	db    NodeDB
	nodes [][]byte
}

func newProofCollector(db NodeDB) *proofCollector {
	return &proofCollector{db: db}
}

func (p *proofCollector) Put(key []byte, value []byte) error {
	p.nodes = append(p.nodes, append([]byte{}, value...))
	return nil
}

func (p *proofCollector) Delete(key []byte) error { return nil }
