package zktrie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

// encodeTrace builds the wire envelope [[type, payload]] around an
// already-encoded payload.
func encodeTrace(t *testing.T, ty uint32, payload interface{}) []byte {
	t.Helper()
	tyBytes := []byte{byte(ty >> 24), byte(ty >> 16), byte(ty >> 8), byte(ty)}
	payloadRaw, err := rlp.EncodeToBytes(payload)
	require.NoError(t, err)
	inner := []interface{}{tyBytes, rlp.RawValue(payloadRaw)}
	out, err := rlp.EncodeToBytes([]interface{}{inner})
	require.NoError(t, err)
	return out
}

// rlpOpening mirrors the wire form of a leaf opening: a 128-byte string.
func rlpOpening(l LeafOpening) []byte { return l.Bytes() }

func TestDecodeReadTrace(t *testing.T) {
	leaf := LeafOpening{PrevLeaf: 3, NextLeaf: 7, HKey: common.HexToHash("0xaa"), HVal: common.HexToHash("0xbb")}
	payload := []interface{}{
		[]byte{},                   // location
		uint64(12),                 // next free node
		common.HexToHash("0x1234"), // sub root
		rlpOpening(leaf),
		[]interface{}{uint64(5), []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}},
		dumDigest(10), // key
		dumDigest(99), // value
	}
	raw := encodeTrace(t, TraceTypeRead, payload)

	decoded, err := DecodeTrace(raw)
	require.NoError(t, err)
	read, ok := decoded.(*ReadTrace)
	require.True(t, ok)
	require.Equal(t, uint64(12), read.NextFreeNode)
	require.Equal(t, common.HexToHash("0x1234"), read.SubRoot)
	require.Equal(t, leaf, read.Leaf)
	require.Equal(t, uint64(5), read.Proof.LeafIndex)
	require.Len(t, read.Proof.Siblings, 2)
	require.Equal(t, dumDigest(10), read.TraceKey)
	require.Equal(t, dumDigest(99), read.Value)

	r := read.KeyRange()
	require.Equal(t, uint64(3), r.LeftIndex)
	require.Equal(t, uint64(7), r.RightIndex)
	require.NotNil(t, r.Center)
	require.Equal(t, uint64(5), r.Center.LeafIndex)
	require.Equal(t, dumDigest(99), r.Center.LeafValue)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	raw := encodeTrace(t, 9, []interface{}{[]byte{}})
	_, err := DecodeTrace(raw)
	require.Error(t, err)
}

func TestDecodeRejectsShortTypeTag(t *testing.T) {
	inner := []interface{}{[]byte{1}, []interface{}{}}
	raw, err := rlp.EncodeToBytes([]interface{}{inner})
	require.NoError(t, err)
	_, err = DecodeTrace(raw)
	require.Error(t, err)
}

func TestInsertionTraceOldState(t *testing.T) {
	tr := &InsertionTrace{NewNextFreeNode: 66, OldSubRoot: common.HexToHash("0x55")}
	nextFree, subRoot := tr.OldState()
	require.Equal(t, uint64(65), nextFree)
	require.Equal(t, common.HexToHash("0x55"), subRoot)
}

// A trace replay against a store primed only with the trace's own nodes
// must reproduce the trie mutation, proving the rebuilt proof nodes are
// self-consistent.
func TestTraceNodesReplayUpdate(t *testing.T) {
	// build a real trie, record the proof material for an update
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)
	require.NoError(t, trie.Put(db, dumDigest(12), dumDigest(12)))

	nextFree, ok := trie.NextFreeNode()
	require.True(t, ok)
	oldTop := trie.TopRootHash()
	oldSub := trie.SubRootHash()

	hkey, err := TrieHash(dumDigest(12))
	require.NoError(t, err)
	r, err := db.GetNearestKeys(oldTop, AccountTriePrefix, hkey)
	require.NoError(t, err)
	require.NotNil(t, r.Center)

	leaf := openingAt(t, trie, db, r.Center.LeafIndex)
	siblings := collectSiblings(t, trie, db, r.Center.LeafIndex)

	tr := &UpdateTrace{
		NextFreeNode:    nextFree,
		OldSubRoot:      oldSub,
		Proof:           TraceProof{LeafIndex: r.Center.LeafIndex, Siblings: siblings},
		TraceKey:        dumDigest(12),
		OldValue:        dumDigest(12),
		NewValue:        dumDigest(120),
		PriorUpdateLeaf: leaf,
	}

	replay, err := MemStoreFromTraces([]Trace{tr})
	require.NoError(t, err)
	replayTrie := NewZkTrieFromSubRoot(nextFree, oldSub, AccountTriePrefix)
	require.Equal(t, oldTop, replayTrie.TopRootHash())

	require.NoError(t, replayTrie.Put(replay, dumDigest(12), dumDigest(120)))

	// the reference trie agrees after the same mutation
	require.NoError(t, trie.Put(db, dumDigest(12), dumDigest(120)))
	require.Equal(t, trie.TopRootHash(), replayTrie.TopRootHash())
}

// collectSiblings walks the sub trie along the leaf path and gathers the
// off-path child hashes from the leaf level upward.
func collectSiblings(t *testing.T, trie *ZkTrie, db Database, index uint64) []common.Hash {
	t.Helper()
	path := LeafPath(index)
	var down []common.Hash

	node, err := db.GetNode(trie.TopRootHash())
	if err != nil || node == nil {
		// the live root is held by the trie handle, not the store
		node = TopNode(mustNextFree(t, trie), trie.SubRootHash())
	}
	for i := 0; i < Depth+1; i++ {
		require.True(t, node.IsBranch())
		var next common.Hash
		if path[i] == 0 {
			down = append(down, node.Right())
			next = node.LeftHash()
		} else {
			down = append(down, node.LeftHash())
			next = node.Right()
		}
		node, err = db.GetNode(next)
		require.NoError(t, err)
		require.NotNil(t, node)
	}

	// drop the top level (the proof covers the sub trie only) and
	// reverse into leaf-to-root order
	down = down[1:]
	out := make([]common.Hash, 0, len(down))
	for i := len(down) - 1; i >= 0; i-- {
		out = append(out, down[i])
	}
	return out
}

func mustNextFree(t *testing.T, trie *ZkTrie) uint64 {
	t.Helper()
	free, ok := trie.NextFreeNode()
	require.True(t, ok)
	return free
}
