package zktrie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// dumDigest widens n to a 32-byte big-endian word, the fixture format
// shared with the state manager's reference suite.
func dumDigest(n uint32) []byte {
	var out common.Hash
	out[28] = byte(n >> 24)
	out[29] = byte(n >> 16)
	out[30] = byte(n >> 8)
	out[31] = byte(n)
	return out.Bytes()
}

func TestHeadAndTailOpeningHashes(t *testing.T) {
	headHash, err := TrieHash(HeadOpening().Bytes())
	require.NoError(t, err)
	require.Equal(t,
		common.HexToHash("0x0891fa77c3d0c9b745840d71d41dcb58b638d4734bb4f0bba4a3d1a2d847b672"),
		headHash)

	tailHash, err := TrieHash(TailOpening().Bytes())
	require.NoError(t, err)
	require.Equal(t,
		common.HexToHash("0x10ba2286f648a549b50ea5f1b6e1155d22c31eb4727c241e76c420200cd5dbe0"),
		tailHash)
}

func TestEmptyWorldState(t *testing.T) {
	require.Equal(t,
		common.HexToHash("0x09349798db316b1b222f291207e9e1368e9b887a234dcc73b433e6218a43f173"),
		EmptyWorldStateRoot())
}

func TestEmptyTrieRootHash(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)

	require.Equal(t,
		common.HexToHash("0x07977874126658098c066972282d4c85f230520af3847e297fe7524f976873e5"),
		trie.TopRootHash())
	require.Equal(t,
		common.HexToHash("0x0951bfcd4ac808d195af8247140b906a4379b3f2d37ec66e34d2f4a5d35fa166"),
		trie.SubRootHash())
}

func TestInsertionRootHash(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)

	require.NoError(t, trie.Put(db, dumDigest(58), dumDigest(42)))
	require.Equal(t,
		common.HexToHash("0x0882afe875656680dceb7b17fcba7c136cec0c32becbe9039546c79f71c56d36"),
		trie.SubRootHash())
	require.Equal(t,
		common.HexToHash("0x0cfdc3990045390093be4e1cc9907b220324cccd1c8ea9ede980c7afa898ef8d"),
		trie.TopRootHash())
}

func TestInsertionAndUpdateRootHash(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)

	require.NoError(t, trie.Put(db, dumDigest(58), dumDigest(41)))
	require.Equal(t,
		common.HexToHash("0x03b9554192a170e9424f8cdcd5657ce1826123d93239b9aeb24a648d67522aa5"),
		trie.TopRootHash())

	// updating in place converges to the direct-insert root
	require.NoError(t, trie.Put(db, dumDigest(58), dumDigest(42)))
	require.Equal(t,
		common.HexToHash("0x0cfdc3990045390093be4e1cc9907b220324cccd1c8ea9ede980c7afa898ef8d"),
		trie.TopRootHash())
}

func TestInsertionAndDeleteRootHash(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)

	require.NoError(t, trie.Put(db, dumDigest(58), dumDigest(41)))
	require.NoError(t, trie.Remove(db, dumDigest(58)))

	// the sub root returns to the sentinel-only shape but the top root
	// keeps the advanced allocator
	require.Equal(t,
		common.HexToHash("0x0951bfcd4ac808d195af8247140b906a4379b3f2d37ec66e34d2f4a5d35fa166"),
		trie.SubRootHash())
	require.Equal(t,
		common.HexToHash("0x0bcb88342825fa7a079a5cf5f77d07b1590a140c311a35acd765080eea120329"),
		trie.TopRootHash())
}

func TestReadBackAndReadZero(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)

	require.NoError(t, trie.Put(db, dumDigest(10), dumDigest(100)))
	val, err := trie.Read(db, dumDigest(10))
	require.NoError(t, err)
	require.Equal(t, dumDigest(100), val)

	val, err = trie.Read(db, dumDigest(11))
	require.NoError(t, err)
	require.Nil(t, val)

	require.NoError(t, trie.Remove(db, dumDigest(10)))
	val, err = trie.Read(db, dumDigest(10))
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestDeletedIndexNeverReused(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)

	require.NoError(t, trie.Put(db, dumDigest(20), dumDigest(1)))
	free, ok := trie.NextFreeNode()
	require.True(t, ok)
	require.Equal(t, uint64(3), free)

	require.NoError(t, trie.Remove(db, dumDigest(20)))
	free, ok = trie.NextFreeNode()
	require.True(t, ok)
	require.Equal(t, uint64(3), free)

	require.NoError(t, trie.Put(db, dumDigest(21), dumDigest(2)))
	free, ok = trie.NextFreeNode()
	require.True(t, ok)
	require.Equal(t, uint64(4), free)
}

// openingAt reads the leaf opening stored at index via the raw trie.
func openingAt(t *testing.T, trie *ZkTrie, db Database, index uint64) LeafOpening {
	t.Helper()
	opening, err := trie.parseOpening(db, LeafPath(index))
	require.NoError(t, err)
	return opening
}

func TestLinkedLeafInvariant(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)

	keys := []uint32{58, 12, 99, 7, 1000, 43}
	live := map[uint64]struct{}{0: {}, 1: {}}
	for i, k := range keys {
		require.NoError(t, trie.Put(db, dumDigest(k), dumDigest(k*2)))
		live[uint64(i+2)] = struct{}{}
	}
	removed := findIndex(t, trie, db, live, 99)
	require.NoError(t, trie.Remove(db, dumDigest(99)))
	delete(live, removed)

	for idx := range live {
		opening := openingAt(t, trie, db, idx)
		if idx != 0 {
			prev := openingAt(t, trie, db, opening.PrevLeaf)
			require.Equal(t, idx, prev.NextLeaf, "prev(%d).next", idx)
			require.Equal(t, -1, bytesCompare(prev.HKey, opening.HKey))
		}
		if idx != 1 {
			next := openingAt(t, trie, db, opening.NextLeaf)
			require.Equal(t, idx, next.PrevLeaf, "next(%d).prev", idx)
			require.Equal(t, -1, bytesCompare(opening.HKey, next.HKey))
		}
	}
}

func bytesCompare(a, b common.Hash) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func findIndex(t *testing.T, trie *ZkTrie, db Database, live map[uint64]struct{}, key uint32) uint64 {
	t.Helper()
	hkey, err := TrieHash(dumDigest(key))
	require.NoError(t, err)
	for idx := range live {
		node, err := trie.state.GetNode(db, LeafPath(idx))
		require.NoError(t, err)
		if node == nil {
			continue
		}
		opening, err := ParseLeafOpening(node.Value())
		require.NoError(t, err)
		if opening.HKey == hkey {
			return idx
		}
	}
	t.Fatalf("no live leaf for key %d", key)
	return 0
}

func TestLeafPathShape(t *testing.T) {
	path := LeafPath(3)
	require.Len(t, path, Depth+2)
	require.Equal(t, byte(subTrieRootPath), path[0])
	require.Equal(t, byte(LeafTypeValue), path[Depth+1])
	require.Equal(t, byte(1), path[Depth])
	require.Equal(t, byte(1), path[Depth-1])
	for _, b := range path[1 : Depth-1] {
		require.Equal(t, byte(0), b)
	}
}

func TestAddProofValidatesRoot(t *testing.T) {
	db := NewMemStore()
	trie, err := NewEmptyZkTrie(db, AccountTriePrefix)
	require.NoError(t, err)
	require.NoError(t, trie.Put(db, dumDigest(58), dumDigest(42)))

	hkey, err := TrieHash(dumDigest(58))
	require.NoError(t, err)

	proof := Proof{NextFreeNode: 99, LeafIndex: 2, Leaf: &LeafOpening{HKey: hkey}}
	other := NewMemStore()
	require.ErrorIs(t,
		other.AddProof(trie.TopRootHash(), AccountTriePrefix, hkey, proof),
		ErrInvalidProof)
}
