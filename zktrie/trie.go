package zktrie

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// AccountTriePrefix is the index namespace reserved for the account-level
// trie; storage tries derive their prefix from the owning location.
const AccountTriePrefix = uint64(math.MaxUint64)

// PrefixForLocation maps a trace location to an index namespace. The
// empty location is the account trie.
func PrefixForLocation(location []byte) uint64 {
	if len(location) == 0 {
		return AccountTriePrefix
	}
	h, err := TrieHash(location)
	if err != nil {
		// locations are at most one field element wide
		return AccountTriePrefix
	}
	return ParseNodeIndex(h[:])
}

// ZkTrie is the linked-leaf view over the sparse trie: keys hash to
// positions in a sorted doubly-linked list of leaf openings, and every
// mutation rewrites the neighbors' pointers alongside the leaf itself.
type ZkTrie struct {
	state  *SparseMerkleTrie
	prefix uint64
}

// NewZkTrie opens the trie at root inside the given index namespace.
func NewZkTrie(db Database, root common.Hash, prefix uint64) (*ZkTrie, error) {
	state, err := NewSparseMerkleTrie(db, root)
	if err != nil {
		return nil, err
	}
	return &ZkTrie{state: state, prefix: prefix}, nil
}

// NewZkTrieFromSubRoot builds the trie from a trace's old state.
func NewZkTrieFromSubRoot(nextFreeNode uint64, subRoot common.Hash, prefix uint64) *ZkTrie {
	return &ZkTrie{state: NewFromSubRoot(nextFreeNode, subRoot), prefix: prefix}
}

// NewEmptyZkTrie builds the empty world state and installs the head and
// tail sentinel leaves at indices 0 and 1.
func NewEmptyZkTrie(db Database, prefix uint64) (*ZkTrie, error) {
	trie, err := NewZkTrie(db, EmptyWorldStateRoot(), prefix)
	if err != nil {
		return nil, err
	}
	if err := trie.setHeadAndTail(db); err != nil {
		return nil, err
	}
	return trie, nil
}

func (t *ZkTrie) setHeadAndTail(db Database) error {
	head := HeadOpening()
	index, err := t.nextFreeIndex()
	if err != nil {
		return err
	}
	if err := t.state.Put(db, LeafPath(index), head.Bytes()); err != nil {
		return err
	}
	db.UpdateIndex(t.prefix, head.HKey, FlattenedLeaf{LeafIndex: 0, LeafValue: head.HVal.Bytes()})
	if err := t.incrementNextFreeIndex(db); err != nil {
		return err
	}

	tail := TailOpening()
	tailIndex, err := t.nextFreeIndex()
	if err != nil {
		return err
	}
	db.UpdateIndex(t.prefix, tail.HKey, FlattenedLeaf{LeafIndex: 1, LeafValue: tail.HVal.Bytes()})
	if err := t.state.Put(db, LeafPath(tailIndex), tail.Bytes()); err != nil {
		return err
	}
	return t.incrementNextFreeIndex(db)
}

// TopRootHash returns the synthetic root hash (commits to the counter).
func (t *ZkTrie) TopRootHash() common.Hash { return t.state.RootHash() }

// SubRootHash returns the sub-trie root.
func (t *ZkTrie) SubRootHash() common.Hash { return t.state.SubRootHash() }

// NextFreeNode returns the allocator counter.
func (t *ZkTrie) NextFreeNode() (uint64, bool) { return t.state.NextFreeNode() }

// Prefix returns the trie's index namespace.
func (t *ZkTrie) Prefix() uint64 { return t.prefix }

func (t *ZkTrie) nextFreeIndex() (uint64, error) {
	if free, ok := t.state.NextFreeNode(); ok {
		return free, nil
	}
	return 0, ErrNextFreeNotFound
}

func (t *ZkTrie) incrementNextFreeIndex(db Database) error {
	free, err := t.nextFreeIndex()
	if err != nil {
		return err
	}
	return t.state.SetNextFreeNode(db, free+1)
}

// parseOpening reads and decodes the leaf opening at path.
func (t *ZkTrie) parseOpening(db Database, path []byte) (LeafOpening, error) {
	node, err := t.state.GetNode(db, path)
	if err != nil {
		return LeafOpening{}, err
	}
	if node == nil || node.Value() == nil {
		return LeafOpening{}, &KeyNotFoundError{Path: path}
	}
	return ParseLeafOpening(node.Value())
}

// Read returns the value stored for key, nil when absent. The trie is
// not walked: the witnessed nearest-key index answers directly.
func (t *ZkTrie) Read(db Database, key []byte) ([]byte, error) {
	hkey, err := TrieHash(key)
	if err != nil {
		return nil, err
	}
	r, err := db.GetNearestKeys(t.TopRootHash(), t.prefix, hkey)
	if err != nil {
		return nil, err
	}
	if r.Center == nil {
		return nil, nil
	}
	return r.Center.LeafValue, nil
}

// Put writes value for key. A present key updates the leaf opening's
// value hash in place; an absent key allocates the next free index and
// splices it between the witnessed neighbors.
func (t *ZkTrie) Put(db Database, key, value []byte) error {
	hkey, err := TrieHash(key)
	if err != nil {
		return err
	}
	hval, err := TrieHash(value)
	if err != nil {
		return err
	}
	r, err := db.GetNearestKeys(t.TopRootHash(), t.prefix, hkey)
	if err != nil {
		return err
	}
	if r.Center != nil {
		// update in place
		leafPath := LeafPath(r.Center.LeafIndex)
		db.UpdateIndex(t.prefix, hkey, FlattenedLeaf{LeafIndex: r.Center.LeafIndex, LeafValue: value})
		prior, err := t.parseOpening(db, leafPath)
		if err != nil {
			return err
		}
		return t.state.Put(db, leafPath, prior.WithHVal(hval).Bytes())
	}

	nextFree, err := t.nextFreeIndex()
	if err != nil {
		return err
	}

	// rewrite HKey- to point forward at the new leaf
	leftPath := LeafPath(r.LeftIndex)
	priorLeft, err := t.parseOpening(db, leftPath)
	if err != nil {
		return err
	}
	if err := t.state.Put(db, leftPath, priorLeft.WithNextLeaf(nextFree).Bytes()); err != nil {
		return err
	}

	// install the new leaf between the neighbors
	db.UpdateIndex(t.prefix, hkey, FlattenedLeaf{LeafIndex: nextFree, LeafValue: value})
	opening := LeafOpening{
		PrevLeaf: r.LeftIndex,
		NextLeaf: r.RightIndex,
		HKey:     hkey,
		HVal:     hval,
	}
	if err := t.state.Put(db, LeafPath(nextFree), opening.Bytes()); err != nil {
		return err
	}

	// rewrite HKey+ to point back at the new leaf
	rightPath := LeafPath(r.RightIndex)
	priorRight, err := t.parseOpening(db, rightPath)
	if err != nil {
		return err
	}
	if err := t.state.Put(db, rightPath, priorRight.WithPrevLeaf(nextFree).Bytes()); err != nil {
		return err
	}

	return t.incrementNextFreeIndex(db)
}

// Remove deletes key if present: the neighbors are spliced past the
// removed index, then the leaf path is cleared. Indices are never
// reused.
func (t *ZkTrie) Remove(db Database, key []byte) error {
	hkey, err := TrieHash(key)
	if err != nil {
		return err
	}
	r, err := db.GetNearestKeys(t.TopRootHash(), t.prefix, hkey)
	if err != nil {
		return err
	}
	if r.Center == nil {
		return nil
	}

	leftPath := LeafPath(r.LeftIndex)
	priorLeft, err := t.parseOpening(db, leftPath)
	if err != nil {
		return err
	}
	if err := t.state.Put(db, leftPath, priorLeft.WithNextLeaf(r.RightIndex).Bytes()); err != nil {
		return err
	}

	deletePath := LeafPath(r.Center.LeafIndex)
	if _, err := t.parseOpening(db, deletePath); err != nil {
		return fmt.Errorf("zktrie: deleting absent leaf %d: %w", r.Center.LeafIndex, err)
	}
	db.RemoveIndex(t.prefix, hkey)
	if err := t.state.Remove(db, deletePath); err != nil {
		return err
	}

	rightPath := LeafPath(r.RightIndex)
	priorRight, err := t.parseOpening(db, rightPath)
	if err != nil {
		return err
	}
	return t.state.Put(db, rightPath, priorRight.WithPrevLeaf(r.LeftIndex).Bytes())
}
