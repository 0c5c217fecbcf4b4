package zktrie

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// FlattenedLeaf is the index entry for a present key: the leaf position
// and the raw stored value.
type FlattenedLeaf struct {
	LeafIndex uint64
	LeafValue []byte
}

// LeafPath returns the trie path of the indexed leaf.
func (f FlattenedLeaf) LeafPath() []byte { return LeafPath(f.LeafIndex) }

// HeadFlattened returns the index entry of the head sentinel.
func HeadFlattened() FlattenedLeaf {
	head := HeadOpening()
	return FlattenedLeaf{LeafIndex: 0, LeafValue: head.HVal.Bytes()}
}

// TailFlattened returns the index entry of the tail sentinel.
func TailFlattened() FlattenedLeaf {
	tail := TailOpening()
	return FlattenedLeaf{LeafIndex: 1, LeafValue: tail.HVal.Bytes()}
}

// KeyRange is an approximate locate: the indices of the two linked-list
// neighbors and, when the key is present, the match itself.
type KeyRange struct {
	LeftIndex  uint64
	Center     *FlattenedLeaf
	RightIndex uint64
}

// LeftPath returns the trie path of the left neighbor.
func (r KeyRange) LeftPath() []byte { return LeafPath(r.LeftIndex) }

// RightPath returns the trie path of the right neighbor.
func (r KeyRange) RightPath() []byte { return LeafPath(r.RightIndex) }

type indexKey struct {
	prefix uint64
	hkey   common.Hash
}

// levelMap indexes key ranges by the top hash they were witnessed at.
// The prefix namespace separates the account trie from each account's
// storage trie.
type levelMap struct {
	vals map[common.Hash]map[indexKey]KeyRange
}

func newLevelMap() *levelMap {
	return &levelMap{vals: make(map[common.Hash]map[indexKey]KeyRange)}
}

func (m *levelMap) insert(root common.Hash, prefix uint64, hkey common.Hash, r KeyRange) {
	rootMap, ok := m.vals[root]
	if !ok {
		rootMap = make(map[indexKey]KeyRange)
		m.vals[root] = rootMap
	}
	rootMap[indexKey{prefix, hkey}] = r
}

func (m *levelMap) get(root common.Hash, prefix uint64, hkey common.Hash) (KeyRange, bool) {
	r, ok := m.vals[root][indexKey{prefix, hkey}]
	return r, ok
}

// MemStore is the in-memory Database for the sparse trie, primed from a
// trace stream or from directly fetched proofs. The shared empty-subtree
// table is consulted before the node map. Nearest-key lookups answer
// from the trace-witnessed level map first and fall back to a live
// search over locally maintained index entries (the path taken when the
// trie is built from scratch rather than replayed).
type MemStore struct {
	nodes map[common.Hash]*Node
	index *levelMap
	live  map[indexKey]FlattenedLeaf
	codes map[common.Hash][]byte
}

// NewMemStore builds an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes: make(map[common.Hash]*Node),
		index: newLevelMap(),
		live:  make(map[indexKey]FlattenedLeaf),
		codes: make(map[common.Hash][]byte),
	}
}

// MemStoreFromTraces primes a store with every node and nearest-key
// entry a trace stream witnesses.
func MemStoreFromTraces(traces []Trace) (*MemStore, error) {
	s := NewMemStore()
	if err := s.AddTraces(traces); err != nil {
		return nil, err
	}
	return s, nil
}

// AddTraces ingests additional traces into the store.
func (s *MemStore) AddTraces(traces []Trace) error {
	for _, t := range traces {
		for _, node := range t.Nodes() {
			s.nodes[node.Hash()] = node
		}
		// the synthetic top binds the allocator counter; storing it lets
		// a trie reopen at any witnessed root
		nextFree, subRoot := t.OldState()
		top := TopNode(nextFree, subRoot)
		s.nodes[top.Hash()] = top

		hkey, err := TrieHash(t.Key())
		if err != nil {
			return err
		}
		prefix := PrefixForLocation(t.Location())
		s.index.insert(top.Hash(), prefix, hkey, t.KeyRange())
	}
	return nil
}

// SetCode stores contract bytecode by hash.
func (s *MemStore) SetCode(hash common.Hash, code []byte) {
	s.codes[hash] = code
}

func (s *MemStore) GetNode(hash common.Hash) (*Node, error) {
	if n, ok := emptyTrieNodes[hash]; ok {
		return n, nil
	}
	return s.nodes[hash], nil
}

func (s *MemStore) UpdateNode(node *Node) (*Node, error) {
	s.nodes[node.Hash()] = node
	return node, nil
}

func (s *MemStore) GetNearestKeys(root common.Hash, prefix uint64, hkey common.Hash) (KeyRange, error) {
	if r, ok := s.index.get(root, prefix, hkey); ok {
		return r, nil
	}
	return s.searchLive(root, prefix, hkey)
}

// searchLive scans the locally maintained index entries for the exact
// key and its two linked-list neighbors.
func (s *MemStore) searchLive(root common.Hash, prefix uint64, hkey common.Hash) (KeyRange, error) {
	var (
		r     KeyRange
		found bool
		left  common.Hash
		right common.Hash
	)
	for k, leaf := range s.live {
		if k.prefix != prefix {
			continue
		}
		found = true
		switch bytes.Compare(k.hkey[:], hkey[:]) {
		case 0:
			center := leaf
			r.Center = &center
		case -1:
			if bytes.Compare(k.hkey[:], left[:]) >= 0 {
				left = k.hkey
				r.LeftIndex = leaf.LeafIndex
			}
		case 1:
			if right == (common.Hash{}) || bytes.Compare(k.hkey[:], right[:]) < 0 {
				right = k.hkey
				r.RightIndex = leaf.LeafIndex
			}
		}
	}
	if !found {
		return KeyRange{}, &KeyRangeNotFoundError{Root: root, HKey: hkey}
	}
	return r, nil
}

func (s *MemStore) UpdateIndex(prefix uint64, hkey common.Hash, leaf FlattenedLeaf) {
	s.live[indexKey{prefix, hkey}] = leaf
}

func (s *MemStore) RemoveIndex(prefix uint64, hkey common.Hash) {
	delete(s.live, indexKey{prefix, hkey})
}

func (s *MemStore) GetCode(hash common.Hash) []byte {
	return s.codes[hash]
}

// Proof is a directly fetched Merkle opening: the leaf position, the
// prior opening (nil for an absence proof), and the sibling hashes from
// the leaf up to the sub-root, together with the allocator counter that
// completes the top hash.
type Proof struct {
	NextFreeNode uint64
	LeafIndex    uint64
	Leaf         *LeafOpening
	Value        []byte
	Siblings     []common.Hash
}

// AddProof validates a fetched proof against the claimed top root and,
// on success, inserts its nodes and the nearest-key entry for hkey.
// The key range for an absence proof pins the prior opening's neighbor
// indices.
func (s *MemStore) AddProof(topRoot common.Hash, prefix uint64, hkey common.Hash, proof Proof) error {
	nodes, subRoot := buildProofNodes(proof.LeafIndex, proof.Leaf, proof.Siblings)
	top := TopNode(proof.NextFreeNode, subRoot)
	if top.Hash() != topRoot {
		return ErrInvalidProof
	}
	for _, node := range nodes {
		s.nodes[node.Hash()] = node
	}
	s.nodes[top.Hash()] = top

	var r KeyRange
	if proof.Leaf != nil && proof.Leaf.HKey == hkey {
		r = KeyRange{
			LeftIndex: proof.Leaf.PrevLeaf,
			Center: &FlattenedLeaf{
				LeafIndex: proof.LeafIndex,
				LeafValue: proof.Value,
			},
			RightIndex: proof.Leaf.NextLeaf,
		}
	} else if proof.Leaf != nil {
		r = KeyRange{LeftIndex: proof.LeafIndex, RightIndex: proof.Leaf.NextLeaf}
	}
	s.index.insert(topRoot, prefix, hkey, r)
	return nil
}

// buildProofNodes rebuilds the path from a leaf opening (or an empty
// leaf for absence proofs) up through the siblings and returns every
// intermediate node plus the resulting sub-root hash.
func buildProofNodes(leafIndex uint64, leaf *LeafOpening, siblings []common.Hash) ([]*Node, common.Hash) {
	triePath := LeafPath(leafIndex)

	var root *Node
	if leaf != nil {
		root = NewLeaf(triePath[len(triePath)-1:], leaf.Bytes())
	} else {
		root = EmptyLeaf()
	}

	out := make([]*Node, 0, len(siblings)+1)
	for idx, sibling := range siblings {
		var next *Node
		if triePath[len(siblings)-idx] == 0 {
			next = NewBranch(root.Hash(), sibling)
		} else {
			next = NewBranch(sibling, root.Hash())
		}
		out = append(out, root)
		root = next
	}
	out = append(out, root)
	return out, root.Hash()
}
