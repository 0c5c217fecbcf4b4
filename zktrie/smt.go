package zktrie

import (
	"github.com/ethereum/go-ethereum/common"
)

// Database is the node and index store the sparse trie runs over. Nodes
// are content-addressed by their MiMC hash; the nearest-key index
// resolves hashed keys to the surrounding linked-list leaves, as
// witnessed by the replay trace.
type Database interface {
	GetNode(hash common.Hash) (*Node, error)
	UpdateNode(node *Node) (*Node, error)
	GetNearestKeys(root common.Hash, prefix uint64, hkey common.Hash) (KeyRange, error)
	UpdateIndex(prefix uint64, hkey common.Hash, leaf FlattenedLeaf)
	RemoveIndex(prefix uint64, hkey common.Hash)
	GetCode(hash common.Hash) []byte
}

// SparseMerkleTrie is the raw depth-40 binary trie. The root is the
// synthetic branch Branch{left: NextFree(n), right: subRoot}, so the
// top hash commits to the allocator counter.
type SparseMerkleTrie struct {
	root *Node
}

// NewSparseMerkleTrie opens a trie at root, normalizing the left child
// into an inline next-free node (an empty left child is counter zero).
func NewSparseMerkleTrie(db Database, root common.Hash) (*SparseMerkleTrie, error) {
	node, err := db.GetNode(root)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &NodeNotFoundError{Level: 0, Hash: root}
	}
	if !node.IsBranch() {
		return nil, &KeyNotFoundError{Path: root[:]}
	}
	nextFree := uint64(0)
	if left := node.leftNode; left != nil {
		nextFree = ParseNodeIndex(left.Value())
	} else if node.LeftHash() != (common.Hash{}) {
		leftNode, err := db.GetNode(node.LeftHash())
		if err != nil {
			return nil, err
		}
		if leftNode == nil {
			return nil, &NodeNotFoundError{Level: 1, Hash: node.LeftHash()}
		}
		nextFree = ParseNodeIndex(leftNode.Value())
	}
	// the inline allocator serializes identically to the hash form, so
	// the root hash is preserved
	return &SparseMerkleTrie{root: TopNode(nextFree, node.Right())}, nil
}

// NewFromSubRoot builds a trie directly from a trace's old state.
func NewFromSubRoot(nextFreeNode uint64, subRoot common.Hash) *SparseMerkleTrie {
	return &SparseMerkleTrie{root: TopNode(nextFreeNode, subRoot)}
}

// RootHash returns the synthetic top hash.
func (t *SparseMerkleTrie) RootHash() common.Hash { return t.root.Hash() }

// SubRootHash returns the right child of the synthetic root.
func (t *SparseMerkleTrie) SubRootHash() common.Hash { return t.root.Right() }

// NextFreeNode returns the allocator counter held in the root.
func (t *SparseMerkleTrie) NextFreeNode() (uint64, bool) {
	if left := t.root.leftNode; left != nil {
		return ParseNodeIndex(left.Value()), true
	}
	return 0, false
}

// SetNextFreeNode rewrites the synthetic root with a new counter and
// stores the resulting top node so the trie can be reopened by hash.
func (t *SparseMerkleTrie) SetNextFreeNode(db Database, free uint64) error {
	t.root = t.root.replaceChild(0, NewNextFree(free))
	_, err := db.UpdateNode(t.root)
	return err
}

// Put writes value at the given full path, rebuilding every branch on
// the way back up.
func (t *SparseMerkleTrie) Put(db Database, path []byte, value []byte) error {
	root, err := t.addLeaf(db, 0, t.root, common.Hash{}, path, value)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// Remove clears the leaf at path.
func (t *SparseMerkleTrie) Remove(db Database, path []byte) error {
	root, err := t.removeLeaf(db, 0, t.root, common.Hash{}, path)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// expand resolves the node to work on: the inline node if present,
// otherwise a store lookup by hash.
func (t *SparseMerkleTrie) expand(db Database, lvl int, node *Node, hash common.Hash) (*Node, error) {
	if node != nil {
		return node, nil
	}
	resolved, err := db.GetNode(hash)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, &NodeNotFoundError{Level: lvl, Hash: hash}
	}
	return resolved, nil
}

func (t *SparseMerkleTrie) addLeaf(db Database, lvl int, node *Node, hash common.Hash, path, value []byte) (*Node, error) {
	if lvl >= Depth+2 {
		return nil, ErrReachedMaxLevel
	}
	n, err := t.expand(db, lvl, node, hash)
	if err != nil {
		return nil, err
	}
	switch {
	case n.IsBranch():
		childHash, childNode := n.child(path[lvl])
		updated, err := t.addLeaf(db, lvl+1, childNode, childHash, path, value)
		if err != nil {
			return nil, err
		}
		return t.dbAdd(db, n.replaceChild(path[lvl], updated))
	case n.IsEmpty():
		return t.dbAdd(db, NewLeaf(path[lvl:], value))
	default:
		// leaf or next-free: the residual path must match exactly
		if prefixLen(n.path, path[lvl:]) != len(n.path) {
			return nil, ErrPathNotAllowed
		}
		return t.dbAdd(db, NewLeaf(path[lvl:], value))
	}
}

func (t *SparseMerkleTrie) removeLeaf(db Database, lvl int, node *Node, hash common.Hash, path []byte) (*Node, error) {
	if lvl >= Depth+2 {
		return nil, ErrReachedMaxLevel
	}
	n, err := t.expand(db, lvl, node, hash)
	if err != nil {
		return nil, err
	}
	if n.IsBranch() {
		childHash, childNode := n.child(path[lvl])
		updated, err := t.removeLeaf(db, lvl+1, childNode, childHash, path)
		if err != nil {
			return nil, err
		}
		return t.dbAdd(db, n.replaceChild(path[lvl], updated))
	}
	return EmptyLeaf(), nil
}

func (t *SparseMerkleTrie) dbAdd(db Database, node *Node) (*Node, error) {
	return db.UpdateNode(node)
}

// GetNode walks the trie along path and returns the terminal node, nil
// if the path lands on an empty subtree or a mismatched leaf.
func (t *SparseMerkleTrie) GetNode(db Database, path []byte) (*Node, error) {
	current, currentHash := t.root, common.Hash{}
	for i := 0; i < Depth+2; i++ {
		n, err := t.expand(db, i, current, currentHash)
		if err != nil {
			return nil, err
		}
		switch {
		case n.IsBranch():
			currentHash, current = n.child(path[i])
		case n.IsEmpty():
			return nil, nil
		default:
			if prefixLen(n.path, path[i:]) == len(n.path) && len(n.path) == len(path)-i {
				return n, nil
			}
			return nil, nil
		}
	}
	return nil, ErrReachedMaxLevel
}
