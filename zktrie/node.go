// Package zktrie implements the depth-40 MiMC-hashed sparse Merkle trie
// used by the Linea state manager: linked leaf openings sorted by hashed
// key, a next-free-index allocator folded into the synthetic root, and
// ingestion of the state manager's replay traces.
package zktrie

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automata-network/linea-prover/mimc"
)

// Depth is the number of branch levels in the sub trie. A full leaf path
// additionally carries the sub-trie selector in front and the leaf-type
// byte behind, for Depth+2 entries.
const Depth = 40

// Leaf-type path terminators.
const (
	LeafTypeValue        = 0x16
	LeafTypeNextFreeNode = 0x17
)

type nodeKind uint8

const (
	kindBranch nodeKind = iota
	kindLeaf
	kindEmpty
	kindNextFree
)

// Node is an immutable trie node carrying its own MiMC hash, computed
// once at construction. Nodes are shared freely across paths and forks.
type Node struct {
	kind nodeKind
	hash common.Hash

	// branch children: left is either a hash or an embedded next-free
	// node (the synthetic top keeps its counter inline)
	leftHash common.Hash
	leftNode *Node
	right    common.Hash

	path  []byte
	value []byte
}

var emptyLeaf = &Node{kind: kindEmpty}

// EmptyLeaf returns the shared empty-leaf node (hash zero).
func EmptyLeaf() *Node { return emptyLeaf }

// NewBranch builds a branch over two child hashes.
func NewBranch(left, right common.Hash) *Node {
	n := &Node{kind: kindBranch, leftHash: left, right: right}
	n.hash = n.computeHash()
	return n
}

// newBranchNode builds a branch whose left child is the given node.
// Only next-free nodes are kept inline; everything else collapses to its
// hash.
func newBranchNode(left *Node, right common.Hash) *Node {
	n := &Node{kind: kindBranch, right: right}
	if left.kind == kindNextFree {
		n.leftNode = left
	} else {
		n.leftHash = left.hash
	}
	n.hash = n.computeHash()
	return n
}

// NewLeaf builds a leaf holding value at the given residual path. A path
// consisting of the next-free terminator produces a next-free node.
func NewLeaf(path, value []byte) *Node {
	kind := kindLeaf
	if len(path) == 1 && path[0] == LeafTypeNextFreeNode {
		kind = kindNextFree
	}
	n := &Node{kind: kind, path: append([]byte{}, path...), value: append([]byte{}, value...)}
	n.hash = n.computeHash()
	return n
}

// NewNextFree builds the allocator node holding index in the last eight
// value bytes.
func NewNextFree(index uint64) *Node {
	value := make([]byte, 32)
	binary.BigEndian.PutUint64(value[24:], index)
	n := &Node{kind: kindNextFree, value: value}
	n.hash = n.computeHash()
	return n
}

// TopNode builds the synthetic root binding the next-free counter to the
// sub-root.
func TopNode(nextFreeNode uint64, subRoot common.Hash) *Node {
	return newBranchNode(NewNextFree(nextFreeNode), subRoot)
}

func (n *Node) Hash() common.Hash { return n.hash }

// Value returns the payload of a leaf or next-free node, nil otherwise.
func (n *Node) Value() []byte {
	switch n.kind {
	case kindLeaf, kindNextFree:
		return n.value
	}
	return nil
}

func (n *Node) IsBranch() bool   { return n.kind == kindBranch }
func (n *Node) IsEmpty() bool    { return n.kind == kindEmpty }
func (n *Node) IsNextFree() bool { return n.kind == kindNextFree }

// LeftHash returns the left child hash of a branch.
func (n *Node) LeftHash() common.Hash {
	if n.leftNode != nil {
		return n.leftNode.hash
	}
	return n.leftHash
}

// Right returns the right child hash of a branch.
func (n *Node) Right() common.Hash { return n.right }

// child returns the child hash (and the inline node, if any) selected by
// a path bit.
func (n *Node) child(bit byte) (common.Hash, *Node) {
	if bit == 0 {
		return n.LeftHash(), n.leftNode
	}
	return n.right, nil
}

// replaceChild produces a new branch with one child swapped.
func (n *Node) replaceChild(bit byte, child *Node) *Node {
	if bit == 0 {
		return newBranchNode(child, n.right)
	}
	out := &Node{kind: kindBranch, leftHash: n.leftHash, leftNode: n.leftNode, right: child.hash}
	out.hash = out.computeHash()
	return out
}

func (n *Node) String() string {
	switch n.kind {
	case kindBranch:
		return fmt.Sprintf("Branch{left: %x, right: %x}", n.LeftHash(), n.right)
	case kindLeaf:
		return fmt.Sprintf("Leaf{path: %x, value: %x}", n.path, n.value)
	case kindNextFree:
		return fmt.Sprintf("NextFree{value: %d}", ParseNodeIndex(n.value))
	default:
		return "EmptyLeaf"
	}
}

// hashInput serializes the node for hashing: a branch is its two
// children (the inline next-free child contributes its raw counter
// value), a leaf its payload.
func (n *Node) hashInput() []byte {
	switch n.kind {
	case kindBranch:
		out := make([]byte, 0, 64)
		if n.leftNode != nil {
			out = append(out, n.leftNode.value...)
		} else {
			out = append(out, n.leftHash[:]...)
		}
		return append(out, n.right[:]...)
	case kindLeaf, kindNextFree:
		return n.value
	}
	return nil
}

func (n *Node) computeHash() common.Hash {
	if n.kind == kindEmpty {
		return common.Hash{}
	}
	return common.Hash(mimc.SumHash(n.hashInput()))
}

// InitWorldState precomputes the empty trie: the hash of an all-empty
// subtree for every level plus the synthetic root over it. The returned
// map is the static empty-node table every node store consults first.
func InitWorldState() (*Node, map[common.Hash]*Node) {
	nodes := make(map[common.Hash]*Node)

	node := EmptyLeaf()
	nodes[node.Hash()] = node
	for i := 0; i < Depth; i++ {
		node = newBranchNode(node, node.Hash())
		nodes[node.Hash()] = node
	}
	node = newBranchNode(EmptyLeaf(), node.Hash())
	nodes[node.Hash()] = node

	return node, nodes
}

var worldStateRoot, emptyTrieNodes = InitWorldState()

// EmptyWorldStateRoot is the root hash of the empty trie before the
// sentinel leaves are installed.
func EmptyWorldStateRoot() common.Hash { return worldStateRoot.Hash() }

// EmptyTrieNodes returns the shared empty-subtree table.
func EmptyTrieNodes() map[common.Hash]*Node { return emptyTrieNodes }

// IsEmptyNode reports whether n is one of the precomputed empty-subtree
// nodes.
func IsEmptyNode(n *Node) bool {
	_, ok := emptyTrieNodes[n.Hash()]
	return ok
}
