// Package mpt layers the Ethereum account and storage tries over the
// content-addressed witness store: go-ethereum's trie implementation
// resolves nodes by hash out of the NodeDB, and the TrieState cache on
// top implements the prover's account-oriented state interface.
package mpt

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/automata-network/linea-prover/statedb"
)

// StorageNode is one witness trie node: its canonical RLP encoding keyed
// by its keccak hash.
type StorageNode struct {
	Hash common.Hash
	Blob []byte
}

// NodeHash keys a node by its own hash; used to instantiate the NodeDB.
func NodeHash(n *StorageNode) common.Hash { return n.Hash }

// NodeDB is the node-store flavor the Patricia trie runs over.
type NodeDB = statedb.NodeDB[StorageNode]

// NewDatabase builds an empty node store for MPT nodes.
func NewDatabase() *statedb.MemStore[StorageNode] {
	return statedb.NewMemStore[StorageNode](NodeHash, nil)
}

// ResumeNode stages one raw witness node, keyed by its keccak hash.
func ResumeNode(db NodeDB, blob []byte) *StorageNode {
	node := &StorageNode{Hash: crypto.Keccak256Hash(blob), Blob: blob}
	return db.Staging(node)
}

// ResumeCode stores contract bytecode under its keccak hash.
func ResumeCode(db NodeDB, code []byte) common.Hash {
	hash := crypto.Keccak256Hash(code)
	db.SetCode(hash, code)
	return hash
}

// ResumeProofs stages a batch of raw proof nodes and returns their
// hashes.
func ResumeProofs(db NodeDB, proofs [][]byte) []common.Hash {
	hashes := make([]common.Hash, 0, len(proofs))
	for _, proof := range proofs {
		node := ResumeNode(db, proof)
		hashes = append(hashes, node.Hash)
	}
	return hashes
}
