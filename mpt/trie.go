package mpt

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb/database"

	"github.com/automata-network/linea-prover/statedb"
)

// nodeDatabase adapts the content-addressed NodeDB to the trie reader
// contract. The store is keyed purely by hash, so owner and path are
// irrelevant and one reader serves every root.
type nodeDatabase struct {
	db NodeDB
}

func (d nodeDatabase) NodeReader(root common.Hash) (database.NodeReader, error) {
	return nodeReader{db: d.db}, nil
}

type nodeReader struct {
	db NodeDB
}

func (r nodeReader) Node(owner common.Hash, path []byte, hash common.Hash) ([]byte, error) {
	if n := r.db.Get(hash); n != nil {
		return n.Blob, nil
	}
	return nil, fmt.Errorf("mpt: node %x not in witness", hash)
}

// Trie is a Patricia trie handle over the witness store, implementing
// the flushable trie contract: reads surface MissingNodeError, deletes
// that collapse a branch onto an absent node surface ReductionNodeError,
// and Commit stages freshly built nodes back into the store.
type Trie struct {
	tr   *trie.Trie
	db   NodeDB
	root common.Hash
	err  error
}

// NewTrie opens the trie rooted at root over db.
func NewTrie(root common.Hash, db NodeDB) (*Trie, error) {
	tr, err := trie.New(trie.TrieID(root), nodeDatabase{db: db})
	if err != nil {
		return nil, translateMissing(err, false)
	}
	return &Trie{tr: tr, db: db, root: root}, nil
}

func (t *Trie) Hash() common.Hash {
	if t.tr == nil {
		return t.root
	}
	return t.tr.Hash()
}

func (t *Trie) Get(key []byte) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	data, err := t.tr.Get(key)
	if err != nil {
		return nil, translateMissing(err, false)
	}
	return data, nil
}

// Put writes value at key; an empty value deletes the key. A delete
// that needs a node outside the witness reports it as a reduction node
// and leaves the trie untouched for that key.
func (t *Trie) Put(key, value []byte) error {
	if t.err != nil {
		return t.err
	}
	if len(value) == 0 {
		if err := t.tr.Delete(key); err != nil {
			return translateMissing(err, true)
		}
		return nil
	}
	if err := t.tr.Update(key, value); err != nil {
		return translateMissing(err, false)
	}
	return nil
}

// Commit hashes the pending writes, stages every newly built node into
// the store, and reopens the handle at the new root.
func (t *Trie) Commit() error {
	if t.err != nil {
		return t.err
	}
	root, nodes := t.tr.Commit(false)
	if nodes != nil {
		nodes.ForEachWithOrder(func(path string, n *trienode.Node) {
			if n.IsDeleted() {
				return
			}
			t.db.Staging(&StorageNode{Hash: n.Hash, Blob: n.Blob})
		})
	}
	t.reopen(root)
	return t.err
}

// Reset discards pending writes and reopens the trie at root.
func (t *Trie) Reset(root common.Hash) {
	t.reopen(root)
}

func (t *Trie) reopen(root common.Hash) {
	t.root = root
	tr, err := trie.New(trie.TrieID(root), nodeDatabase{db: t.db})
	if err != nil {
		t.tr, t.err = nil, translateMissing(err, false)
		return
	}
	t.tr, t.err = tr, nil
}

// translateMissing converts go-ethereum's missing-node error into the
// witness-facing signal: a plain miss, or a reduction node when raised
// by a delete-induced collapse.
func translateMissing(err error, reduction bool) error {
	var missing *trie.MissingNodeError
	if errors.As(err, &missing) {
		if reduction {
			return &statedb.ReductionNodeError{NodeHash: missing.NodeHash}
		}
		return &statedb.MissingNodeError{NodeHash: missing.NodeHash}
	}
	return err
}

var _ statedb.Trie = (*Trie)(nil)
