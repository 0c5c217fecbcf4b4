package zkstate

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/automata-network/linea-prover/statedb"
	"github.com/automata-network/linea-prover/zktrie"
)

// trieAdapter exposes a ZkTrie through the flushable trie contract.
// Keys pass through raw (the sparse trie hashes them itself) and nodes
// are written into the store as mutations happen, so Commit is a no-op.
type trieAdapter struct {
	zk     *zktrie.ZkTrie
	db     zktrie.Database
	prefix uint64
	err    error
}

func newTrieAdapter(db zktrie.Database, root common.Hash, prefix uint64) (*trieAdapter, error) {
	zk, err := openTrie(db, root, prefix)
	if err != nil {
		return nil, err
	}
	return &trieAdapter{zk: zk, db: db, prefix: prefix}, nil
}

var emptyInitialized struct {
	once     sync.Once
	nextFree uint64
	subRoot  common.Hash
}

// emptyInitializedState returns the allocator counter and sub-root of a
// freshly initialized trie (sentinels installed, nothing else).
func emptyInitializedState() (uint64, common.Hash) {
	emptyInitialized.once.Do(func() {
		db := zktrie.NewMemStore()
		trie, err := zktrie.NewEmptyZkTrie(db, zktrie.AccountTriePrefix)
		if err != nil {
			panic(err)
		}
		free, _ := trie.NextFreeNode()
		emptyInitialized.nextFree = free
		emptyInitialized.subRoot = trie.SubRootHash()
	})
	return emptyInitialized.nextFree, emptyInitialized.subRoot
}

// openTrie opens root; the zero root stands for an account with no
// storage yet and maps to the initialized empty trie.
func openTrie(db zktrie.Database, root common.Hash, prefix uint64) (*zktrie.ZkTrie, error) {
	if root == (common.Hash{}) {
		nextFree, subRoot := emptyInitializedState()
		return zktrie.NewZkTrieFromSubRoot(nextFree, subRoot, prefix), nil
	}
	return zktrie.NewZkTrie(db, root, prefix)
}

func (t *trieAdapter) Hash() common.Hash {
	if t.zk == nil {
		return common.Hash{}
	}
	return t.zk.TopRootHash()
}

func (t *trieAdapter) Get(key []byte) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.zk.Read(t.db, key)
}

func (t *trieAdapter) Put(key, value []byte) error {
	if t.err != nil {
		return t.err
	}
	if len(value) == 0 {
		return t.zk.Remove(t.db, key)
	}
	return t.zk.Put(t.db, key, value)
}

func (t *trieAdapter) Commit() error { return t.err }

func (t *trieAdapter) Reset(root common.Hash) {
	zk, err := openTrie(t.db, root, t.prefix)
	if err != nil {
		t.zk, t.err = nil, err
		return
	}
	t.zk, t.err = zk, nil
}

var _ statedb.Trie = (*trieAdapter)(nil)
