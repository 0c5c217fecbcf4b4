package zkstate

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/automata-network/linea-prover/statedb"
	"github.com/automata-network/linea-prover/zktrie"
)

// TrieState is the sparse-trie state backend. It mirrors the MPT
// TrieState shape — an account cache plus per-account storage caches —
// but every trie walk runs over MiMC nodes primed from the state
// manager's traces, so there is no proof fetcher: a gap in the index is
// a hard witness error.
type TrieState struct {
	db zktrie.Database

	accounts *statedb.TrieCache[common.Address, Account]
	storages map[common.Address]*statedb.TrieCache[common.Hash, StorageValue]
}

// NewTrieState opens the backend at the given top root.
func NewTrieState(db zktrie.Database, root common.Hash) (*TrieState, error) {
	trie, err := newTrieAdapter(db, root, zktrie.AccountTriePrefix)
	if err != nil {
		return nil, err
	}
	return newTrieState(db, trie), nil
}

// NewTrieStateFromTrace opens the backend at a trace's old state.
func NewTrieStateFromTrace(db zktrie.Database, trace zktrie.Trace) *TrieState {
	nextFree, subRoot := trace.OldState()
	trie := &trieAdapter{
		zk:     zktrie.NewZkTrieFromSubRoot(nextFree, subRoot, zktrie.AccountTriePrefix),
		db:     db,
		prefix: zktrie.AccountTriePrefix,
	}
	return newTrieState(db, trie)
}

func newTrieState(db zktrie.Database, trie *trieAdapter) *TrieState {
	s := &TrieState{
		db:       db,
		storages: make(map[common.Address]*statedb.TrieCache[common.Hash, StorageValue]),
	}
	s.accounts = statedb.NewTrieCache[common.Address, Account](
		trie, accountCodec{}, addressKey, nil)
	return s
}

// Sparse-trie keys pass through raw; hashing happens inside the trie.
func addressKey(addr common.Address) []byte { return addr.Bytes() }
func slotKey(slot common.Hash) []byte       { return slot.Bytes() }

func (s *TrieState) withAccount(addr common.Address, f func(acc *Account, dirty *bool)) error {
	return s.accounts.WithKey(addr, f)
}

func (s *TrieState) withStorage(addr common.Address, slot common.Hash, f func(v *StorageValue, dirty *bool)) error {
	var root common.Hash
	if err := s.withAccount(addr, func(acc *Account, _ *bool) {
		root = acc.StorageRoot
	}); err != nil {
		return err
	}

	storage, ok := s.storages[addr]
	if !ok {
		trie, err := newTrieAdapter(s.db, root, zktrie.PrefixForLocation(addr.Bytes()))
		if err != nil {
			return err
		}
		storage = statedb.NewTrieCache[common.Hash, StorageValue](
			trie, storageCodec{}, slotKey, nil)
		s.storages[addr] = storage
	}
	if storage.RootHash() != root {
		storage.Revert(root)
	}

	if err := storage.WithKey(slot, f); err != nil {
		return err
	}
	if storage.IsDirty(slot) {
		return s.withAccount(addr, func(_ *Account, dirty *bool) { *dirty = true })
	}
	return nil
}

func (s *TrieState) StateRoot() common.Hash { return s.accounts.RootHash() }

func (s *TrieState) GetBalance(addr common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := s.withAccount(addr, func(acc *Account, _ *bool) {
		out = new(uint256.Int).Set(acc.Balance)
	})
	return out, err
}

func (s *TrieState) SetBalance(addr common.Address, val *uint256.Int) error {
	return s.withAccount(addr, func(acc *Account, dirty *bool) {
		if acc.Balance.Eq(val) {
			return
		}
		acc.Balance = new(uint256.Int).Set(val)
		*dirty = true
	})
}

func (s *TrieState) AddBalance(addr common.Address, val *uint256.Int) error {
	return s.withAccount(addr, func(acc *Account, dirty *bool) {
		if val.IsZero() {
			return
		}
		log.Trace("zk add balance", "addr", addr, "val", val, "current", acc.Balance)
		acc.Balance = new(uint256.Int).Add(acc.Balance, val)
		*dirty = true
	})
}

func (s *TrieState) SubBalance(addr common.Address, val *uint256.Int) error {
	return s.withAccount(addr, func(acc *Account, dirty *bool) {
		if val.IsZero() {
			return
		}
		log.Trace("zk sub balance", "addr", addr, "val", val, "current", acc.Balance)
		acc.Balance = new(uint256.Int).Sub(acc.Balance, val)
		*dirty = true
	})
}

func (s *TrieState) GetNonce(addr common.Address) (uint64, error) {
	var nonce uint64
	err := s.withAccount(addr, func(acc *Account, _ *bool) { nonce = acc.Nonce })
	return nonce, err
}

func (s *TrieState) SetNonce(addr common.Address, nonce uint64) error {
	return s.withAccount(addr, func(acc *Account, dirty *bool) {
		if acc.Nonce == nonce {
			return
		}
		acc.Nonce = nonce
		*dirty = true
	})
}

func (s *TrieState) GetCodeHash(addr common.Address) (common.Hash, error) {
	var hash common.Hash
	err := s.withAccount(addr, func(acc *Account, _ *bool) {
		hash = acc.KeccakCodeHash
	})
	return hash, err
}

func (s *TrieState) GetCode(addr common.Address) ([]byte, error) {
	var (
		hash    common.Hash
		hasCode bool
	)
	if err := s.withAccount(addr, func(acc *Account, _ *bool) {
		hash = acc.KeccakCodeHash
		hasCode = acc.HasCode()
	}); err != nil {
		return nil, err
	}
	if !hasCode {
		return nil, nil
	}
	if code := s.db.GetCode(hash); code != nil {
		return code, nil
	}
	return nil, &statedb.CodeNotFoundError{CodeHash: hash}
}

func (s *TrieState) SetCode(addr common.Address, code []byte) error {
	mimcHash, keccakHash := HashCode(code)
	return s.withAccount(addr, func(acc *Account, dirty *bool) {
		acc.MimcCodeHash = mimcHash
		acc.KeccakCodeHash = keccakHash
		acc.CodeSize = uint64(len(code))
		*dirty = true
	})
}

func (s *TrieState) GetState(addr common.Address, slot common.Hash) (common.Hash, error) {
	var out common.Hash
	err := s.withStorage(addr, slot, func(v *StorageValue, _ *bool) { out = v.Value })
	return out, err
}

func (s *TrieState) SetState(addr common.Address, slot, value common.Hash) error {
	return s.withStorage(addr, slot, func(v *StorageValue, dirty *bool) {
		if v.Value == value {
			return
		}
		v.Value = value
		*dirty = true
	})
}

func (s *TrieState) GetStorageRoot(addr common.Address) (common.Hash, error) {
	var root common.Hash
	err := s.withAccount(addr, func(acc *Account, _ *bool) { root = acc.StorageRoot })
	return root, err
}

func (s *TrieState) Exist(addr common.Address) (bool, error) {
	var exists bool
	err := s.withAccount(addr, func(acc *Account, _ *bool) { exists = acc.Exists() })
	return exists, err
}

func (s *TrieState) Suicide(addr common.Address) error {
	if err := s.withAccount(addr, func(acc *Account, dirty *bool) {
		if !acc.Exists() {
			return
		}
		*acc = newAccount()
		*dirty = true
	}); err != nil {
		return err
	}
	delete(s.storages, addr)
	return nil
}

func (s *TrieState) Revert(root common.Hash) {
	if s.accounts.Revert(root) {
		s.storages = make(map[common.Address]*statedb.TrieCache[common.Hash, StorageValue])
		log.Debug("zk state reverted", "root", root)
	}
}

// Flush mirrors the MPT two-phase flush. The sparse trie never raises
// reduction nodes, so a non-empty set from either phase is fatal.
func (s *TrieState) Flush() (common.Hash, error) {
	for _, addr := range s.accounts.CachedKeys() {
		storage, ok := s.storages[addr]
		if !ok {
			continue
		}
		nodes, err := storage.Flush()
		if err != nil {
			return common.Hash{}, err
		}
		if len(nodes) > 0 {
			return common.Hash{}, &statedb.MissingNodeError{NodeHash: nodes[0]}
		}
		newRoot := storage.RootHash()
		if err := s.withAccount(addr, func(acc *Account, dirty *bool) {
			if acc.StorageRoot != newRoot {
				acc.StorageRoot = newRoot
				*dirty = true
			}
		}); err != nil {
			return common.Hash{}, err
		}
	}

	nodes, err := s.accounts.Flush()
	if err != nil {
		return common.Hash{}, err
	}
	if len(nodes) > 0 {
		return common.Hash{}, &statedb.MissingNodeError{NodeHash: nodes[0]}
	}
	return s.accounts.RootHash(), nil
}

var _ statedb.StateDB = (*TrieState)(nil)
