package mpt

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/automata-network/linea-prover/statedb"
)

// StateFetcher supplies witness material on demand: Merkle proofs for
// the account trie, per-account storage proofs, raw nodes by hash, and
// contract code.
type StateFetcher interface {
	statedb.ProofFetcher
	WithAccount(addr common.Address) statedb.ProofFetcher
	FetchCode(addr common.Address) ([]byte, error)
}

// NoStateFetcher refuses everything; the replay path over a sealed PoB
// uses it because the witness must already be complete.
type NoStateFetcher struct {
	statedb.NoopFetcher
}

func (NoStateFetcher) WithAccount(addr common.Address) statedb.ProofFetcher {
	return statedb.NoopFetcher{}
}

func (NoStateFetcher) FetchCode(addr common.Address) ([]byte, error) {
	return nil, fmt.Errorf("mpt: code for %x not in witness", addr)
}

// TrieState is the MPT-flavored state backend: an account cache over the
// state trie and one storage cache per touched account, all sharing one
// node store.
type TrieState struct {
	db      NodeDB
	fetcher StateFetcher

	accounts *statedb.TrieCache[common.Address, Account]
	storages map[common.Address]*statedb.TrieCache[common.Hash, StorageValue]
}

// NewTrieState opens the backend at stateRoot. The fetcher fills
// witness gaps; pass NoStateFetcher for sealed replays.
func NewTrieState(fetcher StateFetcher, stateRoot common.Hash, db NodeDB) (*TrieState, error) {
	trie, err := NewTrie(stateRoot, db)
	if err != nil {
		return nil, err
	}
	s := &TrieState{
		db:       db,
		fetcher:  fetcher,
		storages: make(map[common.Address]*statedb.TrieCache[common.Hash, StorageValue]),
	}
	s.accounts = statedb.NewTrieCache[common.Address, Account](
		trie, accountCodec{}, addressKey, s.resolveAccount)
	return s, nil
}

func addressKey(addr common.Address) []byte { return crypto.Keccak256(addr.Bytes()) }
func slotKey(slot common.Hash) []byte       { return crypto.Keccak256(slot.Bytes()) }

// resolveAccount materializes the proof path for an account whose read
// hit a node outside the loaded witness.
func (s *TrieState) resolveAccount(addr common.Address, missing common.Hash) error {
	return s.resolveProofs(s.fetcher, addr.Bytes(), missing)
}

func (s *TrieState) resolveProofs(fetcher statedb.ProofFetcher, key []byte, missing common.Hash) error {
	proofs, err := fetcher.FetchProofs(key)
	if err != nil {
		return err
	}
	hashes := ResumeProofs(s.db, proofs)
	for _, h := range hashes {
		if h == missing {
			return nil
		}
	}
	return fmt.Errorf("mpt: fetched proofs for %x do not cover node %x", key, missing)
}

func (s *TrieState) withAccount(addr common.Address, f func(acc *Account, dirty *bool)) error {
	return s.accounts.WithKey(addr, f)
}

func (s *TrieState) withStorage(addr common.Address, slot common.Hash, f func(v *StorageValue, dirty *bool)) error {
	var root common.Hash
	if err := s.withAccount(addr, func(acc *Account, _ *bool) {
		root = acc.Root
	}); err != nil {
		return err
	}

	storage, ok := s.storages[addr]
	if !ok {
		trie, err := NewTrie(root, s.db)
		if err != nil {
			return err
		}
		accountFetcher := s.fetcher.WithAccount(addr)
		storage = statedb.NewTrieCache[common.Hash, StorageValue](
			trie, storageCodec{}, slotKey,
			func(slot common.Hash, missing common.Hash) error {
				return s.resolveProofs(accountFetcher, slot.Bytes(), missing)
			})
		s.storages[addr] = storage
	}
	if storage.RootHash() != root {
		storage.Revert(root)
	}

	if err := storage.WithKey(slot, f); err != nil {
		return err
	}
	if storage.IsDirty(slot) {
		// the account's storage root will change on flush
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
		acc.Balance = new(uint256.Int).Add(acc.Balance, val)
		*dirty = true
	})
}

func (s *TrieState) SubBalance(addr common.Address, val *uint256.Int) error {
	return s.withAccount(addr, func(acc *Account, dirty *bool) {
		if val.IsZero() {
			return
		}
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
		hash = common.BytesToHash(acc.CodeHash)
	})
	return hash, err
}

func (s *TrieState) GetCode(addr common.Address) ([]byte, error) {
	hash, err := s.GetCodeHash(addr)
	if err != nil {
		return nil, err
	}
	if hash == crypto.Keccak256Hash(nil) {
		return nil, nil
	}
	if code := s.db.GetCode(hash); code != nil {
		return code, nil
	}
	code, err := s.fetcher.FetchCode(addr)
	if err != nil {
		return nil, &statedb.CodeNotFoundError{CodeHash: hash}
	}
	if crypto.Keccak256Hash(code) != hash {
		return nil, fmt.Errorf("mpt: fetched code for %x does not match hash %x", addr, hash)
	}
	s.db.SetCode(hash, code)
	return code, nil
}

func (s *TrieState) SetCode(addr common.Address, code []byte) error {
	hash := ResumeCode(s.db, code)
	return s.withAccount(addr, func(acc *Account, dirty *bool) {
		acc.CodeHash = hash.Bytes()
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
	err := s.withAccount(addr, func(acc *Account, _ *bool) { root = acc.Root })
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
		log.Debug("State reverted", "root", root)
	}
}

// Flush is two-phase: storage tries first so the enclosing accounts pick
// up their new storage roots, then the account trie. Reduction nodes
// produced by either phase are fetched and the whole cycle retried; the
// third pass must be clean.
func (s *TrieState) Flush() (common.Hash, error) {
	for pass := 0; ; pass++ {
		reductions, err := s.tryFlush()
		if err != nil {
			return common.Hash{}, err
		}
		if len(reductions) == 0 {
			break
		}
		if pass >= 2 {
			return common.Hash{}, fmt.Errorf("mpt: reduction nodes still unresolved after refetch: %v", reductions)
		}
		nodes, err := s.fetcher.GetNodes(reductions)
		if err != nil {
			return common.Hash{}, fmt.Errorf("mpt: fetch reduction nodes: %w", err)
		}
		ResumeProofs(s.db, nodes)
	}

	s.db.Commit()
	root := s.accounts.RootHash()
	return root, nil
}

func (s *TrieState) tryFlush() ([]common.Hash, error) {
	var reductions []common.Hash
	for _, addr := range s.accounts.CachedKeys() {
		storage, ok := s.storages[addr]
		if !ok {
			continue
		}
		nodes, err := storage.Flush()
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			reductions = append(reductions, nodes...)
			continue
		}
		newRoot := storage.RootHash()
		if err := s.withAccount(addr, func(acc *Account, dirty *bool) {
			if acc.Root != newRoot {
				acc.Root = newRoot
				*dirty = true
			}
		}); err != nil {
			return nil, err
		}
	}

	nodes, err := s.accounts.Flush()
	if err != nil {
		return nil, err
	}
	return append(reductions, nodes...), nil
}

var _ statedb.StateDB = (*TrieState)(nil)
