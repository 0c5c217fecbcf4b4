package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"

	"github.com/automata-network/linea-prover/statedb"
)

var emptyCodeHash = crypto.Keccak256Hash(nil)

// EVMState adapts the account-oriented state backend to the EVM's
// StateDB contract. The backend itself has no transaction scoping, so
// everything the EVM may roll back — writes, refunds, logs, the warm
// set, transient storage — is journaled here and unwound on revert.
//
// Backend reads can fail on an incomplete witness; the interface leaves
// no room for returning errors, so the first failure is latched and the
// block executor checks it after every transaction.
type EVMState struct {
	state statedb.StateDB

	journal    journal
	accessList *accessList
	transient  transientStorage
	refund     uint64

	txHash  common.Hash
	txIndex int
	logs    []*types.Log
	logSize uint
	txLogAt int

	// originStorage pins the pre-transaction value of every touched
	// slot for GetCommittedState
	originStorage map[common.Address]map[common.Hash]common.Hash

	touched       map[common.Address]struct{}
	selfDestructs map[common.Address]struct{}
	newContracts  map[common.Address]struct{}

	err error
}

// NewEVMState wraps a state backend for one block execution.
func NewEVMState(backend statedb.StateDB) *EVMState {
	return &EVMState{
		state:         backend,
		accessList:    newAccessList(),
		transient:     make(transientStorage),
		originStorage: make(map[common.Address]map[common.Hash]common.Hash),
		touched:       make(map[common.Address]struct{}),
		selfDestructs: make(map[common.Address]struct{}),
		newContracts:  make(map[common.Address]struct{}),
	}
}

// Backend returns the wrapped state.
func (s *EVMState) Backend() statedb.StateDB { return s.state }

// Error returns the first backend failure observed by this adapter; it is
// never cleared.
func (s *EVMState) Error() error { return s.err }

func (s *EVMState) setErr(err error) {
	if s.err == nil && err != nil {
		s.err = err
	}
}

// SetTxContext starts a new transaction scope.
func (s *EVMState) SetTxContext(txHash common.Hash, txIndex int) {
	s.txHash = txHash
	s.txIndex = txIndex
	s.txLogAt = len(s.logs)
	s.journal.reset()
	s.refund = 0
	s.originStorage = make(map[common.Address]map[common.Hash]common.Hash)
}

// TxLogs returns the logs emitted by the current transaction.
func (s *EVMState) TxLogs() []*types.Log {
	return s.logs[s.txLogAt:]
}

// Logs returns every log emitted in the block so far.
func (s *EVMState) Logs() []*types.Log { return s.logs }

func (s *EVMState) touch(addr common.Address) {
	if _, ok := s.touched[addr]; !ok {
		s.touched[addr] = struct{}{}
		s.journal.append(func(s *EVMState) { delete(s.touched, addr) })
	}
}

func (s *EVMState) CreateAccount(addr common.Address) {
	s.touch(addr)
}

func (s *EVMState) CreateContract(addr common.Address) {
	if _, ok := s.newContracts[addr]; !ok {
		s.newContracts[addr] = struct{}{}
		s.journal.append(func(s *EVMState) { delete(s.newContracts, addr) })
	}
}

func (s *EVMState) GetBalance(addr common.Address) *uint256.Int {
	balance, err := s.state.GetBalance(addr)
	if err != nil {
		s.setErr(err)
		return new(uint256.Int)
	}
	return balance
}

func (s *EVMState) AddBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	prev := *s.GetBalance(addr)
	s.touch(addr)
	if err := s.state.AddBalance(addr, amount); err != nil {
		s.setErr(err)
		return prev
	}
	restore := prev
	s.journal.append(func(s *EVMState) {
		s.setErr(s.state.SetBalance(addr, new(uint256.Int).Set(&restore)))
	})
	return prev
}

func (s *EVMState) SubBalance(addr common.Address, amount *uint256.Int, reason tracing.BalanceChangeReason) uint256.Int {
	prev := *s.GetBalance(addr)
	s.touch(addr)
	if err := s.state.SubBalance(addr, amount); err != nil {
		s.setErr(err)
		return prev
	}
	restore := prev
	s.journal.append(func(s *EVMState) {
		s.setErr(s.state.SetBalance(addr, new(uint256.Int).Set(&restore)))
	})
	return prev
}

func (s *EVMState) GetNonce(addr common.Address) uint64 {
	nonce, err := s.state.GetNonce(addr)
	if err != nil {
		s.setErr(err)
		return 0
	}
	return nonce
}

func (s *EVMState) SetNonce(addr common.Address, nonce uint64, reason tracing.NonceChangeReason) {
	prev := s.GetNonce(addr)
	s.touch(addr)
	if err := s.state.SetNonce(addr, nonce); err != nil {
		s.setErr(err)
		return
	}
	s.journal.append(func(s *EVMState) {
		s.setErr(s.state.SetNonce(addr, prev))
	})
}

func (s *EVMState) GetCodeHash(addr common.Address) common.Hash {
	exists, err := s.state.Exist(addr)
	if err != nil {
		s.setErr(err)
		return common.Hash{}
	}
	if !exists {
		return common.Hash{}
	}
	hash, err := s.state.GetCodeHash(addr)
	if err != nil {
		s.setErr(err)
		return common.Hash{}
	}
	return hash
}

func (s *EVMState) GetCode(addr common.Address) []byte {
	code, err := s.state.GetCode(addr)
	if err != nil {
		s.setErr(err)
		return nil
	}
	return code
}

func (s *EVMState) SetCode(addr common.Address, code []byte) []byte {
	prev := s.GetCode(addr)
	s.touch(addr)
	if err := s.state.SetCode(addr, code); err != nil {
		s.setErr(err)
		return prev
	}
	restore := prev
	s.journal.append(func(s *EVMState) {
		s.setErr(s.state.SetCode(addr, restore))
	})
	return prev
}

func (s *EVMState) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

func (s *EVMState) AddRefund(gas uint64) {
	prev := s.refund
	s.refund += gas
	s.journal.append(func(s *EVMState) { s.refund = prev })
}

func (s *EVMState) SubRefund(gas uint64) {
	prev := s.refund
	if gas > s.refund {
		s.setErr(fmt.Errorf("executor: refund counter below zero (gas: %d > refund: %d)", gas, s.refund))
		return
	}
	s.refund -= gas
	s.journal.append(func(s *EVMState) { s.refund = prev })
}

func (s *EVMState) GetRefund() uint64 { return s.refund }

func (s *EVMState) GetCommittedState(addr common.Address, slot common.Hash) common.Hash {
	if slots, ok := s.originStorage[addr]; ok {
		if value, ok := slots[slot]; ok {
			return value
		}
	}
	return s.loadOrigin(addr, slot)
}

func (s *EVMState) loadOrigin(addr common.Address, slot common.Hash) common.Hash {
	value, err := s.state.GetState(addr, slot)
	if err != nil {
		s.setErr(err)
		return common.Hash{}
	}
	slots, ok := s.originStorage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.originStorage[addr] = slots
	}
	slots[slot] = value
	return value
}

func (s *EVMState) GetState(addr common.Address, slot common.Hash) common.Hash {
	if slots, ok := s.originStorage[addr]; ok {
		if _, tracked := slots[slot]; tracked {
			value, err := s.state.GetState(addr, slot)
			if err != nil {
				s.setErr(err)
				return common.Hash{}
			}
			return value
		}
	}
	return s.loadOrigin(addr, slot)
}

func (s *EVMState) SetState(addr common.Address, slot, value common.Hash) common.Hash {
	prev := s.GetState(addr, slot)
	if prev == value {
		return prev
	}
	s.touch(addr)
	if err := s.state.SetState(addr, slot, value); err != nil {
		s.setErr(err)
		return prev
	}
	restore := prev
	s.journal.append(func(s *EVMState) {
		s.setErr(s.state.SetState(addr, slot, restore))
	})
	return prev
}

func (s *EVMState) GetStorageRoot(addr common.Address) common.Hash {
	root, err := s.state.GetStorageRoot(addr)
	if err != nil {
		s.setErr(err)
		return common.Hash{}
	}
	return root
}

func (s *EVMState) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	return s.transient.get(addr, key)
}

func (s *EVMState) SetTransientState(addr common.Address, key, value common.Hash) {
	prev := s.transient.get(addr, key)
	if prev == value {
		return
	}
	s.transient.set(addr, key, value)
	s.journal.append(func(s *EVMState) { s.transient.set(addr, key, prev) })
}

func (s *EVMState) SelfDestruct(addr common.Address) uint256.Int {
	prev := *s.GetBalance(addr)
	s.touch(addr)
	if err := s.state.SetBalance(addr, new(uint256.Int)); err != nil {
		s.setErr(err)
		return prev
	}
	_, wasMarked := s.selfDestructs[addr]
	s.selfDestructs[addr] = struct{}{}
	restore := prev
	s.journal.append(func(s *EVMState) {
		s.setErr(s.state.SetBalance(addr, new(uint256.Int).Set(&restore)))
		if !wasMarked {
			delete(s.selfDestructs, addr)
		}
	})
	return prev
}

func (s *EVMState) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	if _, created := s.newContracts[addr]; created {
		return s.SelfDestruct(addr), true
	}
	balance := s.GetBalance(addr)
	return *balance, false
}

func (s *EVMState) HasSelfDestructed(addr common.Address) bool {
	_, ok := s.selfDestructs[addr]
	return ok
}

func (s *EVMState) Exist(addr common.Address) bool {
	exists, err := s.state.Exist(addr)
	if err != nil {
		s.setErr(err)
		return false
	}
	return exists
}

func (s *EVMState) Empty(addr common.Address) bool {
	balance := s.GetBalance(addr)
	if !balance.IsZero() {
		return false
	}
	if s.GetNonce(addr) != 0 {
		return false
	}
	hash := s.GetCodeHash(addr)
	return hash == (common.Hash{}) || hash == emptyCodeHash
}

func (s *EVMState) AddressInAccessList(addr common.Address) bool {
	return s.accessList.containsAddress(addr)
}

func (s *EVMState) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	return s.accessList.contains(addr, slot)
}

func (s *EVMState) AddAddressToAccessList(addr common.Address) {
	if s.accessList.addAddress(addr) {
		s.journal.append(func(s *EVMState) { s.accessList.deleteAddress(addr) })
	}
}

func (s *EVMState) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	addrChange, slotChange := s.accessList.addSlot(addr, slot)
	if addrChange {
		s.journal.append(func(s *EVMState) { s.accessList.deleteAddress(addr) })
	}
	if slotChange {
		s.journal.append(func(s *EVMState) { s.accessList.deleteSlot(addr, slot) })
	}
}

func (s *EVMState) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	if rules.IsBerlin {
		s.accessList = newAccessList()
		s.accessList.addAddress(sender)
		if dest != nil {
			s.accessList.addAddress(*dest)
		}
		for _, addr := range precompiles {
			s.accessList.addAddress(addr)
		}
		for _, el := range txAccesses {
			s.accessList.addAddress(el.Address)
			for _, key := range el.StorageKeys {
				s.accessList.addSlot(el.Address, key)
			}
		}
		if rules.IsShanghai {
			s.accessList.addAddress(coinbase)
		}
	}
	s.transient = make(transientStorage)
}

func (s *EVMState) Snapshot() int { return s.journal.snapshot() }

func (s *EVMState) RevertToSnapshot(snapshot int) {
	s.journal.revert(s, snapshot)
}

func (s *EVMState) AddLog(entry *types.Log) {
	entry.TxHash = s.txHash
	entry.TxIndex = uint(s.txIndex)
	entry.Index = s.logSize
	s.logs = append(s.logs, entry)
	s.logSize++
	s.journal.append(func(s *EVMState) {
		s.logs = s.logs[:len(s.logs)-1]
		s.logSize--
	})
}

func (s *EVMState) AddPreimage(hash common.Hash, preimage []byte) {}

func (s *EVMState) PointCache() *utils.PointCache { return nil }

func (s *EVMState) Witness() *stateless.Witness { return nil }

func (s *EVMState) AccessEvents() *state.AccessEvents { return nil }

// Finalise ends the transaction scope: self-destructed accounts are
// cleared from the backend, and (post EIP-158) touched accounts that
// ended up empty are removed.
func (s *EVMState) Finalise(deleteEmptyObjects bool) {
	for addr := range s.selfDestructs {
		s.setErr(s.state.Suicide(addr))
		delete(s.selfDestructs, addr)
	}
	if deleteEmptyObjects {
		for addr := range s.touched {
			if s.Empty(addr) {
				s.setErr(s.state.Suicide(addr))
			}
		}
	}
	s.touched = make(map[common.Address]struct{})
	s.newContracts = make(map[common.Address]struct{})
	s.journal.reset()
	s.refund = 0
}

var _ vm.StateDB = (*EVMState)(nil)
