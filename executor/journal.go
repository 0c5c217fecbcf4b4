package executor

import (
	"github.com/ethereum/go-ethereum/common"
)

// journal records the inverse of every state mutation inside the
// current transaction so the EVM can roll back to any snapshot.
type journal struct {
	entries []func(*EVMState)
}

func (j *journal) append(revert func(*EVMState)) {
	j.entries = append(j.entries, revert)
}

func (j *journal) snapshot() int { return len(j.entries) }

func (j *journal) revert(s *EVMState, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i](s)
	}
	j.entries = j.entries[:snapshot]
}

func (j *journal) reset() { j.entries = j.entries[:0] }

// accessList is the EIP-2929 warm set, journaled alongside the rest of
// the transaction state.
type accessList struct {
	addresses map[common.Address]struct{}
	slots     map[common.Address]map[common.Hash]struct{}
}

func newAccessList() *accessList {
	return &accessList{
		addresses: make(map[common.Address]struct{}),
		slots:     make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (al *accessList) containsAddress(addr common.Address) bool {
	_, ok := al.addresses[addr]
	return ok
}

func (al *accessList) contains(addr common.Address, slot common.Hash) (addressOk, slotOk bool) {
	_, addressOk = al.addresses[addr]
	if !addressOk {
		return false, false
	}
	slots, ok := al.slots[addr]
	if !ok {
		return true, false
	}
	_, slotOk = slots[slot]
	return true, slotOk
}

// addAddress warms an address; reports whether it was cold.
func (al *accessList) addAddress(addr common.Address) bool {
	if al.containsAddress(addr) {
		return false
	}
	al.addresses[addr] = struct{}{}
	return true
}

// addSlot warms a slot; reports whether the address and the slot were
// cold.
func (al *accessList) addSlot(addr common.Address, slot common.Hash) (addrChange, slotChange bool) {
	addrChange = al.addAddress(addr)
	slots, ok := al.slots[addr]
	if !ok {
		slots = make(map[common.Hash]struct{})
		al.slots[addr] = slots
	}
	if _, ok := slots[slot]; ok {
		return addrChange, false
	}
	slots[slot] = struct{}{}
	return addrChange, true
}

func (al *accessList) deleteAddress(addr common.Address) {
	delete(al.addresses, addr)
}

func (al *accessList) deleteSlot(addr common.Address, slot common.Hash) {
	if slots, ok := al.slots[addr]; ok {
		delete(slots, slot)
	}
}

// transientStorage is the EIP-1153 per-transaction store.
type transientStorage map[common.Address]map[common.Hash]common.Hash

func (t transientStorage) get(addr common.Address, key common.Hash) common.Hash {
	return t[addr][key]
}

func (t transientStorage) set(addr common.Address, key, value common.Hash) {
	if _, ok := t[addr]; !ok {
		t[addr] = make(map[common.Hash]common.Hash)
	}
	t[addr][key] = value
}
