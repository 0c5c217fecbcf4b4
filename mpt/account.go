package mpt

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Account wraps the consensus state account. The zero-valued account
// encodes to the empty string, which deletes its trie key on flush.
type Account struct {
	types.StateAccount
}

func newAccount() Account {
	return Account{types.StateAccount{
		Balance:  new(uint256.Int),
		Root:     types.EmptyRootHash,
		CodeHash: types.EmptyCodeHash.Bytes(),
	}}
}

// Exists reports whether the account differs from the default in any
// consensus-visible field.
func (a *Account) Exists() bool {
	return a.Nonce != 0 ||
		(a.Balance != nil && !a.Balance.IsZero()) ||
		a.Root != types.EmptyRootHash ||
		!bytes.Equal(a.CodeHash, types.EmptyCodeHash.Bytes())
}

// accountCodec round-trips accounts through the canonical trie RLP.
type accountCodec struct{}

func (accountCodec) Encode(a Account) []byte {
	if !a.Exists() {
		return nil
	}
	data, err := rlp.EncodeToBytes(&a.StateAccount)
	if err != nil {
		// the account layout is fixed; encoding cannot fail
		panic(fmt.Sprintf("mpt: account encode: %v", err))
	}
	return data
}

func (accountCodec) Decode(data []byte) (Account, error) {
	acc := newAccount()
	if len(data) == 0 {
		return acc, nil
	}
	if err := rlp.DecodeBytes(data, &acc.StateAccount); err != nil {
		return Account{}, fmt.Errorf("mpt: account decode: %w", err)
	}
	return acc, nil
}

// StorageValue is one 256-bit storage word.
type StorageValue struct {
	Value common.Hash
}

// storageCodec encodes storage words the way the chain does: the
// minimal big-endian representation wrapped in RLP, with the zero word
// encoding to nothing (deleting the slot).
type storageCodec struct{}

func (storageCodec) Encode(v StorageValue) []byte {
	trimmed := bytes.TrimLeft(v.Value[:], "\x00")
	if len(trimmed) == 0 {
		return nil
	}
	data, err := rlp.EncodeToBytes(trimmed)
	if err != nil {
		panic(fmt.Sprintf("mpt: storage encode: %v", err))
	}
	return data
}

func (storageCodec) Decode(data []byte) (StorageValue, error) {
	if len(data) == 0 {
		return StorageValue{}, nil
	}
	var raw []byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return StorageValue{}, fmt.Errorf("mpt: storage decode: %w", err)
	}
	if len(raw) > common.HashLength {
		return StorageValue{}, fmt.Errorf("mpt: storage value %d bytes wide", len(raw))
	}
	var v StorageValue
	copy(v.Value[common.HashLength-len(raw):], raw)
	return v, nil
}
