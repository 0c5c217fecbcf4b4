// Package zkstate implements the sparse-trie flavor of the prover state:
// the six-word zk account record and the TrieState equivalent running
// over the depth-40 MiMC trie.
package zkstate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/automata-network/linea-prover/mimc"
	"github.com/automata-network/linea-prover/zktrie"
)

// accountSize is the serialized account width: six 32-byte words.
const accountSize = 192

// Account is the zk state account: nonce, balance, storage root, both
// code hashes and the code size, each serialized as one big-endian
// word. The zero account serializes to the empty string.
type Account struct {
	Nonce          uint64
	Balance        *uint256.Int
	StorageRoot    common.Hash
	MimcCodeHash   common.Hash
	KeccakCodeHash common.Hash
	CodeSize       uint64
}

func newAccount() Account {
	return Account{Balance: new(uint256.Int)}
}

// Exists reports whether the account differs from the default.
func (a *Account) Exists() bool {
	return a.Nonce != 0 ||
		(a.Balance != nil && !a.Balance.IsZero()) ||
		a.StorageRoot != (common.Hash{}) ||
		a.MimcCodeHash != (common.Hash{}) ||
		a.KeccakCodeHash != (common.Hash{}) ||
		a.CodeSize != 0
}

// HasCode reports whether the account carries non-empty bytecode. The
// empty-code form (MiMC over a zero word, keccak over nothing, size
// zero) counts as no code.
func (a *Account) HasCode() bool {
	if a.CodeSize != 0 {
		return true
	}
	empty := emptyCodeHashes()
	return !(a.MimcCodeHash == (common.Hash{}) || a.MimcCodeHash == empty.mimc) ||
		!(a.KeccakCodeHash == (common.Hash{}) || a.KeccakCodeHash == empty.keccak)
}

// Bytes serializes the account; the default account is empty.
func (a *Account) Bytes() []byte {
	if !a.Exists() {
		return nil
	}
	out := make([]byte, accountSize)
	nonce := uint256.NewInt(a.Nonce)
	nonceWord := nonce.Bytes32()
	copy(out[0:32], nonceWord[:])
	balance := a.Balance.Bytes32()
	copy(out[32:64], balance[:])
	copy(out[64:96], a.StorageRoot[:])
	copy(out[96:128], a.MimcCodeHash[:])
	copy(out[128:160], a.KeccakCodeHash[:])
	size := uint256.NewInt(a.CodeSize).Bytes32()
	copy(out[160:192], size[:])
	return out
}

// AccountFromBytes decodes the fixed layout; empty input is the default
// account.
func AccountFromBytes(data []byte) (Account, error) {
	if len(data) == 0 {
		return newAccount(), nil
	}
	if len(data) != accountSize {
		return Account{}, fmt.Errorf("zkstate: account must be %d bytes, got %d", accountSize, len(data))
	}
	var balance uint256.Int
	balance.SetBytes(data[32:64])
	return Account{
		Nonce:          zktrie.ParseNodeIndex(data[0:32]),
		Balance:        &balance,
		StorageRoot:    common.BytesToHash(data[64:96]),
		MimcCodeHash:   common.BytesToHash(data[96:128]),
		KeccakCodeHash: common.BytesToHash(data[128:160]),
		CodeSize:       zktrie.ParseNodeIndex(data[160:192]),
	}, nil
}

type codeHashes struct {
	mimc   common.Hash
	keccak common.Hash
}

var emptyCode = func() codeHashes {
	return codeHashes{
		mimc:   common.Hash(mimc.SumHash(make([]byte, 32))),
		keccak: crypto.Keccak256Hash(nil),
	}
}()

func emptyCodeHashes() codeHashes { return emptyCode }

// HashCode computes the pair of code hashes the account commits to. The
// MiMC digest runs over the code zero-padded at the tail to a whole
// number of field elements; empty code hashes a single zero word.
func HashCode(code []byte) (mimcHash, keccakHash common.Hash) {
	if len(code) == 0 {
		return emptyCode.mimc, emptyCode.keccak
	}
	padded := code
	if rem := len(code) % mimc.BlockSize; rem != 0 {
		padded = make([]byte, len(code)+mimc.BlockSize-rem)
		copy(padded, code)
	}
	return common.Hash(mimc.SumHash(padded)), crypto.Keccak256Hash(code)
}

// accountCodec plugs the account into the trie cache.
type accountCodec struct{}

func (accountCodec) Encode(a Account) []byte { return a.Bytes() }

func (accountCodec) Decode(data []byte) (Account, error) {
	return AccountFromBytes(data)
}

// StorageValue is one storage word, stored raw in the sparse trie.
type StorageValue struct {
	Value common.Hash
}

type storageCodec struct{}

func (storageCodec) Encode(v StorageValue) []byte {
	if v.Value == (common.Hash{}) {
		return nil
	}
	return v.Value.Bytes()
}

func (storageCodec) Decode(data []byte) (StorageValue, error) {
	if len(data) == 0 {
		return StorageValue{}, nil
	}
	if len(data) > common.HashLength {
		return StorageValue{}, fmt.Errorf("zkstate: storage value %d bytes wide", len(data))
	}
	var v StorageValue
	copy(v.Value[common.HashLength-len(data):], data)
	return v, nil
}
