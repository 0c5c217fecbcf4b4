package zkstate

import (
	"testing"

	"github.com/automata-network/linea-prover/mimc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestAccountRoundTrip(t *testing.T) {
	acc := Account{
		Nonce:          9,
		Balance:        uint256.NewInt(123456789),
		StorageRoot:    common.HexToHash("0x0101"),
		MimcCodeHash:   common.HexToHash("0x0202"),
		KeccakCodeHash: common.HexToHash("0x0303"),
		CodeSize:       1024,
	}
	data := acc.Bytes()
	require.Len(t, data, accountSize)

	decoded, err := AccountFromBytes(data)
	require.NoError(t, err)
	require.Equal(t, acc, decoded)
}

func TestDefaultAccountEncodesEmpty(t *testing.T) {
	acc := newAccount()
	require.Empty(t, acc.Bytes())

	decoded, err := AccountFromBytes(nil)
	require.NoError(t, err)
	require.False(t, decoded.Exists())
}

func TestAccountRejectsBadLength(t *testing.T) {
	_, err := AccountFromBytes(make([]byte, 100))
	require.Error(t, err)
}

func TestEmptyCodePredicate(t *testing.T) {
	acc := newAccount()
	require.False(t, acc.HasCode())

	// the explicit empty-code form still counts as no code
	acc.MimcCodeHash = emptyCode.mimc
	acc.KeccakCodeHash = emptyCode.keccak
	require.False(t, acc.HasCode())

	acc.CodeSize = 1
	require.True(t, acc.HasCode())
}

func TestHashCode(t *testing.T) {
	mimcHash, keccakHash := HashCode(nil)
	require.Equal(t, emptyCode.mimc, mimcHash)
	require.Equal(t, crypto.Keccak256Hash(nil), keccakHash)

	code := []byte{0x60, 0x01, 0x60, 0x02}
	mimcHash, keccakHash = HashCode(code)
	require.Equal(t, crypto.Keccak256Hash(code), keccakHash)
	require.NotEqual(t, emptyCode.mimc, mimcHash)

	// tail padding: short code hashes as its zero-extended block, and
	// code already block-aligned hashes unchanged
	aligned := make([]byte, 64)
	copy(aligned, code)
	alignedMimc, _ := HashCode(aligned)
	require.Equal(t, common.Hash(mimc.SumHash(aligned)), alignedMimc)
	require.Equal(t, common.Hash(mimc.SumHash(aligned[:32])), mimcHash)
}

func TestStorageCodecRaw(t *testing.T) {
	codec := storageCodec{}
	word := common.HexToHash("0xdead")
	data := codec.Encode(StorageValue{Value: word})
	require.Len(t, data, 32)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, word, decoded.Value)

	require.Empty(t, codec.Encode(StorageValue{}))
}
