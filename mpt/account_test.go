package mpt

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestDefaultAccountEncodesEmpty(t *testing.T) {
	acc := newAccount()
	require.Empty(t, accountCodec{}.Encode(acc))
}

func TestAccountRoundTrip(t *testing.T) {
	acc := newAccount()
	acc.Nonce = 12
	acc.Balance = uint256.NewInt(31337)
	acc.Root = common.HexToHash("0x77")

	data := accountCodec{}.Encode(acc)
	require.NotEmpty(t, data)

	decoded, err := accountCodec{}.Decode(data)
	require.NoError(t, err)
	require.Equal(t, acc.Nonce, decoded.Nonce)
	require.Equal(t, acc.Balance, decoded.Balance)
	require.Equal(t, acc.Root, decoded.Root)
	require.Equal(t, acc.CodeHash, decoded.CodeHash)
}

func TestAccountDecodeEmptyIsDefault(t *testing.T) {
	acc, err := accountCodec{}.Decode(nil)
	require.NoError(t, err)
	require.False(t, acc.Exists())
	require.Equal(t, types.EmptyRootHash, acc.Root)
}

func TestStorageValueRoundTrip(t *testing.T) {
	codec := storageCodec{}
	for _, word := range []common.Hash{
		common.HexToHash("0x01"),
		common.HexToHash("0xff00000000000000000000000000000000000000000000000000000000000000"),
		common.HexToHash("0xdeadbeef"),
		common.MaxHash,
	} {
		data := codec.Encode(StorageValue{Value: word})
		require.NotEmpty(t, data)
		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		require.Equal(t, word, decoded.Value, "word %x", word)
	}
}

func TestStorageValueZeroEncodesNull(t *testing.T) {
	codec := storageCodec{}
	require.Empty(t, codec.Encode(StorageValue{}))

	decoded, err := codec.Decode(nil)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, decoded.Value)
}

func TestStorageValueMinimalRepresentation(t *testing.T) {
	// 0x01 must encode as a single byte inside RLP, leading zeros
	// stripped
	data := storageCodec{}.Encode(StorageValue{Value: common.HexToHash("0x01")})
	require.Equal(t, []byte{0x01}, data)
}
