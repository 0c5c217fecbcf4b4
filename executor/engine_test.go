package executor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func sealedHeader(t *testing.T) (*types.Header, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealer := crypto.PubkeyToAddress(key.PublicKey)

	header := &types.Header{
		ParentHash:  common.HexToHash("0x01"),
		UncleHash:   types.EmptyUncleHash,
		Root:        common.HexToHash("0x02"),
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  big.NewInt(2),
		Number:      big.NewInt(1234),
		GasLimit:    61_000_000,
		Time:        1_700_000_000,
		Extra:       make([]byte, 32+extraSealLength),
		BaseFee:     big.NewInt(7),
	}
	sig, err := crypto.Sign(SealHash(header).Bytes(), key)
	require.NoError(t, err)
	copy(header.Extra[len(header.Extra)-extraSealLength:], sig)
	return header, sealer
}

func TestAuthorRecovery(t *testing.T) {
	header, sealer := sealedHeader(t)
	engine := NewEngine(59144)

	author, err := engine.Author(header)
	require.NoError(t, err)
	require.Equal(t, sealer, author)
}

func TestAuthorRejectsShortExtra(t *testing.T) {
	engine := NewEngine(59144)
	header := &types.Header{Extra: []byte{1, 2, 3}}
	_, err := engine.Author(header)
	require.Error(t, err)
}

func TestSealHashStripsSeal(t *testing.T) {
	header, _ := sealedHeader(t)
	before := SealHash(header)

	// the seal bytes themselves must not affect the digest
	copy(header.Extra[len(header.Extra)-extraSealLength:], make([]byte, extraSealLength))
	require.Equal(t, before, SealHash(header))

	// the vanity portion must
	header.Extra[0] ^= 0xff
	require.NotEqual(t, before, SealHash(header))
}

func TestChainConfigLondonAtGenesis(t *testing.T) {
	cfg := ChainConfig(59144)
	require.True(t, cfg.IsLondon(common.Big0))
	require.True(t, cfg.IsBerlin(common.Big0))
	require.False(t, cfg.IsShanghai(common.Big0, 0))
	require.Equal(t, uint64(59144), cfg.ChainID.Uint64())
}
