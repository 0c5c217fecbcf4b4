package pob

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"
)

func testBlock() *types.Block {
	header := &types.Header{
		Number:     common.Big1,
		Difficulty: common.Big2,
		GasLimit:   61_000_000,
		Root:       common.HexToHash("0x01"),
	}
	return types.NewBlockWithHeader(header)
}

func TestStateHashIndependentOfNodeOrder(t *testing.T) {
	nodes := [][]byte{{0x03}, {0x01}, {0x02}}
	a := New(testBlock(), Data{ChainID: 59144, MptNodes: append([][]byte{}, nodes...)})

	reordered := [][]byte{{0x02}, {0x03}, {0x01}}
	b := New(testBlock(), Data{ChainID: 59144, MptNodes: reordered})

	require.Equal(t, a.StateHash(), b.StateHash())
	require.Equal(t, a.Data.MptNodes, b.Data.MptNodes)
}

func TestFromProofsDeduplicates(t *testing.T) {
	shared := []byte{0xaa, 0xbb}
	states := []AccountProofs{
		{AccountProof: [][]byte{shared, {0x01}}},
		{AccountProof: [][]byte{shared}, StorageProofs: [][][]byte{{shared, {0x02}}}},
	}
	p := FromProofs(59144, testBlock(), common.HexToHash("0x02"), nil, nil, states)
	require.Len(t, p.Data.MptNodes, 3)
}

func TestAppendNodesKeepsOrderAndDedups(t *testing.T) {
	p := New(testBlock(), Data{MptNodes: [][]byte{{0x02}, {0x04}}})
	p.AppendNodes([][]byte{{0x03}, {0x02}})
	require.Equal(t, [][]byte{{0x02}, {0x03}, {0x04}}, p.Data.MptNodes)
}

func TestDataRLPRoundTrip(t *testing.T) {
	data := Data{
		ChainID:       59144,
		PrevStateRoot: common.HexToHash("0x1234"),
		BlockHashes: map[uint64]common.Hash{
			7: common.HexToHash("0x07"),
			3: common.HexToHash("0x03"),
		},
		MptNodes: [][]byte{{0x01}, {0x02}},
		Codes:    [][]byte{{0x60, 0x00}},
	}
	raw, err := rlp.EncodeToBytes(&data)
	require.NoError(t, err)

	var decoded Data
	require.NoError(t, rlp.DecodeBytes(raw, &decoded))
	require.Equal(t, data.ChainID, decoded.ChainID)
	require.Equal(t, data.PrevStateRoot, decoded.PrevStateRoot)
	require.Equal(t, data.BlockHashes, decoded.BlockHashes)
	require.Equal(t, data.MptNodes, decoded.MptNodes)
	require.Equal(t, data.Codes, decoded.Codes)
}
