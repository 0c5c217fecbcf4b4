package executor

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/automata-network/linea-prover/mpt"
	"github.com/automata-network/linea-prover/pob"
)

const testChainID = 59144

// buildWitnessState seeds a tiny world state and returns its root plus
// the witness node blobs needed to reopen it.
func buildWitnessState(t *testing.T) (common.Hash, [][]byte) {
	t.Helper()
	db := mpt.NewDatabase()
	state, err := mpt.NewTrieState(mpt.NoStateFetcher{}, types.EmptyRootHash, db)
	require.NoError(t, err)
	require.NoError(t, state.SetBalance(common.HexToAddress("0x01"), uint256.NewInt(1_000)))
	root, err := state.Flush()
	require.NoError(t, err)

	rootNode := db.Get(root)
	require.NotNil(t, rootNode)
	return root, [][]byte{rootNode.Blob}
}

// sealedEmptyBlock builds a signed block with no transactions whose
// state root equals the witness root.
func sealedEmptyBlock(t *testing.T, root common.Hash) *types.Block {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	header := &types.Header{
		ParentHash:  common.HexToHash("0x01"),
		UncleHash:   types.EmptyUncleHash,
		Root:        root,
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  big.NewInt(2),
		Number:      big.NewInt(9),
		GasLimit:    61_000_000,
		Time:        1_700_000_000,
		Extra:       make([]byte, 32+extraSealLength),
		BaseFee:     big.NewInt(7),
	}
	sig, err := crypto.Sign(SealHash(header).Bytes(), key)
	require.NoError(t, err)
	copy(header.Extra[len(header.Extra)-extraSealLength:], sig)
	return types.NewBlockWithHeader(header)
}

func emptyBlockPob(t *testing.T) *pob.Pob {
	t.Helper()
	root, nodes := buildWitnessState(t)
	block := sealedEmptyBlock(t, root)
	return pob.New(block, pob.Data{
		ChainID:       testChainID,
		PrevStateRoot: root,
		MptNodes:      nodes,
	})
}

func TestExecuteSelfContainedWitness(t *testing.T) {
	executor := NewBlockExecutor(testChainID)
	witness := emptyBlockPob(t)

	rebuilt, err := executor.Execute(mpt.NewDatabase(), witness, true)
	require.NoError(t, err)
	require.Equal(t, witness.Block.Root(), rebuilt.Root())
	require.Equal(t, types.EmptyReceiptsHash, rebuilt.ReceiptHash())
}

func TestExecuteIsDeterministic(t *testing.T) {
	executor := NewBlockExecutor(testChainID)
	witness := emptyBlockPob(t)

	first, err := executor.Execute(mpt.NewDatabase(), witness, true)
	require.NoError(t, err)
	second, err := executor.Execute(mpt.NewDatabase(), witness, true)
	require.NoError(t, err)

	require.Equal(t, first.Hash(), second.Hash())
	require.Equal(t, first.ReceiptHash(), second.ReceiptHash())
	require.Equal(t, first.Bloom(), second.Bloom())
}

func TestExecuteRejectsChainIDMismatch(t *testing.T) {
	executor := NewBlockExecutor(testChainID + 1)
	witness := emptyBlockPob(t)

	_, err := executor.Execute(mpt.NewDatabase(), witness, true)
	require.Error(t, err)
}

func TestExecuteStrictRootMismatch(t *testing.T) {
	executor := NewBlockExecutor(testChainID)
	root, nodes := buildWitnessState(t)
	block := sealedEmptyBlock(t, common.HexToHash("0xbad"))
	witness := pob.New(block, pob.Data{
		ChainID:       testChainID,
		PrevStateRoot: root,
		MptNodes:      nodes,
	})

	_, err := executor.Execute(mpt.NewDatabase(), witness, true)
	var mismatch *StateRootMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, root, mismatch.Got)

	// the diagnostic mode only logs the disagreement
	rebuilt, err := executor.Execute(mpt.NewDatabase(), witness, false)
	require.NoError(t, err)
	require.Equal(t, root, rebuilt.Root())
}

func TestWithdrawalsCreditRecipients(t *testing.T) {
	db := mpt.NewDatabase()
	state, err := mpt.NewTrieState(mpt.NoStateFetcher{}, types.EmptyRootHash, db)
	require.NoError(t, err)

	header := sealedEmptyBlock(t, types.EmptyRootHash).Header()
	builder, err := NewBlockBuilder(NewEngine(testChainID), state, NewBlockHashCache(nil), header)
	require.NoError(t, err)

	recipient := common.HexToAddress("0x0f")
	require.NoError(t, builder.Withdrawal(types.Withdrawals{
		{Index: 1, Validator: 2, Address: recipient, Amount: 3}, // gwei
	}))

	balance, err := state.GetBalance(recipient)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(3_000_000_000), balance)

	block, receipts, err := builder.Finalize()
	require.NoError(t, err)
	require.Empty(t, receipts)
	require.NotNil(t, block.Header().WithdrawalsHash)
}
