package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/holiman/uint256"

	"github.com/automata-network/linea-prover/mpt"
	"github.com/automata-network/linea-prover/pob"
	"github.com/automata-network/linea-prover/statedb"
)

// ErrInsufficientBaseFee reports a transaction whose fee cap cannot
// cover the block base fee; a sealed block can never contain one, so it
// implies a corrupt witness.
type ErrInsufficientBaseFee struct {
	TxHash      common.Hash
	BlockNumber uint64
}

func (e *ErrInsufficientBaseFee) Error() string {
	return fmt.Sprintf("executor: tx %x in block %d cannot cover base fee", e.TxHash, e.BlockNumber)
}

// StateRootMismatchError reports a replay whose final root disagrees
// with the sealed header.
type StateRootMismatchError struct {
	Number uint64
	Got    common.Hash
	Want   common.Hash
}

func (e *StateRootMismatchError) Error() string {
	return fmt.Sprintf("executor: block %d state root mismatch: got %x, want %x", e.Number, e.Got, e.Want)
}

// BlockBuilder re-executes one block transaction by transaction over a
// state backend, then reassembles the finalized block.
type BlockBuilder struct {
	engine  *Engine
	state   *EVMState
	header  *types.Header
	author  common.Address
	getHash BlockHashGetter
	gasPool *core.GasPool

	txs         types.Transactions
	receipts    types.Receipts
	withdrawals types.Withdrawals
	usedGas     uint64
}

// NewBlockBuilder prepares the execution of the block described by
// header over the given backend.
func NewBlockBuilder(engine *Engine, backend statedb.StateDB, getHash BlockHashGetter, header *types.Header) (*BlockBuilder, error) {
	author, err := engine.Author(header)
	if err != nil {
		return nil, err
	}
	return &BlockBuilder{
		engine:  engine,
		state:   NewEVMState(backend),
		header:  header,
		author:  author,
		getHash: getHash,
		gasPool: new(core.GasPool).AddGas(header.GasLimit),
	}, nil
}

// Author returns the recovered block sealer.
func (b *BlockBuilder) Author() common.Address { return b.author }

func (b *BlockBuilder) blockContext() vm.BlockContext {
	current := b.header.Number.Uint64()
	ctx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash: func(target uint64) common.Hash {
			return b.getHash.GetHash(current, target)
		},
		Coinbase:    b.author,
		GasLimit:    b.header.GasLimit,
		BlockNumber: new(big.Int).Set(b.header.Number),
		Time:        b.header.Time,
		Difficulty:  new(big.Int).Set(b.header.Difficulty),
	}
	if b.header.BaseFee != nil {
		ctx.BaseFee = new(big.Int).Set(b.header.BaseFee)
	}
	return ctx
}

// Commit executes the next transaction in block order and records its
// receipt. An error aborts the whole block: a sealed block only carries
// transactions its chain accepted, so a pre-flight rejection here means
// the witness is corrupt.
func (b *BlockBuilder) Commit(tx *types.Transaction) (*types.Receipt, error) {
	// base-fee enforcement ahead of execution, so the miner tip below
	// can never go negative
	if _, err := tx.EffectiveGasTip(b.header.BaseFee); err != nil {
		return nil, &ErrInsufficientBaseFee{TxHash: tx.Hash(), BlockNumber: b.header.Number.Uint64()}
	}

	signer := b.engine.Signer(b.header)
	msg, err := core.TransactionToMessage(tx, signer, b.header.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("executor: tx %x sender recovery: %w", tx.Hash(), err)
	}

	txIndex := len(b.txs)
	b.state.SetTxContext(tx.Hash(), txIndex)

	evm := vm.NewEVM(b.blockContext(), b.state, b.engine.Config(), vm.Config{})
	result, err := core.ApplyMessage(evm, msg, b.gasPool)
	if err != nil {
		return nil, fmt.Errorf("executor: apply tx %d [%x]: %w", txIndex, tx.Hash(), err)
	}
	b.state.Finalise(true)
	if err := b.state.Error(); err != nil {
		return nil, fmt.Errorf("executor: state after tx %d [%x]: %w", txIndex, tx.Hash(), err)
	}

	b.usedGas += result.UsedGas
	receipt := b.makeReceipt(tx, msg, result, txIndex)
	b.txs = append(b.txs, tx)
	b.receipts = append(b.receipts, receipt)
	return receipt, nil
}

func (b *BlockBuilder) makeReceipt(tx *types.Transaction, msg *core.Message, result *core.ExecutionResult, txIndex int) *types.Receipt {
	receipt := &types.Receipt{
		Type:              tx.Type(),
		CumulativeGasUsed: b.usedGas,
	}
	if result.Failed() {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.Status = types.ReceiptStatusSuccessful
	}
	receipt.TxHash = tx.Hash()
	receipt.GasUsed = result.UsedGas
	if tx.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(msg.From, tx.Nonce())
	}
	receipt.Logs = b.state.TxLogs()
	receipt.Bloom = types.CreateBloom(receipt)
	receipt.BlockNumber = new(big.Int).Set(b.header.Number)
	receipt.TransactionIndex = uint(txIndex)
	return receipt
}

// Withdrawal credits each withdrawal to its recipient. Withdrawals are
// consensus operations: no gas, no receipts.
func (b *BlockBuilder) Withdrawal(withdrawals types.Withdrawals) error {
	backend := b.state.Backend()
	for _, w := range withdrawals {
		amount := new(uint256.Int).Mul(
			uint256.NewInt(w.Amount), uint256.NewInt(params.GWei))
		if err := backend.AddBalance(w.Address, amount); err != nil {
			return fmt.Errorf("executor: withdrawal %d: %w", w.Index, err)
		}
	}
	b.withdrawals = withdrawals
	return nil
}

// Finalize flushes the state and reassembles the block with the derived
// roots. The caller compares the resulting state root against the
// sealed one.
func (b *BlockBuilder) Finalize() (*types.Block, types.Receipts, error) {
	root, err := b.state.Backend().Flush()
	if err != nil {
		return nil, nil, err
	}

	header := types.CopyHeader(b.header)
	header.Root = root
	header.GasUsed = b.usedGas
	header.TxHash = types.DeriveSha(b.txs, trie.NewStackTrie(nil))
	header.ReceiptHash = types.DeriveSha(b.receipts, trie.NewStackTrie(nil))
	header.Bloom = types.MergeBloom(b.receipts)
	if b.withdrawals != nil {
		hash := types.DeriveSha(b.withdrawals, trie.NewStackTrie(nil))
		header.WithdrawalsHash = &hash
	}

	body := types.Body{Transactions: b.txs, Withdrawals: b.withdrawals}
	block := types.NewBlockWithHeader(header).WithBody(body)
	for _, receipt := range b.receipts {
		receipt.BlockHash = block.Hash()
	}
	return block, b.receipts, nil
}

// BlockExecutor replays sealed witnesses.
type BlockExecutor struct {
	engine *Engine
}

// NewBlockExecutor builds the executor for one chain.
func NewBlockExecutor(chainID uint64) *BlockExecutor {
	return &BlockExecutor{engine: NewEngine(chainID)}
}

// Engine exposes the chain rules.
func (e *BlockExecutor) Engine() *Engine { return e.engine }

// resumeDB loads a witness into a node store.
func (e *BlockExecutor) resumeDB(p *pob.Pob, db mpt.NodeDB) {
	for _, node := range p.Data.MptNodes {
		mpt.ResumeNode(db, node)
	}
	for _, code := range p.Data.Codes {
		mpt.ResumeCode(db, code)
	}
	db.Commit()
}

// Execute replays a PoB against a fork of db and returns the
// reconstructed block. With strict set, a state-root mismatch is an
// error; otherwise it is logged and the block returned for inspection.
func (e *BlockExecutor) Execute(db mpt.NodeDB, p *pob.Pob, strict bool) (*types.Block, error) {
	if p.Data.ChainID != e.engine.ChainID() {
		return nil, fmt.Errorf("executor: chain id mismatch %d != %d", p.Data.ChainID, e.engine.ChainID())
	}

	fork := db.Fork()
	e.resumeDB(p, fork)

	backend, err := mpt.NewTrieState(mpt.NoStateFetcher{}, p.Data.PrevStateRoot, fork)
	if err != nil {
		return nil, err
	}
	return e.ExecuteState(backend, p.Block, NewBlockHashCache(p.Data.BlockHashes), strict)
}

// ExecuteState runs the block over an arbitrary state backend; the
// sparse-trie diagnostic path and the witness generator both reuse it.
func (e *BlockExecutor) ExecuteState(backend statedb.StateDB, block *types.Block, getHash BlockHashGetter, strict bool) (*types.Block, error) {
	header := block.Header()
	builder, err := NewBlockBuilder(e.engine, backend, getHash, header)
	if err != nil {
		return nil, err
	}

	for _, tx := range block.Transactions() {
		if _, err := builder.Commit(tx); err != nil {
			return nil, err
		}
	}
	if withdrawals := block.Withdrawals(); withdrawals != nil {
		if err := builder.Withdrawal(withdrawals); err != nil {
			return nil, err
		}
	}

	rebuilt, _, err := builder.Finalize()
	if err != nil {
		return nil, err
	}

	number := header.Number.Uint64()
	if rebuilt.Root() != header.Root {
		mismatch := &StateRootMismatchError{Number: number, Got: rebuilt.Root(), Want: header.Root}
		if strict {
			return nil, mismatch
		}
		log.Error("Block state root mismatch", "number", number,
			"got", rebuilt.Root(), "want", header.Root)
	} else if number%100 == 0 {
		log.Info("Block state root match", "number", number, "root", rebuilt.Root())
	}
	return rebuilt, nil
}
