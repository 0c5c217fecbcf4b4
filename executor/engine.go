// Package executor drives go-ethereum's EVM over the witness-backed
// state: the vm.StateDB adapter with its transaction journal, the block
// execution pipeline, and the two-pass witness generator.
package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
)

// extraSealLength is the trailing signature portion of the extra-data
// field on clique-style chains.
const extraSealLength = crypto.SignatureLength

// Engine captures the consensus-side behavior the re-execution needs:
// the chain rules and the recovery of the block author from the header
// seal.
type Engine struct {
	chainConfig *params.ChainConfig
}

// NewEngine builds the engine for the given chain id. The rollup runs
// London rules from genesis; later time-based forks are not scheduled.
func NewEngine(chainID uint64) *Engine {
	return &Engine{chainConfig: ChainConfig(chainID)}
}

// ChainConfig returns a London-at-genesis chain configuration.
func ChainConfig(chainID uint64) *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:             new(big.Int).SetUint64(chainID),
		HomesteadBlock:      common.Big0,
		EIP150Block:         common.Big0,
		EIP155Block:         common.Big0,
		EIP158Block:         common.Big0,
		ByzantiumBlock:      common.Big0,
		ConstantinopleBlock: common.Big0,
		PetersburgBlock:     common.Big0,
		IstanbulBlock:       common.Big0,
		MuirGlacierBlock:    common.Big0,
		BerlinBlock:         common.Big0,
		LondonBlock:         common.Big0,
	}
}

// Config returns the chain rules.
func (e *Engine) Config() *params.ChainConfig { return e.chainConfig }

// ChainID returns the configured chain id.
func (e *Engine) ChainID() uint64 { return e.chainConfig.ChainID.Uint64() }

// Signer returns the transaction signer for the block.
func (e *Engine) Signer(header *types.Header) types.Signer {
	return types.MakeSigner(e.chainConfig, header.Number, header.Time)
}

// Author recovers the sealer from the signature carried in the last 65
// bytes of extra-data, clique style.
func (e *Engine) Author(header *types.Header) (common.Address, error) {
	if len(header.Extra) < extraSealLength {
		return common.Address{}, fmt.Errorf("executor: extra-data too short for seal: %d bytes", len(header.Extra))
	}
	sig := header.Extra[len(header.Extra)-extraSealLength:]

	pubkey, err := crypto.Ecrecover(SealHash(header).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("executor: recover author: %w", err)
	}
	var author common.Address
	copy(author[:], crypto.Keccak256(pubkey[1:])[12:])
	return author, nil
}

// SealHash is the digest the author signed: the header RLP with the
// seal stripped from extra-data.
func SealHash(header *types.Header) common.Hash {
	enc := []interface{}{
		header.ParentHash,
		header.UncleHash,
		header.Coinbase,
		header.Root,
		header.TxHash,
		header.ReceiptHash,
		header.Bloom,
		header.Difficulty,
		header.Number,
		header.GasLimit,
		header.GasUsed,
		header.Time,
		header.Extra[:len(header.Extra)-extraSealLength],
		header.MixDigest,
		header.Nonce,
	}
	if header.BaseFee != nil {
		enc = append(enc, header.BaseFee)
	}
	hasher := crypto.NewKeccakState()
	if err := rlp.Encode(hasher, enc); err != nil {
		panic(fmt.Sprintf("executor: seal hash encode: %v", err))
	}
	var out common.Hash
	hasher.Read(out[:])
	return out
}
