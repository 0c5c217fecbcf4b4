package prover

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/automata-network/linea-prover/client"
	"github.com/automata-network/linea-prover/executor"
	"github.com/automata-network/linea-prover/mpt"
	"github.com/automata-network/linea-prover/zkstate"
	"github.com/automata-network/linea-prover/zktrie"
)

// BuildContext is the immutable bundle every worker shares: remote
// clients, chain rules, keys and limits. It is constructed once at
// startup and only read afterwards.
type BuildContext struct {
	L2        *client.ExecutionClient
	Shomei    *client.ShomeiClient
	Verifier  *client.VerifierClient
	Executor  *executor.BlockExecutor
	ProverKey *ecdsa.PrivateKey
	RelayKey  *ecdsa.PrivateKey
	Rollup    RollupConfig
	Workers   int
}

// Prover executes prove and test requests over a build context.
type Prover struct {
	ctx BuildContext
}

// NewProver dials the collaborators and assembles the build context.
func NewProver(ctx context.Context, cfg *Config) (*Prover, error) {
	l2, err := client.DialExecution(ctx, cfg.L2)
	if err != nil {
		return nil, err
	}
	chainID, err := l2.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("prover: query chain id: %w", err)
	}

	proverKey, err := GenerateProverKey()
	if err != nil {
		return nil, err
	}

	build := BuildContext{
		L2:        l2,
		Executor:  executor.NewBlockExecutor(chainID),
		ProverKey: proverKey,
		Rollup:    cfg.Rollup,
		Workers:   cfg.Server.Workers,
	}
	if cfg.Shomei.Endpoint != "" {
		if build.Shomei, err = client.DialShomei(ctx, cfg.Shomei); err != nil {
			return nil, err
		}
	}
	if cfg.Verifier.Endpoint != "" {
		if build.Verifier, err = client.DialVerifier(ctx, cfg.Verifier); err != nil {
			return nil, err
		}
		if build.RelayKey, err = crypto.HexToECDSA(cfg.Verifier.RelayAccount); err != nil {
			return nil, fmt.Errorf("prover: parse relay account: %w", err)
		}
	}

	log.Info("Prover ready", "chainID", chainID, "workers", build.Workers)
	return &Prover{ctx: build}, nil
}

// ChainID returns the proven chain.
func (p *Prover) ChainID() uint64 { return p.ctx.Executor.Engine().ChainID() }

type blockResult struct {
	number    uint64
	stateHash common.Hash
	poe       *Poe
}

// Prove builds, replays and attests every block in [start, end], then
// folds the per-block attestations into the batch PoE. Blocks prove in
// parallel; the batch sees them in ascending order.
func (p *Prover) Prove(ctx context.Context, start, end uint64) (*Poe, error) {
	if end < start {
		return nil, fmt.Errorf("prover: invalid range %d..%d", start, end)
	}
	count := end - start + 1
	if count > p.ctx.Rollup.MaxBlock {
		return nil, fmt.Errorf("prover: range %d..%d exceeds the %d-block limit", start, end, p.ctx.Rollup.MaxBlock)
	}
	latest, err := p.ctx.L2.LatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if end+p.ctx.Rollup.WaitBlock > latest {
		return nil, fmt.Errorf("prover: block %d not settled yet (head %d, wait %d)", end, latest, p.ctx.Rollup.WaitBlock)
	}

	results := make([]*blockResult, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.ctx.Workers)
	for i := uint64(0); i < count; i++ {
		i := i
		g.Go(func() error {
			result, err := p.proveBlock(gctx, start+i)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	poes := make([]*Poe, 0, count)
	hasher := crypto.NewKeccakState()
	for _, result := range results {
		poes = append(poes, result.poe)
		hasher.Write(result.stateHash.Bytes())
	}
	var dataHash common.Hash
	hasher.Read(dataHash[:])

	batch, err := BatchPoe(dataHash, poes)
	if err != nil {
		return nil, err
	}
	if err := batch.Sign(p.ChainID(), p.ctx.ProverKey); err != nil {
		return nil, err
	}
	log.Info("Batch proved", "start", start, "end", end, "batchHash", batch.BatchHash)
	return batch, nil
}

// proveBlock runs the full single-block pipeline: witness, isolated
// replay, attestation.
func (p *Prover) proveBlock(ctx context.Context, number uint64) (*blockResult, error) {
	witness, err := p.ctx.Executor.GeneratePob(ctx, p.ctx.L2, number)
	if err != nil {
		return nil, fmt.Errorf("prover: witness for block %d: %w", number, err)
	}

	// each block replays against its own store; isolation is the point
	db := mpt.NewDatabase()
	block, err := p.ctx.Executor.Execute(db, witness, true)
	if err != nil {
		return nil, fmt.Errorf("prover: replay block %d: %w", number, err)
	}

	var withdrawalRoot common.Hash
	if root := block.Header().WithdrawalsHash; root != nil {
		withdrawalRoot = *root
	}
	stateHash := witness.StateHash()
	poe := SinglePoe(stateHash, witness.Data.PrevStateRoot, block.Root(), withdrawalRoot)
	if err := poe.Sign(p.ChainID(), p.ctx.ProverKey); err != nil {
		return nil, err
	}
	return &blockResult{number: number, stateHash: stateHash, poe: poe}, nil
}

// TestBlock is the sparse-trie diagnostic: replay one block over the
// state manager's traces. Root disagreements are logged, not fatal.
func (p *Prover) TestBlock(ctx context.Context, number uint64) error {
	if p.ctx.Shomei == nil {
		return fmt.Errorf("prover: no shomei endpoint configured")
	}
	traces, err := p.ctx.Shomei.FetchProofByTraces(ctx, number)
	if err != nil {
		return err
	}
	if len(traces) == 0 {
		return fmt.Errorf("prover: no traces for block %d", number)
	}

	store, err := zktrie.MemStoreFromTraces(traces)
	if err != nil {
		return err
	}

	// the sparse accounts reference code by keccak hash; the prestate
	// tracer supplies the preimages
	prestates, err := p.ctx.L2.TracePrestate(ctx, number)
	if err != nil {
		return err
	}
	for _, txState := range prestates {
		for _, account := range txState {
			if len(account.Code) > 0 {
				store.SetCode(crypto.Keccak256Hash(account.Code), account.Code)
			}
		}
	}

	block, err := p.ctx.L2.BlockByNumber(ctx, number)
	if err != nil {
		return err
	}

	backend := zkstate.NewTrieStateFromTrace(store, traces[0])
	hashes := executor.NewBuilderFetcher(p.ctx.L2)
	if _, err := p.ctx.Executor.ExecuteState(backend, block, hashes, false); err != nil {
		return err
	}
	log.Info("Diagnostic replay finished", "block", number)
	return nil
}

// CommitBatch posts a signed batch report on-chain through the
// verifier contract.
func (p *Prover) CommitBatch(ctx context.Context, batchID uint64, poe *Poe) (common.Hash, error) {
	if p.ctx.Verifier == nil {
		return common.Hash{}, fmt.Errorf("prover: no verifier endpoint configured")
	}
	report, err := encodeReport(poe)
	if err != nil {
		return common.Hash{}, err
	}
	return p.ctx.Verifier.CommitBatch(ctx, p.ctx.RelayKey, new(big.Int).SetUint64(batchID), report)
}

// Close releases the remote connections.
func (p *Prover) Close() {
	p.ctx.L2.Close()
	if p.ctx.Shomei != nil {
		p.ctx.Shomei.Close()
	}
	if p.ctx.Verifier != nil {
		p.ctx.Verifier.Close()
	}
}
