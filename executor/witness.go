package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/automata-network/linea-prover/client"
	"github.com/automata-network/linea-prover/mpt"
	"github.com/automata-network/linea-prover/pob"
	"github.com/automata-network/linea-prover/statedb"
)

// GeneratePob builds a self-contained witness for one block.
//
// Pass A consolidates the prestate tracer output into the touched
// account/slot set and the code universe. Pass B fetches the Merkle
// proofs for that set at the parent height. Pass C re-executes the
// block against a recording fetcher and appends every node that had to
// be materialized on demand — the delete-collapse reduction nodes the
// static proofs cannot anticipate.
func (e *BlockExecutor) GeneratePob(ctx context.Context, c *client.ExecutionClient, number uint64) (*pob.Pob, error) {
	prestates, err := c.TracePrestate(ctx, number)
	if err != nil {
		return nil, err
	}

	touched := make(map[common.Address]map[common.Hash]struct{})
	codes := make(map[common.Hash][]byte)
	for _, txState := range prestates {
		for addr, account := range txState {
			slots, ok := touched[addr]
			if !ok {
				slots = make(map[common.Hash]struct{})
				touched[addr] = slots
			}
			for slot := range account.Storage {
				slots[slot] = struct{}{}
			}
			if len(account.Code) > 0 {
				codes[crypto.Keccak256Hash(account.Code)] = account.Code
			}
		}
	}

	block, err := c.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if number == 0 {
		return nil, fmt.Errorf("executor: cannot build witness for the genesis block")
	}
	parent := number - 1

	requests := make([]client.FetchState, 0, len(touched))
	for addr, slots := range touched {
		req := client.FetchState{Address: addr}
		for slot := range slots {
			req.StorageKeys = append(req.StorageKeys, slot)
		}
		sort.Slice(req.StorageKeys, func(i, j int) bool {
			return req.StorageKeys[i].Cmp(req.StorageKeys[j]) < 0
		})
		requests = append(requests, req)
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].Address.Cmp(requests[j].Address) < 0
	})

	states, err := c.FetchStates(ctx, requests, parent)
	if err != nil {
		return nil, err
	}
	parentHeader, err := c.HeaderByNumber(ctx, parent)
	if err != nil {
		return nil, err
	}

	codeList := make([][]byte, 0, len(codes))
	for _, code := range codes {
		codeList = append(codeList, code)
	}
	p := pob.FromProofs(e.engine.ChainID(), block, parentHeader.Root, nil, codeList, states)

	if err := e.fillReductionNodes(ctx, c, p, parent); err != nil {
		return nil, err
	}
	log.Debug("Witness sealed", "block", number,
		"nodes", len(p.Data.MptNodes), "codes", len(p.Data.Codes))
	return p, nil
}

// fillReductionNodes is pass C: a dry-run execution whose fetcher logs
// every node it materializes, guaranteeing the sealed witness replays
// against an empty fetcher.
func (e *BlockExecutor) fillReductionNodes(ctx context.Context, c *client.ExecutionClient, p *pob.Pob, parent uint64) error {
	db := mpt.NewDatabase()
	e.resumeDB(p, db)

	collector := NewStateCollector(ctx, c, parent)
	backend, err := mpt.NewTrieState(collector, p.Data.PrevStateRoot, db)
	if err != nil {
		return err
	}

	hashes := NewBuilderFetcher(c)
	if _, err := e.ExecuteState(backend, p.Block, hashes, false); err != nil {
		return fmt.Errorf("executor: witness dry run: %w", err)
	}

	p.AppendNodes(collector.Recorded())
	if p.Data.BlockHashes == nil {
		p.Data.BlockHashes = make(map[uint64]common.Hash)
	}
	for number, hash := range hashes.Seen() {
		p.Data.BlockHashes[number] = hash
	}
	return nil
}

// StateCollector is the recording fetcher: every proof node and raw
// node it serves is remembered so the witness can be completed after
// the dry run.
type StateCollector struct {
	ctx    context.Context
	client *client.ExecutionClient
	block  uint64

	mu       sync.Mutex
	recorded map[common.Hash][]byte
}

// NewStateCollector builds a collector proving against the given
// height.
func NewStateCollector(ctx context.Context, c *client.ExecutionClient, block uint64) *StateCollector {
	return &StateCollector{
		ctx:      ctx,
		client:   c,
		block:    block,
		recorded: make(map[common.Hash][]byte),
	}
}

func (s *StateCollector) record(nodes [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		s.recorded[crypto.Keccak256Hash(node)] = node
	}
}

// Recorded returns every node served during the dry run, in stable
// order.
func (s *StateCollector) Recorded() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes := make([]common.Hash, 0, len(s.recorded))
	for hash := range s.recorded {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Cmp(hashes[j]) < 0 })
	out := make([][]byte, 0, len(hashes))
	for _, hash := range hashes {
		out = append(out, s.recorded[hash])
	}
	return out
}

// FetchProofs serves the account-trie proof for an address key.
func (s *StateCollector) FetchProofs(key []byte) ([][]byte, error) {
	proofs, err := s.client.GetProof(s.ctx, common.BytesToAddress(key), nil, s.block)
	if err != nil {
		return nil, err
	}
	s.record(proofs.AccountProof)
	return proofs.AccountProof, nil
}

// GetNodes serves raw nodes by hash, the reduction-node channel.
func (s *StateCollector) GetNodes(hashes []common.Hash) ([][]byte, error) {
	out := make([][]byte, 0, len(hashes))
	for _, hash := range hashes {
		node, err := s.client.DbGet(s.ctx, hash)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	s.record(out)
	return out, nil
}

// WithAccount scopes the collector to one account's storage trie.
func (s *StateCollector) WithAccount(addr common.Address) statedb.ProofFetcher {
	return &storageCollector{parent: s, addr: addr}
}

// FetchCode pulls bytecode missed by the prestate pass.
func (s *StateCollector) FetchCode(addr common.Address) ([]byte, error) {
	return s.client.GetCode(s.ctx, addr, s.block)
}

type storageCollector struct {
	parent *StateCollector
	addr   common.Address
}

// FetchProofs serves one storage-slot proof under the scoped account.
func (s *storageCollector) FetchProofs(key []byte) ([][]byte, error) {
	slot := common.BytesToHash(key)
	proofs, err := s.parent.client.GetProof(s.parent.ctx, s.addr, []common.Hash{slot}, s.parent.block)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, storage := range proofs.StorageProofs {
		out = append(out, storage...)
	}
	s.parent.record(out)
	return out, nil
}

func (s *storageCollector) GetNodes(hashes []common.Hash) ([][]byte, error) {
	return s.parent.GetNodes(hashes)
}

var _ mpt.StateFetcher = (*StateCollector)(nil)
