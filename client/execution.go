// Package client holds the remote collaborators: the L2 execution node,
// the state-manager ("shomei") trace service, and the verifier contract.
package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/automata-network/linea-prover/pob"
)

// PrestateAccount is one account touched by a transaction, as reported
// by the prestate tracer.
type PrestateAccount struct {
	Balance *hexutil.Big                `json:"balance"`
	Nonce   uint64                      `json:"nonce"`
	Code    hexutil.Bytes               `json:"code"`
	Storage map[common.Hash]common.Hash `json:"storage"`
}

// PrestateResult maps touched addresses to their pre-transaction state.
type PrestateResult map[common.Address]*PrestateAccount

type txTraceResult struct {
	Result PrestateResult `json:"result"`
	Error  string         `json:"error,omitempty"`
}

// FetchState names one account and the storage slots to prove.
type FetchState struct {
	Address     common.Address
	StorageKeys []common.Hash
}

const (
	rpcRetries = 3
	rpcBackoff = 500 * time.Millisecond
)

// callRetry retries transient transport failures with exponential
// backoff; the last error propagates.
func callRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < rpcRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rpcBackoff << (attempt - 1)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// ExecutionClient talks to the L2 execution node.
type ExecutionClient struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	geth *gethclient.Client
}

// DialExecution connects to the L2 endpoint.
func DialExecution(ctx context.Context, url string) (*ExecutionClient, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return NewExecutionClient(c), nil
}

// NewExecutionClient wraps an established RPC connection.
func NewExecutionClient(c *rpc.Client) *ExecutionClient {
	return &ExecutionClient{
		rpc:  c,
		eth:  ethclient.NewClient(c),
		geth: gethclient.New(c),
	}
}

// ChainID queries the chain id.
func (c *ExecutionClient) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

// BlockByNumber fetches a full block.
func (c *ExecutionClient) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	return c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
}

// HeaderByNumber fetches a header.
func (c *ExecutionClient) HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
}

// LatestBlockNumber returns the node's head height.
func (c *ExecutionClient) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// TracePrestate runs the prestate tracer over every transaction of a
// block, yielding the touched accounts, codes and storage slots.
func (c *ExecutionClient) TracePrestate(ctx context.Context, number uint64) ([]PrestateResult, error) {
	var raw []txTraceResult
	err := callRetry(ctx, func() error {
		return c.rpc.CallContext(ctx, &raw, "debug_traceBlockByNumber",
			hexutil.EncodeUint64(number),
			map[string]interface{}{"tracer": "prestateTracer"})
	})
	if err != nil {
		return nil, fmt.Errorf("client: prestate trace of block %d: %w", number, err)
	}
	out := make([]PrestateResult, 0, len(raw))
	for i, item := range raw {
		if item.Error != "" {
			return nil, fmt.Errorf("client: prestate trace of tx %d: %s", i, item.Error)
		}
		out = append(out, item.Result)
	}
	return out, nil
}

// GetCode fetches an account's bytecode at the given height.
func (c *ExecutionClient) GetCode(ctx context.Context, addr common.Address, number uint64) ([]byte, error) {
	return c.eth.CodeAt(ctx, addr, new(big.Int).SetUint64(number))
}

// GetCodes fetches the bytecode of several accounts.
func (c *ExecutionClient) GetCodes(ctx context.Context, addrs []common.Address, number uint64) ([][]byte, error) {
	out := make([][]byte, 0, len(addrs))
	for _, addr := range addrs {
		code, err := c.GetCode(ctx, addr, number)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

// FetchStates collects the Merkle proofs for every requested account and
// storage slot at the given height.
func (c *ExecutionClient) FetchStates(ctx context.Context, list []FetchState, number uint64) ([]pob.AccountProofs, error) {
	out := make([]pob.AccountProofs, 0, len(list))
	for _, req := range list {
		proofs, err := c.GetProof(ctx, req.Address, req.StorageKeys, number)
		if err != nil {
			return nil, err
		}
		out = append(out, *proofs)
	}
	return out, nil
}

// GetProof fetches one account proof plus the proofs of the given slots.
func (c *ExecutionClient) GetProof(ctx context.Context, addr common.Address, slots []common.Hash, number uint64) (*pob.AccountProofs, error) {
	keys := make([]string, 0, len(slots))
	for _, slot := range slots {
		keys = append(keys, slot.Hex())
	}
	var result *gethclient.AccountResult
	err := callRetry(ctx, func() error {
		var inner error
		result, inner = c.geth.GetProof(ctx, addr, keys, new(big.Int).SetUint64(number))
		return inner
	})
	if err != nil {
		return nil, fmt.Errorf("client: proof for %s at %d: %w", addr, number, err)
	}
	out := &pob.AccountProofs{AccountProof: decodeProof(result.AccountProof)}
	for _, storage := range result.StorageProof {
		out.StorageProofs = append(out.StorageProofs, decodeProof(storage.Proof))
	}
	return out, nil
}

func decodeProof(proof []string) [][]byte {
	out := make([][]byte, 0, len(proof))
	for _, item := range proof {
		data, err := hexutil.Decode(item)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// DbGet fetches one raw trie node by hash from the node's database, the
// channel used to materialize reduction nodes.
func (c *ExecutionClient) DbGet(ctx context.Context, hash common.Hash) ([]byte, error) {
	var out hexutil.Bytes
	err := callRetry(ctx, func() error {
		return c.rpc.CallContext(ctx, &out, "debug_dbGet", hash.Hex())
	})
	if err != nil {
		return nil, fmt.Errorf("client: dbGet %x: %w", hash, err)
	}
	return out, nil
}

// Close tears down the connection.
func (c *ExecutionClient) Close() {
	c.rpc.Close()
}
