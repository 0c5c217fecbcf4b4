package client

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/automata-network/linea-prover/zktrie"
)

// ShomeiConfig configures the state-manager trace service.
type ShomeiConfig struct {
	Endpoint string `json:"endpoint"`
	Version  string `json:"version"`
}

// ShomeiClient fetches the sparse-trie replay traces published by the
// rollup's state manager.
type ShomeiClient struct {
	rpc     *rpc.Client
	version string
}

// DialShomei connects to the state-manager endpoint.
func DialShomei(ctx context.Context, cfg ShomeiConfig) (*ShomeiClient, error) {
	c, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("client: dial shomei %s: %w", cfg.Endpoint, err)
	}
	version := cfg.Version
	if version == "" {
		version = "0.0.1"
	}
	return &ShomeiClient{rpc: c, version: version}, nil
}

type merkleProofRequest struct {
	StartBlockNumber      hexutil.Uint64 `json:"startBlockNumber"`
	EndBlockNumber        hexutil.Uint64 `json:"endBlockNumber"`
	ZkStateManagerVersion string         `json:"zkStateManagerVersion"`
}

type merkleProofResult struct {
	ZkStateMerkleProof []hexutil.Bytes `json:"zkStateMerkleProof"`
	ZkParentStateRoot  hexutil.Bytes   `json:"zkParentStateRootHash"`
}

// FetchProof returns the decoded trace stream covering the block range
// [from, to].
func (c *ShomeiClient) FetchProof(ctx context.Context, from, to uint64) ([]zktrie.Trace, error) {
	var result merkleProofResult
	err := c.rpc.CallContext(ctx, &result, "rollup_getZkEVMStateMerkleProofV0", merkleProofRequest{
		StartBlockNumber:      hexutil.Uint64(from),
		EndBlockNumber:        hexutil.Uint64(to),
		ZkStateManagerVersion: c.version,
	})
	if err != nil {
		return nil, fmt.Errorf("client: shomei proof %d..%d: %w", from, to, err)
	}
	raw := make([][]byte, 0, len(result.ZkStateMerkleProof))
	for _, item := range result.ZkStateMerkleProof {
		raw = append(raw, item)
	}
	return zktrie.DecodeTraces(raw)
}

// FetchProofByTraces resolves the traces for a single block; the trace
// service keys them by block range, so this is the degenerate range.
func (c *ShomeiClient) FetchProofByTraces(ctx context.Context, block uint64) ([]zktrie.Trace, error) {
	return c.FetchProof(ctx, block, block)
}

// Close tears down the connection.
func (c *ShomeiClient) Close() {
	c.rpc.Close()
}
