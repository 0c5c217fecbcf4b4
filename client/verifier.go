package client

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// verifierABI covers the single entry point the prover drives.
const verifierABI = `[{"type":"function","name":"commitBatch","inputs":[{"name":"batchId","type":"uint256"},{"name":"report","type":"bytes"}]}]`

const (
	commitRetries = 5
	commitBackoff = 2 * time.Second
)

// VerifierConfig configures the on-chain commitment target.
type VerifierConfig struct {
	Endpoint     string         `json:"endpoint"`
	Contract     common.Address `json:"contract"`
	RelayAccount string         `json:"relay_account"`
}

// VerifierClient posts batch attestations to the verifier contract.
type VerifierClient struct {
	eth      *ethclient.Client
	contract common.Address
	abi      abi.ABI
}

// DialVerifier connects to the settlement endpoint.
func DialVerifier(ctx context.Context, cfg VerifierConfig) (*VerifierClient, error) {
	eth, err := ethclient.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("client: dial verifier %s: %w", cfg.Endpoint, err)
	}
	parsed, err := abi.JSON(strings.NewReader(verifierABI))
	if err != nil {
		return nil, err
	}
	return &VerifierClient{eth: eth, contract: cfg.Contract, abi: parsed}, nil
}

// CommitBatch submits one encoded batch report, retrying transient RPC
// failures with backoff and giving up immediately on a contract revert.
func (c *VerifierClient) CommitBatch(ctx context.Context, relayKey *ecdsa.PrivateKey, batchID *big.Int, report []byte) (common.Hash, error) {
	calldata, err := c.abi.Pack("commitBatch", batchID, report)
	if err != nil {
		return common.Hash{}, err
	}
	sender := crypto.PubkeyToAddress(relayKey.PublicKey)

	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return common.Hash{}, ctx.Err()
			case <-time.After(commitBackoff << (attempt - 1)):
			}
		}

		// a revert is deterministic; surface it without burning gas
		if _, err := c.eth.CallContract(ctx, ethereum.CallMsg{
			From: sender,
			To:   &c.contract,
			Data: calldata,
		}, nil); err != nil {
			if isRevert(err) {
				return common.Hash{}, fmt.Errorf("client: commitBatch %s reverted: %w", batchID, err)
			}
			lastErr = err
			log.Warn("Batch commit preflight failed, retrying", "attempt", attempt, "err", err)
			continue
		}

		hash, err := c.sendCommit(ctx, relayKey, sender, calldata)
		if err != nil {
			lastErr = err
			log.Warn("Batch commit failed, retrying", "attempt", attempt, "err", err)
			continue
		}
		return hash, nil
	}
	return common.Hash{}, fmt.Errorf("client: commitBatch %s gave up: %w", batchID, lastErr)
}

func (c *VerifierClient) sendCommit(ctx context.Context, relayKey *ecdsa.PrivateKey, sender common.Address, calldata []byte) (common.Hash, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, sender)
	if err != nil {
		return common.Hash{}, err
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     sender,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), relayKey)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	log.Info("Batch commit submitted", "tx", signed.Hash(), "nonce", nonce)
	return signed.Hash(), nil
}

// isRevert distinguishes deterministic contract rejections from
// transport noise.
func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr interface{ ErrorData() interface{} }
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// Close tears down the connection.
func (c *VerifierClient) Close() {
	c.eth.Close()
}
