// Package prover ties the pipeline together: witness generation, block
// re-execution, PoE aggregation and the JSON-RPC front-end.
package prover

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// poeBatchDomain separates the batch hash from every other keccak use.
var poeBatchDomain = []byte("poe-batch-v1")

// Poe is the Proof-of-Execution attestation: a state transition bound
// to a witness (or batch) hash, signed by the prover's ephemeral P-256
// key.
type Poe struct {
	BatchHash      common.Hash   `json:"batch_hash"`
	PrevStateRoot  common.Hash   `json:"prev_state_root"`
	NewStateRoot   common.Hash   `json:"new_state_root"`
	WithdrawalRoot common.Hash   `json:"withdrawal_root"`
	Signer         hexutil.Bytes `json:"signer"`
	Signature      hexutil.Bytes `json:"signature"`
}

// SinglePoe is the one-block attestation: the batch hash is the
// witness state hash itself.
func SinglePoe(stateHash, prevStateRoot, newStateRoot, withdrawalRoot common.Hash) *Poe {
	return &Poe{
		BatchHash:      stateHash,
		PrevStateRoot:  prevStateRoot,
		NewStateRoot:   newStateRoot,
		WithdrawalRoot: withdrawalRoot,
	}
}

// ErrEmptyBatch reports a batch aggregation over no blocks.
var ErrEmptyBatch = errors.New("prover: batch requires at least one poe")

// BatchContinuityError reports adjacent attestations whose roots do not
// chain.
type BatchContinuityError struct {
	Index int
	Prev  common.Hash
	Next  common.Hash
}

func (e *BatchContinuityError) Error() string {
	return fmt.Sprintf("prover: poe %d does not chain: %x != %x", e.Index, e.Next, e.Prev)
}

// BatchPoe folds an ascending run of attestations into one: the outer
// transition spans first.prev to last.new, and the batch hash binds the
// batch data to that transition under a domain-separated keccak.
func BatchPoe(dataHash common.Hash, poes []*Poe) (*Poe, error) {
	if len(poes) == 0 {
		return nil, ErrEmptyBatch
	}
	for i := 1; i < len(poes); i++ {
		if poes[i].PrevStateRoot != poes[i-1].NewStateRoot {
			return nil, &BatchContinuityError{
				Index: i,
				Prev:  poes[i-1].NewStateRoot,
				Next:  poes[i].PrevStateRoot,
			}
		}
	}
	first, last := poes[0], poes[len(poes)-1]
	batchHash := crypto.Keccak256Hash(
		poeBatchDomain,
		dataHash.Bytes(),
		first.PrevStateRoot.Bytes(),
		last.NewStateRoot.Bytes(),
		last.WithdrawalRoot.Bytes(),
	)
	return &Poe{
		BatchHash:      batchHash,
		PrevStateRoot:  first.PrevStateRoot,
		NewStateRoot:   last.NewStateRoot,
		WithdrawalRoot: last.WithdrawalRoot,
	}, nil
}

// signingDigest binds the chain id and the attested transition.
func (p *Poe) signingDigest(chainID uint64) common.Hash {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	return crypto.Keccak256Hash(
		chain[:],
		p.BatchHash.Bytes(),
		p.PrevStateRoot.Bytes(),
		p.NewStateRoot.Bytes(),
		p.WithdrawalRoot.Bytes(),
	)
}

// Sign attests the record with the prover's P-256 key; the marshaled
// public key becomes the attestation identity.
func (p *Poe) Sign(chainID uint64, key *ecdsa.PrivateKey) error {
	digest := p.signingDigest(chainID)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest.Bytes())
	if err != nil {
		return fmt.Errorf("prover: sign poe: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	p.Signature = sig
	p.Signer = elliptic.Marshal(key.Curve, key.PublicKey.X, key.PublicKey.Y)
	return nil
}

// Verify checks the attestation signature against its embedded signer.
func (p *Poe) Verify(chainID uint64) bool {
	if len(p.Signature) != 64 || len(p.Signer) == 0 {
		return false
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, p.Signer)
	if x == nil {
		return false
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	r := new(big.Int).SetBytes(p.Signature[:32])
	s := new(big.Int).SetBytes(p.Signature[32:])
	return ecdsa.Verify(pub, p.signingDigest(chainID).Bytes(), r, s)
}

// GenerateProverKey creates the ephemeral attestation key.
func GenerateProverKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}
