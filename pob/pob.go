// Package pob defines the Proof-of-Block witness: everything needed to
// re-execute one block in isolation and reproduce its state root.
package pob

import (
	"bytes"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Pob carries a block body together with the witness data that makes it
// self-contained: trie nodes, contract codes, the previous state root
// and the BLOCKHASH window.
type Pob struct {
	Block *types.Block
	Data  Data
}

// Data is the witness payload. MptNodes is kept sorted bytewise so the
// state hash is independent of generation order.
type Data struct {
	ChainID       uint64
	PrevStateRoot common.Hash
	BlockHashes   map[uint64]common.Hash
	MptNodes      [][]byte
	Codes         [][]byte
}

// New seals a witness, normalizing the node list.
func New(block *types.Block, data Data) *Pob {
	sortNodes(data.MptNodes)
	return &Pob{Block: block, Data: data}
}

func sortNodes(nodes [][]byte) {
	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(nodes[i], nodes[j]) < 0
	})
}

// AccountProofs is the fetched Merkle material for one touched account:
// the account proof and one proof per touched storage slot.
type AccountProofs struct {
	AccountProof  [][]byte
	StorageProofs [][][]byte
}

// FromProofs assembles a witness from fetched state proofs, dropping
// duplicate nodes by keccak hash.
func FromProofs(chainID uint64, block *types.Block, prevStateRoot common.Hash,
	blockHashes map[uint64]common.Hash, codes [][]byte, states []AccountProofs) *Pob {

	seen := make(map[common.Hash]struct{})
	var nodes [][]byte
	add := func(node []byte) {
		hash := crypto.Keccak256Hash(node)
		if _, ok := seen[hash]; ok {
			return
		}
		seen[hash] = struct{}{}
		nodes = append(nodes, node)
	}
	for _, state := range states {
		for _, node := range state.AccountProof {
			add(node)
		}
		for _, storage := range state.StorageProofs {
			for _, node := range storage {
				add(node)
			}
		}
	}
	if blockHashes == nil {
		blockHashes = make(map[uint64]common.Hash)
	}
	return New(block, Data{
		ChainID:       chainID,
		PrevStateRoot: prevStateRoot,
		BlockHashes:   blockHashes,
		MptNodes:      nodes,
		Codes:         codes,
	})
}

// AppendNodes adds witness nodes recorded after sealing (the reduction
// fill) and restores the sort order.
func (p *Pob) AppendNodes(nodes [][]byte) {
	seen := make(map[common.Hash]struct{}, len(p.Data.MptNodes))
	for _, node := range p.Data.MptNodes {
		seen[crypto.Keccak256Hash(node)] = struct{}{}
	}
	for _, node := range nodes {
		hash := crypto.Keccak256Hash(node)
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		p.Data.MptNodes = append(p.Data.MptNodes, node)
	}
	sortNodes(p.Data.MptNodes)
}

// StateHash is the canonical witness identifier: keccak over the sorted
// node concatenation.
func (p *Pob) StateHash() common.Hash {
	hasher := crypto.NewKeccakState()
	for _, node := range p.Data.MptNodes {
		hasher.Write(node)
	}
	var out common.Hash
	hasher.Read(out[:])
	return out
}

// BlockHash is the sealed block's hash.
func (p *Pob) BlockHash() common.Hash {
	return p.Block.Hash()
}

type blockHashEntry struct {
	Number uint64
	Hash   common.Hash
}

// rlpData is the wire layout of Data: the block-hash map flattens to a
// number-sorted pair list.
type rlpData struct {
	ChainID       uint64
	PrevStateRoot common.Hash
	BlockHashes   []blockHashEntry
	MptNodes      [][]byte
	Codes         [][]byte
}

func (d *Data) EncodeRLP(w io.Writer) error {
	entries := make([]blockHashEntry, 0, len(d.BlockHashes))
	for number, hash := range d.BlockHashes {
		entries = append(entries, blockHashEntry{Number: number, Hash: hash})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Number < entries[j].Number })
	return rlp.Encode(w, &rlpData{
		ChainID:       d.ChainID,
		PrevStateRoot: d.PrevStateRoot,
		BlockHashes:   entries,
		MptNodes:      d.MptNodes,
		Codes:         d.Codes,
	})
}

func (d *Data) DecodeRLP(s *rlp.Stream) error {
	var dec rlpData
	if err := s.Decode(&dec); err != nil {
		return err
	}
	hashes := make(map[uint64]common.Hash, len(dec.BlockHashes))
	for _, entry := range dec.BlockHashes {
		hashes[entry.Number] = entry.Hash
	}
	*d = Data{
		ChainID:       dec.ChainID,
		PrevStateRoot: dec.PrevStateRoot,
		BlockHashes:   hashes,
		MptNodes:      dec.MptNodes,
		Codes:         dec.Codes,
	}
	return nil
}
