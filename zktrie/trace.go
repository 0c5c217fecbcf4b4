package zktrie

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Trace type discriminators, big-endian 4-byte values in the outer RLP
// envelope.
const (
	TraceTypeRead uint32 = iota
	TraceTypeReadZero
	TraceTypeInsertion
	TraceTypeUpdate
	TraceTypeDeletion
)

// Trace is one replayed trie operation from the state manager: the old
// state it applied to, the key it touched, the witnessed key range, and
// every node needed to replay it.
type Trace interface {
	// OldState returns the pre-operation allocator counter and sub-root.
	OldState() (nextFreeNode uint64, subRoot common.Hash)
	// Key returns the touched key.
	Key() []byte
	// Location identifies the trie: empty for the account trie, the
	// account location for a storage trie.
	Location() []byte
	// KeyRange returns the witnessed neighbor indices (and the match,
	// when present).
	KeyRange() KeyRange
	// Nodes rebuilds every node along the trace's Merkle proofs.
	Nodes() []*Node
}

// OldTopHash is the synthetic root hash a trace applied to.
func OldTopHash(t Trace) common.Hash {
	nextFree, subRoot := t.OldState()
	return TopNode(nextFree, subRoot).Hash()
}

// TraceProof is a Merkle opening inside a trace: the leaf index and the
// sibling hashes ordered from the leaf up to the sub-root.
type TraceProof struct {
	LeafIndex uint64
	Siblings  []common.Hash
}

// BuildNodes rebuilds the nodes along the proof; leaf is nil for the
// absence (empty leaf) form.
func (p *TraceProof) BuildNodes(leaf *LeafOpening) []*Node {
	nodes, _ := buildProofNodes(p.LeafIndex, leaf, p.Siblings)
	return nodes
}

// ReadTrace witnesses a present key.
type ReadTrace struct {
	TraceLocation []byte
	NextFreeNode  uint64
	SubRoot       common.Hash
	Leaf          LeafOpening
	Proof         TraceProof
	TraceKey      []byte
	Value         []byte
}

func (t *ReadTrace) OldState() (uint64, common.Hash) { return t.NextFreeNode, t.SubRoot }
func (t *ReadTrace) Key() []byte                     { return t.TraceKey }
func (t *ReadTrace) Location() []byte                { return t.TraceLocation }

func (t *ReadTrace) KeyRange() KeyRange {
	return KeyRange{
		LeftIndex:  t.Leaf.PrevLeaf,
		Center:     &FlattenedLeaf{LeafIndex: t.Proof.LeafIndex, LeafValue: t.Value},
		RightIndex: t.Leaf.NextLeaf,
	}
}

func (t *ReadTrace) Nodes() []*Node {
	return t.Proof.BuildNodes(&t.Leaf)
}

// ReadZeroTrace witnesses an absent key via its two neighbors.
type ReadZeroTrace struct {
	TraceLocation []byte
	NextFreeNode  uint64
	SubRoot       common.Hash
	LeftLeaf      LeafOpening
	RightLeaf     LeafOpening
	LeftProof     TraceProof
	RightProof    TraceProof
	TraceKey      []byte
}

func (t *ReadZeroTrace) OldState() (uint64, common.Hash) { return t.NextFreeNode, t.SubRoot }
func (t *ReadZeroTrace) Key() []byte                     { return t.TraceKey }
func (t *ReadZeroTrace) Location() []byte                { return t.TraceLocation }

func (t *ReadZeroTrace) KeyRange() KeyRange {
	return KeyRange{LeftIndex: t.LeftProof.LeafIndex, RightIndex: t.RightProof.LeafIndex}
}

func (t *ReadZeroTrace) Nodes() []*Node {
	var out []*Node
	out = append(out, t.LeftProof.BuildNodes(&t.LeftLeaf)...)
	out = append(out, t.RightProof.BuildNodes(&t.RightLeaf)...)
	return out
}

// UpdateTrace witnesses an in-place value change.
type UpdateTrace struct {
	TraceLocation   []byte
	NextFreeNode    uint64
	OldSubRoot      common.Hash
	NewSubRoot      common.Hash
	Proof           TraceProof
	TraceKey        []byte
	OldValue        []byte
	NewValue        []byte
	PriorUpdateLeaf LeafOpening
}

func (t *UpdateTrace) OldState() (uint64, common.Hash) { return t.NextFreeNode, t.OldSubRoot }
func (t *UpdateTrace) Key() []byte                     { return t.TraceKey }
func (t *UpdateTrace) Location() []byte                { return t.TraceLocation }

func (t *UpdateTrace) KeyRange() KeyRange {
	return KeyRange{
		LeftIndex:  t.PriorUpdateLeaf.PrevLeaf,
		Center:     &FlattenedLeaf{LeafIndex: t.Proof.LeafIndex, LeafValue: t.OldValue},
		RightIndex: t.PriorUpdateLeaf.NextLeaf,
	}
}

func (t *UpdateTrace) Nodes() []*Node {
	return t.Proof.BuildNodes(&t.PriorUpdateLeaf)
}

// InsertionTrace witnesses a new leaf spliced between two neighbors.
type InsertionTrace struct {
	TraceLocation   []byte
	NewNextFreeNode uint64
	OldSubRoot      common.Hash
	NewSubRoot      common.Hash
	LeftProof       TraceProof
	NewProof        TraceProof
	RightProof      TraceProof
	TraceKey        []byte
	Value           []byte
	PriorLeftLeaf   LeafOpening
	PriorRightLeaf  LeafOpening
}

func (t *InsertionTrace) OldState() (uint64, common.Hash) {
	return t.NewNextFreeNode - 1, t.OldSubRoot
}
func (t *InsertionTrace) Key() []byte      { return t.TraceKey }
func (t *InsertionTrace) Location() []byte { return t.TraceLocation }

func (t *InsertionTrace) KeyRange() KeyRange {
	return KeyRange{LeftIndex: t.LeftProof.LeafIndex, RightIndex: t.RightProof.LeafIndex}
}

func (t *InsertionTrace) Nodes() []*Node {
	var out []*Node
	out = append(out, t.LeftProof.BuildNodes(&t.PriorLeftLeaf)...)
	out = append(out, t.NewProof.BuildNodes(nil)...)
	out = append(out, t.RightProof.BuildNodes(&t.PriorRightLeaf)...)
	return out
}

// DeletionTrace witnesses a leaf removal and the neighbor splice.
type DeletionTrace struct {
	TraceLocation   []byte
	NextFreeNode    uint64
	OldSubRoot      common.Hash
	NewSubRoot      common.Hash
	LeftProof       TraceProof
	DeleteProof     TraceProof
	RightProof      TraceProof
	TraceKey        []byte
	DeleteValue     []byte
	PriorLeftLeaf   LeafOpening
	PriorDeleteLeaf LeafOpening
	PriorRightLeaf  LeafOpening
}

func (t *DeletionTrace) OldState() (uint64, common.Hash) { return t.NextFreeNode, t.OldSubRoot }
func (t *DeletionTrace) Key() []byte                     { return t.TraceKey }
func (t *DeletionTrace) Location() []byte                { return t.TraceLocation }

func (t *DeletionTrace) KeyRange() KeyRange {
	return KeyRange{
		LeftIndex:  t.PriorDeleteLeaf.PrevLeaf,
		Center:     &FlattenedLeaf{LeafIndex: t.DeleteProof.LeafIndex, LeafValue: t.DeleteValue},
		RightIndex: t.PriorDeleteLeaf.NextLeaf,
	}
}

func (t *DeletionTrace) Nodes() []*Node {
	var out []*Node
	out = append(out, t.LeftProof.BuildNodes(&t.PriorLeftLeaf)...)
	out = append(out, t.DeleteProof.BuildNodes(&t.PriorDeleteLeaf)...)
	out = append(out, t.RightProof.BuildNodes(&t.PriorRightLeaf)...)
	return out
}

// DecodeTrace decodes one RLP trace envelope:
// [[type:4-byte-BE, payload]].
func DecodeTrace(data []byte) (Trace, error) {
	s := rlp.NewStream(bytes.NewReader(data), uint64(len(data)))
	if _, err := s.List(); err != nil {
		return nil, fmt.Errorf("zktrie: trace envelope: %w", err)
	}
	if _, err := s.List(); err != nil {
		return nil, fmt.Errorf("zktrie: trace body: %w", err)
	}
	tyBytes, err := s.Bytes()
	if err != nil {
		return nil, fmt.Errorf("zktrie: trace type: %w", err)
	}
	if len(tyBytes) != 4 {
		return nil, fmt.Errorf("zktrie: trace type must be 4 bytes, got %d", len(tyBytes))
	}
	ty := binary.BigEndian.Uint32(tyBytes)

	var trace Trace
	switch ty {
	case TraceTypeRead:
		trace = new(ReadTrace)
	case TraceTypeReadZero:
		trace = new(ReadZeroTrace)
	case TraceTypeInsertion:
		trace = new(InsertionTrace)
	case TraceTypeUpdate:
		trace = new(UpdateTrace)
	case TraceTypeDeletion:
		trace = new(DeletionTrace)
	default:
		return nil, fmt.Errorf("zktrie: unknown trace type %d", ty)
	}
	if err := s.Decode(trace); err != nil {
		return nil, fmt.Errorf("zktrie: trace payload: %w", err)
	}
	return trace, nil
}

// DecodeTraces decodes a batch of trace envelopes.
func DecodeTraces(items [][]byte) ([]Trace, error) {
	out := make([]Trace, 0, len(items))
	for i, item := range items {
		trace, err := DecodeTrace(item)
		if err != nil {
			return nil, fmt.Errorf("trace %d: %w", i, err)
		}
		out = append(out, trace)
	}
	return out, nil
}
