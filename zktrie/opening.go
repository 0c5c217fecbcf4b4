package zktrie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// LeafOpening is the 128-byte payload of a value leaf. Openings form a
// doubly-linked list sorted by hashed key; the head and tail sentinels
// are installed when a trie is created empty.
type LeafOpening struct {
	PrevLeaf uint64
	NextLeaf uint64
	HKey     common.Hash
	HVal     common.Hash
}

// tailHKey is the upper sentinel key: the largest element of the
// BLS12-377 scalar field, so no MiMC digest sorts above it.
var tailHKey = common.HexToHash("0x12ab655e9a2ca55660b44d1e5c37b00159aa76fed00000010a11800000000000")

// HeadOpening returns the lower sentinel (hkey zero, index 0).
func HeadOpening() LeafOpening {
	return LeafOpening{PrevLeaf: 0, NextLeaf: 1}
}

// TailOpening returns the upper sentinel (index 1).
func TailOpening() LeafOpening {
	return LeafOpening{PrevLeaf: 0, NextLeaf: 1, HKey: tailHKey}
}

// ParseLeafOpening decodes the fixed 128-byte layout
// (prev ‖ next ‖ hkey ‖ hval, each 32 bytes big-endian).
func ParseLeafOpening(buf []byte) (LeafOpening, error) {
	if len(buf) != 128 {
		return LeafOpening{}, fmt.Errorf("zktrie: leaf opening must be 128 bytes, got %d", len(buf))
	}
	return LeafOpening{
		PrevLeaf: ParseNodeIndex(buf[:32]),
		NextLeaf: ParseNodeIndex(buf[32:64]),
		HKey:     common.BytesToHash(buf[64:96]),
		HVal:     common.BytesToHash(buf[96:128]),
	}, nil
}

// Bytes serializes the opening into its 128-byte layout.
func (l LeafOpening) Bytes() []byte {
	out := make([]byte, 128)
	copy(out[:32], FormatNodeIndex(l.PrevLeaf).Bytes())
	copy(out[32:64], FormatNodeIndex(l.NextLeaf).Bytes())
	copy(out[64:96], l.HKey[:])
	copy(out[96:128], l.HVal[:])
	return out
}

// WithHVal returns a copy with the value hash replaced.
func (l LeafOpening) WithHVal(hval common.Hash) LeafOpening {
	l.HVal = hval
	return l
}

// WithNextLeaf returns a copy with the next pointer replaced.
func (l LeafOpening) WithNextLeaf(next uint64) LeafOpening {
	l.NextLeaf = next
	return l
}

// WithPrevLeaf returns a copy with the prev pointer replaced.
func (l LeafOpening) WithPrevLeaf(prev uint64) LeafOpening {
	l.PrevLeaf = prev
	return l
}

// DecodeRLP decodes an opening wrapped as an RLP byte string, the form
// the trace stream uses.
func (l *LeafOpening) DecodeRLP(s *rlp.Stream) error {
	buf, err := s.Bytes()
	if err != nil {
		return err
	}
	opening, err := ParseLeafOpening(buf)
	if err != nil {
		return err
	}
	*l = opening
	return nil
}
