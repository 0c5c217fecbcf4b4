// Package mimc implements the MiMC hash used by the Linea state trie: a
// Miyaguchi-Preneel construction over the BLS12-377 scalar field with 62
// rounds and an x^17 round permutation. The round constants are derived
// by iterated keccak over the ASCII seed, matching the circuit the
// rollup proves against.
package mimc

import (
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/ethereum/go-ethereum/crypto"
)

// BlockSize is the sponge block width: one field element.
const BlockSize = fr.Bytes

const nbRounds = 62

const seed = "seed"

var roundConstants = initConstants()

func initConstants() [nbRounds]fr.Element {
	var constants [nbRounds]fr.Element

	rnd := crypto.Keccak256([]byte(seed))
	// the first digest is discarded
	rnd = crypto.Keccak256(rnd)
	for i := range constants {
		constants[i].SetBytes(rnd)
		rnd = crypto.Keccak256(rnd)
	}
	return constants
}

// ErrInvalidLength reports input that is not a whole number of field
// elements after short-input padding.
var ErrInvalidLength = errors.New("mimc: input must be a multiple of the block size")

// Sum hashes msg and returns the 32-byte big-endian digest. Inputs
// shorter than one block are left-padded with zeros to a full block;
// longer inputs must be an exact multiple of BlockSize. Sum(nil) is the
// zero digest.
func Sum(msg []byte) ([32]byte, error) {
	var d Digest
	if _, err := d.Write(msg); err != nil {
		return [32]byte{}, err
	}
	sum := d.Checksum()
	return sum.Bytes(), nil
}

// SumHash is Sum for callers that know the input is block-aligned.
func SumHash(msg []byte) [32]byte {
	h, err := Sum(msg)
	if err != nil {
		panic(err)
	}
	return h
}

// Digest accumulates field elements to be absorbed by Checksum.
type Digest struct {
	data []fr.Element
}

// Write splits p into 32-byte big-endian field elements. A single short
// chunk is zero-padded on the left, as the circuit does for sub-word
// values.
func (d *Digest) Write(p []byte) (int, error) {
	if len(p) > 0 && len(p) < BlockSize {
		padded := make([]byte, BlockSize)
		copy(padded[BlockSize-len(p):], p)
		p = padded
	}
	if len(p)%BlockSize != 0 {
		return 0, ErrInvalidLength
	}
	for i := 0; i < len(p); i += BlockSize {
		var e fr.Element
		e.SetBytes(p[i : i+BlockSize])
		d.data = append(d.data, e)
	}
	return len(p), nil
}

// Checksum folds the absorbed elements in Miyaguchi-Preneel mode:
// h' = h + E_h(m) + m.
func (d *Digest) Checksum() fr.Element {
	var hash fr.Element
	for i := range d.data {
		r := encrypt(&hash, d.data[i])
		hash.Add(&hash, &r)
		hash.Add(&hash, &d.data[i])
	}
	return hash
}

// encrypt runs the 62-round keyed permutation. Each round computes
// t = h + m + c and maps m to t^17; the key is folded back in at the
// end.
func encrypt(hash *fr.Element, m fr.Element) fr.Element {
	var tmp fr.Element
	for r := range roundConstants {
		tmp.Add(hash, &m)
		tmp.Add(&tmp, &roundConstants[r])

		m = tmp
		m.Square(&m)
		m.Square(&m)
		m.Square(&m)
		m.Square(&m)
		m.Mul(&m, &tmp)
	}
	m.Add(&m, hash)
	return m
}
