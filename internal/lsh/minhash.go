package lsh

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

const (
	// SignatureLen is the number of universal hash functions, split into
	// Bands bands of RowsPerBand rows for the banded index.
	SignatureLen = 128
	Bands        = 8
	RowsPerBand  = 16

	// mersennePrime is 2^61-1, the modulus of the universal hash family.
	mersennePrime uint64 = (1 << 61) - 1

	// coefficientSeed fixes the hash family across restarts so signatures
	// computed before and after a deploy remain comparable.
	coefficientSeed = 0x1d0c5f3a9e
)

// family is the fixed universal hash family h_i(x) = (a_i*x + b_i) mod p.
type family struct {
	a [SignatureLen]uint64
	b [SignatureLen]uint64
}

var hashFamily = newFamily()

// hash evaluates h_i(x) = (a_i*x + b_i) mod p without 64-bit wraparound.
// The full 128-bit product is folded with 2^64 ≡ 8 (mod p); x is a 32-bit
// shingle, so the folded sum stays below 2p and one subtraction suffices.
func (f *family) hash(i int, x uint64) uint64 {
	hi, lo := bits.Mul64(f.a[i], x)
	r := (lo & mersennePrime) + (hi<<3 | lo>>61)
	if r >= mersennePrime {
		r -= mersennePrime
	}
	r += f.b[i]
	if r >= mersennePrime {
		r -= mersennePrime
	}
	return r
}

func newFamily() *family {
	rng := rand.New(rand.NewSource(coefficientSeed))
	f := &family{}
	for i := 0; i < SignatureLen; i++ {
		// a must be non-zero for the family to be universal.
		f.a[i] = rng.Uint64()%(mersennePrime-1) + 1
		f.b[i] = rng.Uint64() % mersennePrime
	}
	return f
}

// Signature is a 128-slot MinHash sketch of a shingle set.
type Signature [SignatureLen]uint64

// ComputeSignature takes the elementwise minimum of each hash function over
// all shingles. The empty set signs as all-p, which estimates zero overlap
// with everything.
func ComputeSignature(shingles map[uint32]struct{}) Signature {
	var sig Signature
	for i := range sig {
		sig[i] = mersennePrime
	}
	for s := range shingles {
		x := uint64(s)
		for i := 0; i < SignatureLen; i++ {
			if h := hashFamily.hash(i, x); h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// Estimate is the Jaccard similarity estimate between two signatures:
// the fraction of agreeing slots.
func Estimate(a, b Signature) float64 {
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(SignatureLen)
}

// BandKeys hashes each band of 16 rows to a 128-bit key, hex-encoded.
func BandKeys(sig Signature) [Bands]string {
	var keys [Bands]string
	buf := make([]byte, RowsPerBand*8)
	for b := 0; b < Bands; b++ {
		for r := 0; r < RowsPerBand; r++ {
			binary.BigEndian.PutUint64(buf[r*8:], sig[b*RowsPerBand+r])
		}
		hi := xxhash.Sum64(buf)
		lo := xxhash.Sum64(append([]byte{byte(b)}, buf...))
		keys[b] = fmt.Sprintf("%016x%016x", hi, lo)
	}
	return keys
}

// Pack serialises a signature for cache storage.
func Pack(sig Signature) []byte {
	out := make([]byte, SignatureLen*8)
	for i, v := range sig {
		binary.BigEndian.PutUint64(out[i*8:], v)
	}
	return out
}

// Unpack deserialises a stored signature.
func Unpack(data []byte) (Signature, error) {
	var sig Signature
	if len(data) != SignatureLen*8 {
		return sig, fmt.Errorf("lsh: signature blob has %d bytes, want %d", len(data), SignatureLen*8)
	}
	for i := range sig {
		sig[i] = binary.BigEndian.Uint64(data[i*8:])
	}
	return sig, nil
}
