package lsh

import (
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/core"
)

func invoiceFeatures() core.StructuralFeatures {
	return core.StructuralFeatures{
		ElementCount:     120,
		TableCount:       2,
		TextBlockCount:   45,
		ImageCount:       1,
		PageCount:        2,
		TextDensity:      0.42,
		LayoutComplexity: 0.55,
		ColumnCount:      2,
		HasHeader:        true,
		HasFooter:        true,
	}
}

func TestSignature_DeterministicAcrossCalls(t *testing.T) {
	f := invoiceFeatures()
	a := ComputeSignature(Shingles(f))
	b := ComputeSignature(Shingles(f))
	assert.Equal(t, a, b, "same features must produce the same signature")
}

func TestSignature_IdenticalFeaturesEstimateOne(t *testing.T) {
	sig := ComputeSignature(Shingles(invoiceFeatures()))
	assert.Equal(t, 1.0, Estimate(sig, sig))
}

func TestSignature_EmptySetIsAllPrime(t *testing.T) {
	sig := ComputeSignature(nil)
	for i, v := range sig {
		require.Equal(t, mersennePrime, v, "slot %d", i)
	}
}

func TestHash_MatchesModularReference(t *testing.T) {
	p := new(big.Int).SetUint64(mersennePrime)
	ref := func(a, b, x uint64) uint64 {
		v := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(x))
		v.Add(v, new(big.Int).SetUint64(b))
		return v.Mod(v, p).Uint64()
	}

	f := &family{}
	f.a[0] = mersennePrime - 1
	f.b[0] = mersennePrime - 1
	x := uint64(math.MaxUint32)
	require.Equal(t, ref(f.a[0], f.b[0], x), f.hash(0, x),
		"maximal coefficients overflow a plain 64-bit multiply")

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < SignatureLen; i++ {
		f.a[i] = rng.Uint64()%(mersennePrime-1) + 1
		f.b[i] = rng.Uint64() % mersennePrime
	}
	for n := 0; n < 200; n++ {
		i := rng.Intn(SignatureLen)
		x := uint64(rng.Uint32())
		got := f.hash(i, x)
		require.Less(t, got, mersennePrime)
		require.Equal(t, ref(f.a[i], f.b[i], x), got)
	}
}

func TestEstimate_SimilarFeaturesScoreHigherThanDissimilar(t *testing.T) {
	base := ComputeSignature(Shingles(invoiceFeatures()))

	near := invoiceFeatures()
	near.ElementCount = 124 // same bucket of 10? 120/10=12, 124/10=12
	nearSig := ComputeSignature(Shingles(near))

	far := core.StructuralFeatures{
		ElementCount:     900,
		TableCount:       0,
		TextBlockCount:   300,
		PageCount:        40,
		TextDensity:      0.05,
		LayoutComplexity: 0.95,
		ColumnCount:      1,
	}
	farSig := ComputeSignature(Shingles(far))

	assert.Greater(t, Estimate(base, nearSig), Estimate(base, farSig))
}

func TestBandKeys_StableAndDistinctPerBand(t *testing.T) {
	sig := ComputeSignature(Shingles(invoiceFeatures()))
	a := BandKeys(sig)
	b := BandKeys(sig)
	assert.Equal(t, a, b)
	for _, k := range a {
		assert.Len(t, k, 32, "band key is 128 bits hex-encoded")
	}
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	sig := ComputeSignature(Shingles(invoiceFeatures()))
	got, err := Unpack(Pack(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, got)
}

func TestUnpack_RejectsWrongLength(t *testing.T) {
	_, err := Unpack([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestShingles_PresenceTokens(t *testing.T) {
	with := invoiceFeatures()
	without := invoiceFeatures()
	without.TableCount = 0
	without.ImageCount = 0
	without.ColumnCount = 1

	a := Shingles(with)
	b := Shingles(without)
	assert.NotEqual(t, len(a), 0)
	assert.NotEqual(t, a, b, "presence flags must alter the shingle set")
}
