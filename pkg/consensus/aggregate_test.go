package consensus

import (
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verdict/pkg/contracts"
)

func sig(address, sigHex string) contracts.VerifierSignature {
	return contracts.VerifierSignature{Address: address, Signature: sigHex}
}

func TestAggregateSignatures_OrderedByAddress(t *testing.T) {
	out, err := AggregateSignatures([]contracts.VerifierSignature{
		sig("0xcc", "cccc"),
		sig("0xaa", "aaaa"),
		sig("0xbb", "bbbb"),
	})
	require.NoError(t, err)
	assert.Equal(t, "aaaabbbbcccc", out)
}

func TestAggregateSignatures_Empty(t *testing.T) {
	out, err := AggregateSignatures(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAggregateSignatures_RejectsNonHex(t *testing.T) {
	_, err := AggregateSignatures([]contracts.VerifierSignature{sig("0xaa", "not-hex")})
	assert.Error(t, err)
}

func TestAggregateSignatures_InputUnmodified(t *testing.T) {
	in := []contracts.VerifierSignature{sig("0xbb", "bbbb"), sig("0xaa", "aaaa")}
	_, err := AggregateSignatures(in)
	require.NoError(t, err)
	assert.Equal(t, "0xbb", in[0].Address, "caller's slice must not be reordered")
}

// TestAggregateSignatures_PermutationInvariant checks the property that any
// shuffled ordering of the same signature set aggregates to byte-identical
// output.
func TestAggregateSignatures_PermutationInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("aggregation is invariant under permutation", prop.ForAll(
		func(n int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))

			set := make([]contracts.VerifierSignature, n)
			for i := range set {
				addr := make([]byte, 20)
				raw := make([]byte, 64)
				rng.Read(addr)
				rng.Read(raw)
				set[i] = sig("0x"+hex.EncodeToString(addr), hex.EncodeToString(raw))
			}

			base, err := AggregateSignatures(set)
			if err != nil {
				return false
			}

			shuffled := make([]contracts.VerifierSignature, n)
			copy(shuffled, set)
			rng.Shuffle(n, func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			again, err := AggregateSignatures(shuffled)
			return err == nil && again == base
		},
		gen.IntRange(0, 11),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
