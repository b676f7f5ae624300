package consensus

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/verdict/pkg/contracts"
)

// AggregateSignatures concatenates the signature bytes of a round sorted by
// ascending verifier address. The output depends only on the set, never on
// arrival order, so the same quorum resubmitted later aggregates to an
// identical payload.
func AggregateSignatures(signatures []contracts.VerifierSignature) (string, error) {
	sorted := make([]contracts.VerifierSignature, len(signatures))
	copy(sorted, signatures)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address < sorted[j].Address
	})

	var out []byte
	for _, s := range sorted {
		raw, err := hex.DecodeString(s.Signature)
		if err != nil {
			return "", fmt.Errorf("signature from %s is not valid hex: %w", s.VerifierID, err)
		}
		out = append(out, raw...)
	}
	return hex.EncodeToString(out), nil
}
