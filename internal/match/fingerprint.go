// Package match implements template matching: canonical fingerprinting,
// exact lookup, and LSH-accelerated cosine similarity over structural
// feature vectors.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/clearproof/preflight/internal/core"
)

// Fingerprint is SHA256 over the RFC 8785 canonical JSON of the structural
// features. Feature identity IS the fingerprint: two feature sets that
// serialise identically are the same template identity. Bounding boxes are
// excluded; they vary per document while the coarse layout does not.
func Fingerprint(f core.StructuralFeatures) (string, error) {
	f.BoundingBoxes = nil
	raw, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshal features: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalise features: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
