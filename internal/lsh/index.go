package lsh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/clearproof/preflight/internal/cache"
	"github.com/clearproof/preflight/internal/core"
)

// ErrUnavailable signals the index cannot be reached; the matcher falls
// back to a full template scan.
var ErrUnavailable = errors.New("lsh: index unavailable")

// Cache keys:
//   lsh:band:{i}:{band_hash} -> set of template ids
//   lsh:sig:{template_id}    -> packed signature
//   lsh:template:{id}        -> metadata blob {tenant_id}
func bandKey(band int, hash string) string { return fmt.Sprintf("lsh:band:%d:%s", band, hash) }
func sigKey(id string) string              { return "lsh:sig:" + id }
func metaKey(id string) string             { return "lsh:template:" + id }

type templateMeta struct {
	TenantID string `json:"tenant_id"`
}

// Candidate is one query hit with its Jaccard estimate.
type Candidate struct {
	TemplateID string
	Similarity float64
}

// Index is the banded MinHash index over active templates.
type Index struct {
	cache  *cache.Client
	logger *slog.Logger
}

// NewIndex builds the index over the shared cache.
func NewIndex(c *cache.Client, logger *slog.Logger) *Index {
	return &Index{cache: c, logger: logger}
}

// Add indexes a template: one SADD per band plus signature and metadata,
// in a single pipeline round trip.
func (x *Index) Add(ctx context.Context, templateID, tenantID string, features core.StructuralFeatures) error {
	sig := ComputeSignature(Shingles(features))
	bands := BandKeys(sig)

	meta, err := json.Marshal(templateMeta{TenantID: tenantID})
	if err != nil {
		return fmt.Errorf("lsh: marshal metadata: %w", err)
	}

	err = x.cache.Pipeline(ctx, func(pipe redis.Pipeliner) error {
		for i, b := range bands {
			pipe.SAdd(ctx, bandKey(i, b), templateID)
		}
		pipe.Set(ctx, sigKey(templateID), Pack(sig), 0)
		pipe.Set(ctx, metaKey(templateID), meta, 0)
		return nil
	})
	return x.classify(err)
}

// Remove unindexes a template using its stored signature to locate bands.
func (x *Index) Remove(ctx context.Context, templateID string) error {
	blob, err := x.cache.Get(ctx, sigKey(templateID))
	if errors.Is(err, cache.ErrMiss) {
		return nil // never indexed, or already removed
	}
	if err != nil {
		return x.classify(err)
	}
	sig, err := Unpack(blob)
	if err != nil {
		return err
	}
	bands := BandKeys(sig)

	err = x.cache.Pipeline(ctx, func(pipe redis.Pipeliner) error {
		for i, b := range bands {
			pipe.SRem(ctx, bandKey(i, b), templateID)
		}
		pipe.Del(ctx, sigKey(templateID), metaKey(templateID))
		return nil
	})
	return x.classify(err)
}

// Query returns up to k candidates sharing at least one band with the
// feature vector, sorted by descending Jaccard estimate. Ties break
// lexicographically on template id so results are stable.
func (x *Index) Query(ctx context.Context, features core.StructuralFeatures, k int, tenantID string) ([]Candidate, error) {
	sig := ComputeSignature(Shingles(features))
	bands := BandKeys(sig)

	union := make(map[string]struct{})
	for i, b := range bands {
		members, err := x.cache.SMembers(ctx, bandKey(i, b))
		if err != nil {
			return nil, x.classify(err)
		}
		for _, m := range members {
			union[m] = struct{}{}
		}
	}
	if len(union) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(union))
	for id := range union {
		if tenantID != "" {
			metaBlob, err := x.cache.Get(ctx, metaKey(id))
			if errors.Is(err, cache.ErrMiss) {
				continue // index entry outlived its metadata; skip
			}
			if err != nil {
				return nil, x.classify(err)
			}
			var meta templateMeta
			if err := json.Unmarshal(metaBlob, &meta); err != nil {
				x.logger.Warn("lsh metadata corrupt, skipping candidate", "template_id", id)
				continue
			}
			if meta.TenantID != tenantID {
				continue
			}
		}

		blob, err := x.cache.Get(ctx, sigKey(id))
		if errors.Is(err, cache.ErrMiss) {
			continue
		}
		if err != nil {
			return nil, x.classify(err)
		}
		stored, err := Unpack(blob)
		if err != nil {
			x.logger.Warn("lsh signature corrupt, skipping candidate", "template_id", id)
			continue
		}
		candidates = append(candidates, Candidate{
			TemplateID: id,
			Similarity: Estimate(sig, stored),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].TemplateID < candidates[j].TemplateID
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (x *Index) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, cache.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
