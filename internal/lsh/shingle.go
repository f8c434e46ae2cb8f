// Package lsh provides MinHash locality-sensitive hashing over template
// structural features, giving the matcher O(1) expected candidate retrieval
// through a banded index in the shared cache.
package lsh

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/clearproof/preflight/internal/core"
)

// Shingle bucket widths. Coarse numeric features bucketise so near-identical
// layouts share tokens; already-normalised floats bucket by 0.1.
const (
	elementCountBucket = 10
	textBlockBucket    = 5
	floatBucket        = 0.1
)

// Shingles tokenises features into a set of 32-bit integers: bucketised
// numeric features, presence flags and a few combination tokens that bind
// density to complexity and the overall structure shape.
func Shingles(f core.StructuralFeatures) map[uint32]struct{} {
	set := make(map[uint32]struct{}, 16)
	add := func(name string, bucket int) {
		set[token(name, bucket)] = struct{}{}
	}

	add("element_count", f.ElementCount/elementCountBucket)
	add("text_block_count", f.TextBlockCount/textBlockBucket)
	add("text_density", floatBucketOf(f.TextDensity))
	add("layout_complexity", floatBucketOf(f.LayoutComplexity))
	add("table_count", f.TableCount)
	add("image_count", f.ImageCount)
	add("page_count", f.PageCount)
	add("column_count", f.ColumnCount)

	if f.TableCount > 0 {
		add("has_tables", 1)
	}
	if f.ImageCount > 0 {
		add("has_images", 1)
	}
	if f.ColumnCount > 1 {
		add("multi_column", 1)
	}
	if f.HasHeader {
		add("has_header", 1)
	}
	if f.HasFooter {
		add("has_footer", 1)
	}

	// Combination tokens: density×complexity and a structure signature that
	// captures the coarse shape in one token.
	add("density_complexity", floatBucketOf(f.TextDensity)*100+floatBucketOf(f.LayoutComplexity))
	structure := fmt.Sprintf("t%d-i%d-c%d-p%d",
		f.TableCount, f.ImageCount, f.ColumnCount, f.PageCount)
	set[token(structure, 0)] = struct{}{}

	return set
}

func floatBucketOf(v float64) int {
	return int(math.Floor(v / floatBucket))
}

// token hashes a (name, bucket) pair to a 32-bit shingle.
func token(name string, bucket int) uint32 {
	sum := xxhash.Sum64String(fmt.Sprintf("%s:%d", name, bucket))
	return uint32(sum)
}
