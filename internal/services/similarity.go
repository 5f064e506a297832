package services

import (
	"math"
	"sort"
	"strings"

	"github.com/yungbote/resonance-backend/internal/taxonomy"
)

// Similarity constants. EmptyTagSimilarity is returned by Combined when
// exactly one side has no tags: an empty profile is unknown, not opposite.
const (
	EmptyTagSimilarity          = 0.1
	UncategorizedPairSimilarity = 0.5
)

// SimilarityCalculator computes tag-set similarity. All methods are pure:
// order of tags is irrelevant and duplicates are removed up front.
type SimilarityCalculator struct {
	tax *taxonomy.Taxonomy
}

func NewSimilarityCalculator(tax *taxonomy.Taxonomy) *SimilarityCalculator {
	return &SimilarityCalculator{tax: tax}
}

// normalizeTagSet lowercases, trims, and dedupes a tag list into a sorted
// slice.
func normalizeTagSet(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Jaccard is |A∩B| / |A∪B|. Two empty sets are identical (1); exactly one
// empty set shares nothing (0).
func (sc *SimilarityCalculator) Jaccard(tagsA, tagsB []string) float64 {
	a := normalizeTagSet(tagsA)
	b := normalizeTagSet(tagsB)
	return jaccard(a, b)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	intersection := 0
	for _, t := range b {
		if _, ok := setA[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

// WeightedCosine treats each tag set as a weighted presence vector over the
// union vocabulary, using the taxonomy's per-tag weights (default 1.0).
// Returns 0 when either vector has zero norm.
func (sc *SimilarityCalculator) WeightedCosine(tagsA, tagsB []string) float64 {
	a := normalizeTagSet(tagsA)
	b := normalizeTagSet(tagsB)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	vocab := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		vocab[t] = struct{}{}
	}
	for _, t := range b {
		vocab[t] = struct{}{}
	}

	var dot, normA, normB float64
	for t := range vocab {
		w := sc.tax.Weight(t)
		var va, vb float64
		if _, ok := setA[t]; ok {
			va = w
		}
		if _, ok := setB[t]; ok {
			vb = w
		}
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CategorySimilarity is Jaccard over the category sets induced by the two
// tag sets. When neither side maps to any known category the answer is the
// neutral 0.5, never 0: uncategorized is unknown, not dissimilar.
func (sc *SimilarityCalculator) CategorySimilarity(tagsA, tagsB []string) float64 {
	catsA := sc.tax.CategoriesOf(normalizeTagSet(tagsA))
	catsB := sc.tax.CategoriesOf(normalizeTagSet(tagsB))
	if len(catsA) == 0 && len(catsB) == 0 {
		return UncategorizedPairSimilarity
	}
	return jaccard(catsA, catsB)
}

// Combined is the equal-weighted average of the three variants, clamped to
// [0,1]. When exactly one tag set is empty it returns EmptyTagSimilarity.
func (sc *SimilarityCalculator) Combined(tagsA, tagsB []string) float64 {
	a := normalizeTagSet(tagsA)
	b := normalizeTagSet(tagsB)
	if (len(a) == 0) != (len(b) == 0) {
		return EmptyTagSimilarity
	}

	sum := jaccard(a, b) + sc.WeightedCosine(a, b) + sc.CategorySimilarity(a, b)
	return clamp01(sum / 3)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
