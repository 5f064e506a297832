package services

import (
	"math"
	"sort"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/taxonomy"
	"github.com/yungbote/resonance-backend/internal/types"
)

// DiversityConfig holds the share caps and coverage target used when scoring
// and constraining a member set.
type DiversityConfig struct {
	// TagCap is the maximum share of members any single tag may cover
	// before admissions start getting rejected.
	TagCap float64
	// CategoryCap is the same cap at category granularity.
	CategoryCap float64
	// MinUniqueTags is the unique-tag coverage target a set is scored
	// against.
	MinUniqueTags int
}

func DefaultDiversityConfig() DiversityConfig {
	return DiversityConfig{
		TagCap:        0.40,
		CategoryCap:   0.60,
		MinUniqueTags: 15,
	}
}

// DiversityBreakdown are the four components of a set's diversity score.
type DiversityBreakdown struct {
	TagCountScore         float64 `json:"tag_count_score"`
	CategoryCoverageScore float64 `json:"category_coverage_score"`
	TagEvennessScore      float64 `json:"tag_evenness_score"`
	CategoryEvennessScore float64 `json:"category_evenness_score"`
	Total                 float64 `json:"total"`
}

// DiversityEvaluator scores tag/category diversity of a member set and
// enforces per-tag and per-category share caps during selection.
type DiversityEvaluator struct {
	tax *taxonomy.Taxonomy
	log *logger.Logger
	cfg DiversityConfig
}

func NewDiversityEvaluator(tax *taxonomy.Taxonomy, baseLog *logger.Logger, cfg DiversityConfig) *DiversityEvaluator {
	return &DiversityEvaluator{
		tax: tax,
		log: baseLog.With("service", "DiversityEvaluator"),
		cfg: cfg,
	}
}

// Component weights of the total diversity score.
const (
	diversityWeightTagCount    = 0.30
	diversityWeightCatCoverage = 0.25
	diversityWeightTagEvenness = 0.25
	diversityWeightCatEvenness = 0.20
)

// tallies holds the per-tag and per-category member counts of a set.
type tallies struct {
	tagCounts map[string]int
	catCounts map[string]int
	members   int
}

func (de *DiversityEvaluator) tally(members []*types.User) tallies {
	t := tallies{
		tagCounts: make(map[string]int),
		catCounts: make(map[string]int),
		members:   len(members),
	}
	for _, m := range members {
		tags := normalizeTagSet(m.TagList())
		for _, tag := range tags {
			t.tagCounts[tag]++
		}
		for _, cat := range de.tax.CategoriesOf(tags) {
			t.catCounts[cat]++
		}
	}
	return t
}

// Score computes the set's diversity breakdown. TagCountScore is monotonic:
// a member introducing a previously unseen tag never decreases it.
func (de *DiversityEvaluator) Score(members []*types.User) DiversityBreakdown {
	if len(members) == 0 {
		return DiversityBreakdown{}
	}

	t := de.tally(members)

	tagCountScore := math.Min(1, float64(len(t.tagCounts))/float64(de.cfg.MinUniqueTags))

	catCoverage := 0.0
	if de.tax.CategoryCount() > 0 {
		catCoverage = float64(len(t.catCounts)) / float64(de.tax.CategoryCount())
	}

	tagEvenness := evenness(t.tagCounts, capCount(de.cfg.TagCap, t.members))
	catEvenness := evenness(t.catCounts, capCount(de.cfg.CategoryCap, t.members))

	b := DiversityBreakdown{
		TagCountScore:         tagCountScore,
		CategoryCoverageScore: catCoverage,
		TagEvennessScore:      tagEvenness,
		CategoryEvennessScore: catEvenness,
	}
	b.Total = clamp01(diversityWeightTagCount*b.TagCountScore +
		diversityWeightCatCoverage*b.CategoryCoverageScore +
		diversityWeightTagEvenness*b.TagEvennessScore +
		diversityWeightCatEvenness*b.CategoryEvennessScore)
	return b
}

func capCount(share float64, members int) int {
	c := int(math.Ceil(share * float64(members)))
	if c < 1 {
		c = 1
	}
	return c
}

// evenness penalizes counts exceeding the cap: 1 minus the capped overflow's
// share of all assignments. An empty tally is perfectly even.
func evenness(counts map[string]int, limit int) float64 {
	if len(counts) == 0 {
		return 1
	}
	total, overflow := 0, 0
	for _, c := range counts {
		total += c
		if c > limit {
			overflow += c - limit
		}
	}
	if total == 0 {
		return 1
	}
	return clamp01(1 - float64(overflow)/float64(total))
}

// Contribution scores how much a candidate would add to a set with the given
// tallies. Scarce tags and categories score high, saturated ones near zero.
func (de *DiversityEvaluator) Contribution(candidate *types.User, t tallies) float64 {
	tags := normalizeTagSet(candidate.TagList())
	if len(tags) == 0 {
		return 0
	}

	var tagScore float64
	for _, tag := range tags {
		tagScore += 1 / float64(1+t.tagCounts[tag])
	}
	tagScore /= float64(len(tags))

	cats := de.tax.CategoriesOf(tags)
	var catScore float64
	if len(cats) > 0 {
		for _, cat := range cats {
			catScore += 1 / float64(1+t.catCounts[cat])
		}
		catScore /= float64(len(cats))
	}

	return 0.7*tagScore + 0.3*catScore
}

// ApplyConstraints admits up to n candidates greedily by diversity
// contribution, rejecting admissions that would push a tag or category past
// its cap. If the capped pass cannot fill n seats, the remaining seats are
// back-filled by contribution regardless of caps: caps are soft once the
// pool is exhausted, and diversity alone never fails a formation.
func (de *DiversityEvaluator) ApplyConstraints(candidates []*types.User, n int) []*types.User {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	if n > len(candidates) {
		n = len(candidates)
	}

	tagCap := capCount(de.cfg.TagCap, n)
	catCap := capCount(de.cfg.CategoryCap, n)

	t := tallies{
		tagCounts: make(map[string]int),
		catCounts: make(map[string]int),
	}
	admitted := make([]*types.User, 0, n)
	remaining := make([]*types.User, len(candidates))
	copy(remaining, candidates)

	for len(admitted) < n && len(remaining) > 0 {
		// Pick the highest-contribution candidate against the current
		// tallies; ties break on id for determinism.
		bestIdx := -1
		var bestScore float64
		for i, c := range remaining {
			score := de.Contribution(c, t)
			if bestIdx == -1 || score > bestScore ||
				(score == bestScore && c.ID.String() < remaining[bestIdx].ID.String()) {
				bestIdx = i
				bestScore = score
			}
		}

		candidate := remaining[bestIdx]
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)

		if de.wouldExceedCaps(candidate, t, tagCap, catCap) {
			continue
		}
		de.admit(candidate, &t)
		admitted = append(admitted, candidate)
	}

	// Back-fill: caps go soft when the capped pass ran out of candidates.
	if len(admitted) < n {
		rejected := de.rejectedPool(candidates, admitted)
		sort.SliceStable(rejected, func(i, j int) bool {
			ci := de.Contribution(rejected[i], t)
			cj := de.Contribution(rejected[j], t)
			if ci != cj {
				return ci > cj
			}
			return rejected[i].ID.String() < rejected[j].ID.String()
		})
		for _, c := range rejected {
			if len(admitted) >= n {
				break
			}
			de.admit(c, &t)
			admitted = append(admitted, c)
		}
	}

	return admitted
}

func (de *DiversityEvaluator) wouldExceedCaps(candidate *types.User, t tallies, tagCap, catCap int) bool {
	tags := normalizeTagSet(candidate.TagList())
	for _, tag := range tags {
		if t.tagCounts[tag]+1 > tagCap {
			return true
		}
	}
	for _, cat := range de.tax.CategoriesOf(tags) {
		if t.catCounts[cat]+1 > catCap {
			return true
		}
	}
	return false
}

func (de *DiversityEvaluator) admit(candidate *types.User, t *tallies) {
	tags := normalizeTagSet(candidate.TagList())
	for _, tag := range tags {
		t.tagCounts[tag]++
	}
	for _, cat := range de.tax.CategoriesOf(tags) {
		t.catCounts[cat]++
	}
	t.members++
}

func (de *DiversityEvaluator) rejectedPool(candidates, admitted []*types.User) []*types.User {
	in := make(map[string]struct{}, len(admitted))
	for _, a := range admitted {
		in[a.ID.String()] = struct{}{}
	}
	var out []*types.User
	for _, c := range candidates {
		if _, ok := in[c.ID.String()]; !ok {
			out = append(out, c)
		}
	}
	return out
}
