package services

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/repos"
	"github.com/yungbote/resonance-backend/internal/types"
)

// Tier buckets users by engagement. The partition is total: every user maps
// to exactly one tier.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Tier cut points over the composite activity score.
const (
	tierHighCut   = 0.8
	tierMediumCut = 0.5
)

// ActivityScore is a user's engagement level and its composite score.
type ActivityScore struct {
	Level Tier    `json:"level"`
	Score float64 `json:"score"`
}

// ScoredMember pairs a user with their activity score for balancing.
type ScoredMember struct {
	User     *types.User
	Activity ActivityScore
}

// TierRatios are the target composition of a balanced set.
type TierRatios struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultTierRatios is the 30/40/30 target composition.
func DefaultTierRatios() TierRatios {
	return TierRatios{High: 0.3, Medium: 0.4, Low: 0.3}
}

type ActivityService interface {
	Score(ctx context.Context, user *types.User) (ActivityScore, error)
	ScoreAll(ctx context.Context, users []*types.User) ([]ScoredMember, error)
	// Balance selects n members matching the target tier ratios:
	// floor(n*ratio) per tier, remainder to the largest tier, shortfalls
	// back-filled by score. Deterministic for a fixed input order.
	Balance(members []ScoredMember, target TierRatios, n int) []ScoredMember
	// BalanceScore is 1 - mean absolute deviation from the target ratios.
	BalanceScore(members []ScoredMember, target TierRatios) float64
	// Rebalance iteratively swaps members with pool candidates to improve
	// the balance score, bounded by maxIter, stopping early on exact match.
	Rebalance(selected, pool []ScoredMember, target TierRatios, maxIter int) []ScoredMember
}

// Sub-score weights for the composite activity score.
const (
	activityWeightDaysActive = 0.4
	activityWeightFrequency  = 0.3
	activityWeightRecency    = 0.2
	activityWeightCreation   = 0.1
)

// activityWindow bounds the frequency and creation lookups.
const activityWindow = 30 * 24 * time.Hour

// creationActionTypes are the actions that count as producing content.
var creationActionTypes = []string{types.ActionPost, types.ActionShare, types.ActionForward}

type activityService struct {
	db           *gorm.DB
	log          *logger.Logger
	interactions repos.InteractionRepo
	now          func() time.Time
}

func NewActivityService(db *gorm.DB, baseLog *logger.Logger, interactions repos.InteractionRepo) ActivityService {
	return &activityService{
		db:           db,
		log:          baseLog.With("service", "ActivityService"),
		interactions: interactions,
		now:          time.Now,
	}
}

// step maps a raw value to a sub-score via fixed breakpoints. The table is
// checked highest threshold first.
type step struct {
	threshold float64
	score     float64
}

var daysActiveSteps = []step{
	{365, 1.0},
	{180, 0.85},
	{90, 0.7},
	{30, 0.5},
	{7, 0.3},
	{1, 0.15},
}

var frequencySteps = []step{
	{100, 1.0},
	{50, 0.8},
	{20, 0.6},
	{5, 0.4},
	{1, 0.2},
}

// recency is measured in hours since last active; lower is better, so the
// table is checked lowest threshold first.
var recencySteps = []step{
	{1, 1.0},
	{6, 0.9},
	{24, 0.8},
	{72, 0.6},
	{168, 0.4},
	{336, 0.2},
}

var creationSteps = []step{
	{20, 1.0},
	{10, 0.8},
	{5, 0.6},
	{1, 0.3},
}

func stepDown(steps []step, value float64) float64 {
	for _, s := range steps {
		if value >= s.threshold {
			return s.score
		}
	}
	return 0
}

func stepUp(steps []step, value float64) float64 {
	for _, s := range steps {
		if value <= s.threshold {
			return s.score
		}
	}
	return 0
}

func (as *activityService) Score(ctx context.Context, user *types.User) (ActivityScore, error) {
	since := as.now().Add(-activityWindow)

	freqCount, err := as.interactions.CountByActorSince(ctx, nil, user.ID, since)
	if err != nil {
		return ActivityScore{}, err
	}
	creationCount, err := as.interactions.CountByActorSinceForActions(ctx, nil, user.ID, since, creationActionTypes)
	if err != nil {
		return ActivityScore{}, err
	}

	daysScore := stepDown(daysActiveSteps, float64(user.DaysActive))
	freqScore := stepDown(frequencySteps, float64(freqCount))
	creationScore := stepDown(creationSteps, float64(creationCount))

	recencyScore := 0.0
	if user.LastActiveAt != nil {
		hours := as.now().Sub(*user.LastActiveAt).Hours()
		if hours < 0 {
			hours = 0
		}
		recencyScore = stepUp(recencySteps, hours)
	}

	score := activityWeightDaysActive*daysScore +
		activityWeightFrequency*freqScore +
		activityWeightRecency*recencyScore +
		activityWeightCreation*creationScore

	return ActivityScore{Level: tierFor(score), Score: score}, nil
}

func tierFor(score float64) Tier {
	switch {
	case score >= tierHighCut:
		return TierHigh
	case score >= tierMediumCut:
		return TierMedium
	default:
		return TierLow
	}
}

func (as *activityService) ScoreAll(ctx context.Context, users []*types.User) ([]ScoredMember, error) {
	out := make([]ScoredMember, 0, len(users))
	for _, u := range users {
		score, err := as.Score(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredMember{User: u, Activity: score})
	}
	return out, nil
}

// partitionByTier splits members by tier, each bucket sorted by score
// descending with the user id as a deterministic tie break.
func partitionByTier(members []ScoredMember) map[Tier][]ScoredMember {
	byTier := map[Tier][]ScoredMember{}
	for _, m := range members {
		byTier[m.Activity.Level] = append(byTier[m.Activity.Level], m)
	}
	for _, bucket := range byTier {
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].Activity.Score != bucket[j].Activity.Score {
				return bucket[i].Activity.Score > bucket[j].Activity.Score
			}
			return bucket[i].User.ID.String() < bucket[j].User.ID.String()
		})
	}
	return byTier
}

func (as *activityService) Balance(members []ScoredMember, target TierRatios, n int) []ScoredMember {
	if n <= 0 || n > len(members) {
		n = len(members)
	}
	if n == 0 {
		return nil
	}

	byTier := partitionByTier(members)

	quota := map[Tier]int{
		TierHigh:   int(float64(n) * target.High),
		TierMedium: int(float64(n) * target.Medium),
		TierLow:    int(float64(n) * target.Low),
	}

	// Remainder slots go to the largest tier (most available members).
	assigned := quota[TierHigh] + quota[TierMedium] + quota[TierLow]
	if rem := n - assigned; rem > 0 {
		largest := TierMedium
		for _, tier := range []Tier{TierHigh, TierLow} {
			if len(byTier[tier]) > len(byTier[largest]) {
				largest = tier
			}
		}
		quota[largest] += rem
	}

	selected := make([]ScoredMember, 0, n)
	taken := map[Tier]int{}
	for _, tier := range []Tier{TierHigh, TierMedium, TierLow} {
		bucket := byTier[tier]
		take := quota[tier]
		if take > len(bucket) {
			take = len(bucket)
		}
		selected = append(selected, bucket[:take]...)
		taken[tier] = take
	}

	// Shortfalls are back-filled with the best remaining members regardless
	// of tier.
	if len(selected) < n {
		var rest []ScoredMember
		for _, tier := range []Tier{TierHigh, TierMedium, TierLow} {
			rest = append(rest, byTier[tier][taken[tier]:]...)
		}
		sort.SliceStable(rest, func(i, j int) bool {
			if rest[i].Activity.Score != rest[j].Activity.Score {
				return rest[i].Activity.Score > rest[j].Activity.Score
			}
			return rest[i].User.ID.String() < rest[j].User.ID.String()
		})
		need := n - len(selected)
		if need > len(rest) {
			need = len(rest)
		}
		selected = append(selected, rest[:need]...)
	}

	return selected
}

func (as *activityService) BalanceScore(members []ScoredMember, target TierRatios) float64 {
	if len(members) == 0 {
		return 0
	}

	var high, medium, low float64
	for _, m := range members {
		switch m.Activity.Level {
		case TierHigh:
			high++
		case TierMedium:
			medium++
		default:
			low++
		}
	}
	n := float64(len(members))

	dev := abs(high/n-target.High) + abs(medium/n-target.Medium) + abs(low/n-target.Low)
	score := 1 - dev/3
	if score < 0 {
		return 0
	}
	return score
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (as *activityService) Rebalance(selected, pool []ScoredMember, target TierRatios, maxIter int) []ScoredMember {
	if maxIter <= 0 {
		maxIter = 10
	}
	if len(selected) == 0 || len(pool) == 0 {
		return selected
	}

	current := make([]ScoredMember, len(selected))
	copy(current, selected)

	inSelection := make(map[string]struct{}, len(current))
	for _, m := range current {
		inSelection[m.User.ID.String()] = struct{}{}
	}

	best := as.BalanceScore(current, target)
	for iter := 0; iter < maxIter; iter++ {
		if best >= 1 {
			break
		}

		improved := false
		n := float64(len(current))
		counts := tierCounts(current)
		over, under := mostImbalanced(counts, target, n)
		if over == under {
			break
		}

		// Swap the weakest member of the over-represented tier for the
		// strongest unused pool candidate in the under-represented tier.
		outIdx := weakestOfTier(current, over)
		inIdx := strongestOfTier(pool, under, inSelection)
		if outIdx >= 0 && inIdx >= 0 {
			candidate := make([]ScoredMember, len(current))
			copy(candidate, current)
			candidate[outIdx] = pool[inIdx]

			if score := as.BalanceScore(candidate, target); score > best {
				delete(inSelection, current[outIdx].User.ID.String())
				inSelection[pool[inIdx].User.ID.String()] = struct{}{}
				current = candidate
				best = score
				improved = true
			}
		}
		if !improved {
			break
		}
	}

	return current
}

func tierCounts(members []ScoredMember) map[Tier]int {
	counts := map[Tier]int{}
	for _, m := range members {
		counts[m.Activity.Level]++
	}
	return counts
}

// mostImbalanced returns the tier furthest above its target share and the
// tier furthest below it.
func mostImbalanced(counts map[Tier]int, target TierRatios, n float64) (over, under Tier) {
	targets := map[Tier]float64{TierHigh: target.High, TierMedium: target.Medium, TierLow: target.Low}
	var maxExcess, maxDeficit float64
	over, under = TierMedium, TierMedium
	for _, tier := range []Tier{TierHigh, TierMedium, TierLow} {
		diff := float64(counts[tier])/n - targets[tier]
		if diff > maxExcess {
			maxExcess = diff
			over = tier
		}
		if -diff > maxDeficit {
			maxDeficit = -diff
			under = tier
		}
	}
	return over, under
}

func weakestOfTier(members []ScoredMember, tier Tier) int {
	idx := -1
	for i, m := range members {
		if m.Activity.Level != tier {
			continue
		}
		if idx == -1 || m.Activity.Score < members[idx].Activity.Score {
			idx = i
		}
	}
	return idx
}

func strongestOfTier(pool []ScoredMember, tier Tier, exclude map[string]struct{}) int {
	idx := -1
	for i, m := range pool {
		if m.Activity.Level != tier {
			continue
		}
		if _, used := exclude[m.User.ID.String()]; used {
			continue
		}
		if idx == -1 || m.Activity.Score > pool[idx].Activity.Score {
			idx = i
		}
	}
	return idx
}
