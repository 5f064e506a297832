package services

import (
	"math"
	"time"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

// Weights is the blend applied to the four resonance terms.
type Weights struct {
	TagSimilarity          float64
	InteractionScore       float64
	ContentPreferenceMatch float64
	RandomFactor           float64
}

// DefaultWeights is the base blend before contextual adjustment.
func DefaultWeights() Weights {
	return Weights{
		TagSimilarity:          0.6,
		InteractionScore:       0.4,
		ContentPreferenceMatch: 0.15,
		RandomFactor:           0.05,
	}
}

// Normalize scales the weights to sum to 1, but only when the raw sum is
// finite and positive; otherwise the weights are returned unchanged.
func (w Weights) Normalize() Weights {
	sum := w.TagSimilarity + w.InteractionScore + w.ContentPreferenceMatch + w.RandomFactor
	if math.IsNaN(sum) || math.IsInf(sum, 0) || sum <= 0 {
		return w
	}
	return Weights{
		TagSimilarity:          w.TagSimilarity / sum,
		InteractionScore:       w.InteractionScore / sum,
		ContentPreferenceMatch: w.ContentPreferenceMatch / sum,
		RandomFactor:           w.RandomFactor / sum,
	}
}

// WeightAdjuster nudges the base weights by pair context: account maturity,
// interaction pattern, preference overlap, and small temporal heuristics.
type WeightAdjuster struct {
	log *logger.Logger
}

func NewWeightAdjuster(baseLog *logger.Logger) *WeightAdjuster {
	return &WeightAdjuster{log: baseLog.With("service", "WeightAdjuster")}
}

// Adjust computes the blend for a pair given their shared interaction
// history. The result is normalized.
func (wa *WeightAdjuster) Adjust(userA, userB *types.User, interactions []*types.Interaction, now time.Time) Weights {
	w := DefaultWeights()

	wa.applyMaturity(&w, userA, userB)
	wa.applyInteractionPattern(&w, userA, userB, interactions, now)
	wa.applyPreferenceOverlap(&w, userA, userB)
	wa.applyTemporal(&w, now)

	// Adjustments are additive and can push a weight below zero; a term is
	// never eliminated entirely.
	w.TagSimilarity = floorWeight(w.TagSimilarity)
	w.InteractionScore = floorWeight(w.InteractionScore)
	w.ContentPreferenceMatch = floorWeight(w.ContentPreferenceMatch)
	w.RandomFactor = floorWeight(w.RandomFactor)

	return w.Normalize()
}

func floorWeight(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	return v
}

// applyMaturity shifts weight from tag similarity toward interaction history
// as the pair's accounts age. Four bands over average days active.
func (wa *WeightAdjuster) applyMaturity(w *Weights, userA, userB *types.User) {
	avgDays := float64(userA.DaysActive+userB.DaysActive) / 2

	switch {
	case avgDays < 7:
		w.TagSimilarity += 0.10
		w.InteractionScore -= 0.10
	case avgDays < 30:
		w.TagSimilarity += 0.05
		w.InteractionScore -= 0.05
	case avgDays < 90:
		// established accounts keep the base blend
	default:
		w.TagSimilarity -= 0.10
		w.InteractionScore += 0.10
	}
}

// applyInteractionPattern favors the interaction and preference terms for
// pairs with reciprocal, diverse, or sustained histories.
func (wa *WeightAdjuster) applyInteractionPattern(w *Weights, userA, userB *types.User, interactions []*types.Interaction, now time.Time) {
	if len(interactions) == 0 {
		return
	}

	var aToB, bToA int
	actionTypes := make(map[string]struct{})
	oldest := interactions[0].CreatedAt
	newest := interactions[0].CreatedAt
	for _, it := range interactions {
		if it.ActorID == userA.ID {
			aToB++
		} else if it.ActorID == userB.ID {
			bToA++
		}
		actionTypes[it.ActionType] = struct{}{}
		if it.CreatedAt.Before(oldest) {
			oldest = it.CreatedAt
		}
		if it.CreatedAt.After(newest) {
			newest = it.CreatedAt
		}
	}

	if aToB > 0 && bToA > 0 {
		w.InteractionScore += 0.05
	}
	if len(actionTypes) >= 3 {
		w.ContentPreferenceMatch += 0.05
	}
	if newest.Sub(oldest) >= 14*24*time.Hour {
		w.InteractionScore += 0.05
		w.TagSimilarity -= 0.05
	}
}

// applyPreferenceOverlap: pairs with heavily overlapping preference maps get
// more weight on the preference term; pairs with almost none lean on the
// exploration term instead.
func (wa *WeightAdjuster) applyPreferenceOverlap(w *Weights, userA, userB *types.User) {
	prefsA := userA.Preferences()
	prefsB := userB.Preferences()
	if len(prefsA) == 0 || len(prefsB) == 0 {
		return
	}

	shared := 0
	for k := range prefsA {
		if _, ok := prefsB[k]; ok {
			shared++
		}
	}
	union := len(prefsA) + len(prefsB) - shared
	overlap := float64(shared) / float64(union)

	switch {
	case overlap >= 0.5:
		w.ContentPreferenceMatch += 0.05
	case overlap < 0.1:
		w.RandomFactor += 0.05
	}
}

// applyTemporal adds small hour/day/month nudges. Purely heuristic; each
// nudge is capped at 0.02.
func (wa *WeightAdjuster) applyTemporal(w *Weights, now time.Time) {
	hour := now.Hour()
	switch {
	case hour >= 0 && hour < 6:
		w.RandomFactor += 0.02
	case hour >= 18:
		w.InteractionScore += 0.02
	}

	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		w.TagSimilarity += 0.02
	}

	switch now.Month() {
	case time.December, time.January:
		w.ContentPreferenceMatch += 0.02
	}
}
