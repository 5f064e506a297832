package services

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

// neutralNow is a Wednesday mid-morning in June: none of the temporal
// adjustments fire.
var neutralNow = time.Date(2026, time.June, 10, 10, 0, 0, 0, time.UTC)

func testUser(daysActive int, tags ...string) *types.User {
	return &types.User{
		ID:         uuid.New(),
		Tags:       datatypes.JSONSlice[string](tags),
		DaysActive: daysActive,
		IsActive:   true,
	}
}

func weightSum(w Weights) float64 {
	return w.TagSimilarity + w.InteractionScore + w.ContentPreferenceMatch + w.RandomFactor
}

func TestNormalizeSumsToOne(t *testing.T) {
	w := Weights{TagSimilarity: 0.7, InteractionScore: 0.3, ContentPreferenceMatch: 0.2, RandomFactor: 0.1}.Normalize()
	if got := weightSum(w); math.Abs(got-1) > 1e-9 {
		t.Fatalf("normalized sum: want=1 got=%v", got)
	}
}

func TestNormalizeDegenerateInputsUnchanged(t *testing.T) {
	zero := Weights{}
	if got := zero.Normalize(); got != zero {
		t.Fatalf("zero normalize changed weights: %+v", got)
	}

	negative := Weights{TagSimilarity: -1}
	if got := negative.Normalize(); got != negative {
		t.Fatalf("negative-sum normalize changed weights: %+v", got)
	}

	nan := Weights{TagSimilarity: math.NaN(), InteractionScore: 0.4}
	if got := nan.Normalize(); !math.IsNaN(got.TagSimilarity) || got.InteractionScore != 0.4 {
		t.Fatalf("nan normalize changed weights: %+v", got)
	}
}

func TestAdjustResultIsNormalizedAndPositive(t *testing.T) {
	wa := NewWeightAdjuster(logger.NewNop())

	cases := []struct {
		name  string
		userA *types.User
		userB *types.User
	}{
		{"new accounts", testUser(2), testUser(3)},
		{"growing accounts", testUser(10), testUser(20)},
		{"established accounts", testUser(45), testUser(60)},
		{"mature accounts", testUser(400), testUser(365)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := wa.Adjust(tc.userA, tc.userB, nil, neutralNow)
			if got := weightSum(w); math.Abs(got-1) > 1e-9 {
				t.Fatalf("adjusted sum: want=1 got=%v", got)
			}
			for _, v := range []float64{w.TagSimilarity, w.InteractionScore, w.ContentPreferenceMatch, w.RandomFactor} {
				if v <= 0 {
					t.Fatalf("adjusted weight not positive: %+v", w)
				}
			}
		})
	}
}

func TestAdjustMaturityShiftsTagVsInteraction(t *testing.T) {
	wa := NewWeightAdjuster(logger.NewNop())

	young := wa.Adjust(testUser(2), testUser(2), nil, neutralNow)
	mature := wa.Adjust(testUser(400), testUser(400), nil, neutralNow)

	if young.TagSimilarity <= mature.TagSimilarity {
		t.Fatalf("young accounts should weigh tags higher: young=%v mature=%v",
			young.TagSimilarity, mature.TagSimilarity)
	}
	if young.InteractionScore >= mature.InteractionScore {
		t.Fatalf("mature accounts should weigh interactions higher: young=%v mature=%v",
			young.InteractionScore, mature.InteractionScore)
	}
}

func TestAdjustReciprocalHistoryBoostsInteraction(t *testing.T) {
	wa := NewWeightAdjuster(logger.NewNop())
	userA := testUser(45)
	userB := testUser(60)

	oneWay := []*types.Interaction{
		{ActorID: userA.ID, TargetID: userB.ID, ActionType: types.ActionLike, CreatedAt: neutralNow.Add(-time.Hour)},
	}
	reciprocal := append(oneWay, &types.Interaction{
		ActorID: userB.ID, TargetID: userA.ID, ActionType: types.ActionLike, CreatedAt: neutralNow.Add(-2 * time.Hour),
	})

	wOne := wa.Adjust(userA, userB, oneWay, neutralNow)
	wRec := wa.Adjust(userA, userB, reciprocal, neutralNow)
	if wRec.InteractionScore <= wOne.InteractionScore {
		t.Fatalf("reciprocal history should boost interaction weight: one-way=%v reciprocal=%v",
			wOne.InteractionScore, wRec.InteractionScore)
	}
}

func TestAdjustPreferenceOverlapBoostsPreferenceWeight(t *testing.T) {
	wa := NewWeightAdjuster(logger.NewNop())

	overlapA := testUser(45)
	overlapA.ContentPreferences = datatypes.NewJSONType(types.PreferenceMap{"hiking": 0.9, "coffee": 0.8})
	overlapB := testUser(60)
	overlapB.ContentPreferences = datatypes.NewJSONType(types.PreferenceMap{"hiking": 0.7, "coffee": 0.6})

	disjointA := testUser(45)
	disjointA.ContentPreferences = datatypes.NewJSONType(types.PreferenceMap{"hiking": 0.9, "coffee": 0.8})
	disjointB := testUser(60)
	disjointB.ContentPreferences = datatypes.NewJSONType(types.PreferenceMap{"jazz": 0.7, "piano": 0.6})

	wOverlap := wa.Adjust(overlapA, overlapB, nil, neutralNow)
	wDisjoint := wa.Adjust(disjointA, disjointB, nil, neutralNow)
	if wOverlap.ContentPreferenceMatch <= wDisjoint.ContentPreferenceMatch {
		t.Fatalf("overlapping preferences should boost preference weight: overlap=%v disjoint=%v",
			wOverlap.ContentPreferenceMatch, wDisjoint.ContentPreferenceMatch)
	}
	if wDisjoint.RandomFactor <= wOverlap.RandomFactor {
		t.Fatalf("disjoint preferences should boost exploration weight: overlap=%v disjoint=%v",
			wOverlap.RandomFactor, wDisjoint.RandomFactor)
	}
}
