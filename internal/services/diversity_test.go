package services

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/taxonomy"
	"github.com/yungbote/resonance-backend/internal/types"
)

func newEvaluator(t *testing.T) *DiversityEvaluator {
	t.Helper()
	return NewDiversityEvaluator(taxonomy.Default(), logger.NewNop(), DefaultDiversityConfig())
}

func taggedUser(tags ...string) *types.User {
	return &types.User{ID: uuid.New(), Tags: datatypes.JSONSlice[string](tags)}
}

func TestScoreEmptySet(t *testing.T) {
	de := newEvaluator(t)
	got := de.Score(nil)
	if got.Total != 0 {
		t.Fatalf("empty set diversity: want=0 got=%v", got.Total)
	}
}

func TestScoreTagCountMonotonicOnNewTags(t *testing.T) {
	de := newEvaluator(t)

	members := []*types.User{taggedUser("hiking"), taggedUser("coffee")}
	before := de.Score(members)

	members = append(members, taggedUser("jazz"))
	after := de.Score(members)

	if after.TagCountScore < before.TagCountScore {
		t.Fatalf("new tag decreased tag count score: before=%v after=%v",
			before.TagCountScore, after.TagCountScore)
	}
}

func TestScoreIdenticalTagsIsLow(t *testing.T) {
	de := newEvaluator(t)

	members := make([]*types.User, 0, 47)
	for i := 0; i < 47; i++ {
		members = append(members, taggedUser("hiking"))
	}

	got := de.Score(members)
	if got.Total >= 0.3 {
		t.Fatalf("homogeneous set diversity: want<0.3 got=%v (%+v)", got.Total, got)
	}
}

func TestScoreVariedSetBeatsHomogeneousSet(t *testing.T) {
	de := newEvaluator(t)

	tagPool := []string{
		"hiking", "coffee", "jazz", "photography", "programming",
		"yoga", "reading", "travel", "camping", "baking",
		"guitar", "painting", "gaming", "meditation", "history", "pets",
	}
	varied := make([]*types.User, 0, 32)
	for i := 0; i < 32; i++ {
		varied = append(varied, taggedUser(tagPool[i%len(tagPool)], tagPool[(i+5)%len(tagPool)]))
	}
	homogeneous := make([]*types.User, 0, 32)
	for i := 0; i < 32; i++ {
		homogeneous = append(homogeneous, taggedUser("hiking"))
	}

	variedScore := de.Score(varied).Total
	homogeneousScore := de.Score(homogeneous).Total
	if variedScore <= homogeneousScore {
		t.Fatalf("varied set should out-score homogeneous set: varied=%v homogeneous=%v",
			variedScore, homogeneousScore)
	}
}

func TestContributionFavorsScarceTags(t *testing.T) {
	de := newEvaluator(t)

	t1 := de.tally([]*types.User{taggedUser("hiking"), taggedUser("hiking"), taggedUser("hiking")})

	saturated := de.Contribution(taggedUser("hiking"), t1)
	fresh := de.Contribution(taggedUser("jazz"), t1)
	if fresh <= saturated {
		t.Fatalf("scarce tag should contribute more: fresh=%v saturated=%v", fresh, saturated)
	}

	if got := de.Contribution(taggedUser(), t1); got != 0 {
		t.Fatalf("tagless candidate contribution: want=0 got=%v", got)
	}
}

func TestApplyConstraintsFillsSeatsAndRespectsCaps(t *testing.T) {
	de := newEvaluator(t)

	// 5 tags, 4 candidates each: plenty of room under the 40% tag cap for
	// n=10 (cap 4).
	var candidates []*types.User
	for _, tag := range []string{"hiking", "coffee", "jazz", "programming", "yoga"} {
		for i := 0; i < 4; i++ {
			candidates = append(candidates, taggedUser(tag))
		}
	}

	admitted := de.ApplyConstraints(candidates, 10)
	if len(admitted) != 10 {
		t.Fatalf("admitted count: want=10 got=%d", len(admitted))
	}

	perTag := map[string]int{}
	for _, u := range admitted {
		for _, tag := range u.TagList() {
			perTag[tag]++
		}
	}
	tagCap := capCount(DefaultDiversityConfig().TagCap, 10)
	for tag, count := range perTag {
		if count > tagCap {
			t.Fatalf("tag %q exceeds cap %d: got=%d", tag, tagCap, count)
		}
	}
}

func TestApplyConstraintsBackfillsWhenCapsCannotHold(t *testing.T) {
	de := newEvaluator(t)

	// Everybody shares one tag: the cap alone cannot fill 10 seats, so the
	// remainder is admitted past the cap rather than failing the selection.
	var candidates []*types.User
	for i := 0; i < 12; i++ {
		candidates = append(candidates, taggedUser("hiking"))
	}

	admitted := de.ApplyConstraints(candidates, 10)
	if len(admitted) != 10 {
		t.Fatalf("backfilled admitted count: want=10 got=%d", len(admitted))
	}
}

func TestApplyConstraintsDeterministic(t *testing.T) {
	de := newEvaluator(t)

	var candidates []*types.User
	for i := 0; i < 20; i++ {
		candidates = append(candidates, taggedUser(fmt.Sprintf("tag-%d", i%7)))
	}

	first := de.ApplyConstraints(candidates, 10)
	second := de.ApplyConstraints(candidates, 10)
	if len(first) != len(second) {
		t.Fatalf("nondeterministic admitted count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("nondeterministic admission order at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}
