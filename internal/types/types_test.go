package types

import (
	"testing"

	"github.com/google/uuid"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	if PairKey(a, b) != PairKey(b, a) {
		t.Fatalf("pair key depends on argument order: %s vs %s", PairKey(a, b), PairKey(b, a))
	}

	first, second := SortedPair(a, b)
	if first.String() > second.String() {
		t.Fatalf("sorted pair out of order: %s > %s", first, second)
	}
	swappedFirst, swappedSecond := SortedPair(b, a)
	if first != swappedFirst || second != swappedSecond {
		t.Fatalf("SortedPair not canonical across argument orders")
	}
}

func TestPreferenceMapValidate(t *testing.T) {
	if err := (PreferenceMap{"hiking": 0.5, "coffee": 1}).Validate(); err != nil {
		t.Fatalf("valid map rejected: %v", err)
	}
	if err := (PreferenceMap{"hiking": 1.2}).Validate(); err == nil {
		t.Fatalf("out-of-range weight accepted")
	}
	if err := (PreferenceMap{"": 0.5}).Validate(); err == nil {
		t.Fatalf("empty tag key accepted")
	}
}

func TestClusterHasMember(t *testing.T) {
	member := uuid.New()
	c := &Cluster{MemberIDs: []uuid.UUID{member, uuid.New()}}

	if !c.HasMember(member) {
		t.Fatalf("known member not found")
	}
	if c.HasMember(uuid.New()) {
		t.Fatalf("unknown member reported present")
	}
}
