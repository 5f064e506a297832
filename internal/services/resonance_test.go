package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/cache"
	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/taxonomy"
	"github.com/yungbote/resonance-backend/internal/types"
)

type fakeRecordRepo struct {
	mu      sync.Mutex
	upserts int
	records map[string]*types.ResonanceRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: map[string]*types.ResonanceRecord{}}
}

func (f *fakeRecordRepo) GetByPairKey(_ context.Context, _ *gorm.DB, pairKey string) (*types.ResonanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[pairKey], nil
}

func (f *fakeRecordRepo) Upsert(_ context.Context, _ *gorm.DB, record *types.ResonanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.records[record.PairKey] = record
	return nil
}

func (f *fakeRecordRepo) AppendHistory(_ context.Context, _ *gorm.DB, pairKey string, snapshot types.ResonanceSnapshot, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[pairKey]
	if !ok {
		return nil
	}
	history := append([]types.ResonanceSnapshot(record.History), snapshot)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	record.History = history
	return nil
}

func (f *fakeRecordRepo) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type fakeHistoryAppender struct {
	mu       sync.Mutex
	pairKeys []string
}

func (f *fakeHistoryAppender) Enqueue(pairKey string, _ types.ResonanceSnapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairKeys = append(f.pairKeys, pairKey)
	return true
}

func newTestResonance(interactions *fakeInteractionRepo, records *fakeRecordRepo, seed int64) ResonanceService {
	log := logger.NewNop()
	tax := taxonomy.Default()
	return NewResonanceService(
		nil,
		log,
		cache.NewMemoryAdapter(),
		interactions,
		records,
		NewSimilarityCalculator(tax),
		NewWeightAdjuster(log),
		NewRandomSource(seed),
		nil,
		DefaultResonanceConfig(),
	)
}

func mutualComments(userA, userB *types.User, n int) []*types.Interaction {
	now := time.Now()
	out := make([]*types.Interaction, 0, n)
	for i := 0; i < n; i++ {
		actor, target := userA.ID, userB.ID
		if i%2 == 1 {
			actor, target = userB.ID, userA.ID
		}
		out = append(out, &types.Interaction{
			ID:         uuid.New(),
			ActorID:    actor,
			TargetID:   target,
			TargetType: "user",
			ActionType: types.ActionComment,
			CreatedAt:  now.Add(-time.Duration(i*8) * time.Hour),
		})
	}
	return out
}

func TestCalculateSelfIsHundred(t *testing.T) {
	svc := newTestResonance(&fakeInteractionRepo{}, newFakeRecordRepo(), 1)
	u := testUser(45, "hiking")

	got, err := svc.Calculate(context.Background(), u, u, false)
	if err != nil {
		t.Fatalf("Calculate self: %v", err)
	}
	if got != 100 {
		t.Fatalf("self resonance: want=100 got=%v", got)
	}
}

func TestCalculateNilUserRejected(t *testing.T) {
	svc := newTestResonance(&fakeInteractionRepo{}, newFakeRecordRepo(), 1)

	_, err := svc.Calculate(context.Background(), testUser(45), nil, false)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("nil user: want ValidationError got %v", err)
	}
}

func TestCalculateSymmetric(t *testing.T) {
	userA := testUser(45, "hiking", "coffee")
	userB := testUser(60, "hiking", "jazz")

	// Fresh service per direction so neither call can serve the other from
	// cache; identical seeds make the exploration term repeatable.
	ab, err := newTestResonance(&fakeInteractionRepo{}, newFakeRecordRepo(), 7).
		Calculate(context.Background(), userA, userB, false)
	if err != nil {
		t.Fatalf("Calculate(A,B): %v", err)
	}
	ba, err := newTestResonance(&fakeInteractionRepo{}, newFakeRecordRepo(), 7).
		Calculate(context.Background(), userB, userA, false)
	if err != nil {
		t.Fatalf("Calculate(B,A): %v", err)
	}
	if ab != ba {
		t.Fatalf("resonance not symmetric: ab=%v ba=%v", ab, ba)
	}
}

func TestCalculateStaysInRange(t *testing.T) {
	svc := newTestResonance(&fakeInteractionRepo{}, newFakeRecordRepo(), 3)

	pairs := [][2]*types.User{
		{testUser(0), testUser(0)},
		{testUser(45, "hiking"), testUser(45, "jazz")},
		{testUser(400, "hiking", "coffee"), testUser(400, "hiking", "coffee")},
		{testUser(10), testUser(500, "programming", "gaming", "ai")},
	}
	for _, p := range pairs {
		got, err := svc.Calculate(context.Background(), p[0], p[1], false)
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		if got < 0 || got > 100 {
			t.Fatalf("resonance out of range: %v", got)
		}
	}
}

func TestCalculateServedFromCacheOnRepeat(t *testing.T) {
	records := newFakeRecordRepo()
	svc := newTestResonance(&fakeInteractionRepo{}, records, 5)
	userA := testUser(45, "hiking")
	userB := testUser(60, "coffee")

	first, err := svc.Calculate(context.Background(), userA, userB, false)
	if err != nil {
		t.Fatalf("first Calculate: %v", err)
	}
	second, err := svc.Calculate(context.Background(), userB, userA, false)
	if err != nil {
		t.Fatalf("second Calculate: %v", err)
	}
	if first != second {
		t.Fatalf("cached score differs: first=%v second=%v", first, second)
	}
	if got := records.upsertCount(); got != 1 {
		t.Fatalf("upserts after cached repeat: want=1 got=%d", got)
	}
}

func TestCalculateForceRecalcBypassesCache(t *testing.T) {
	records := newFakeRecordRepo()
	svc := newTestResonance(&fakeInteractionRepo{}, records, 5)
	userA := testUser(45, "hiking")
	userB := testUser(60, "coffee")

	if _, err := svc.Calculate(context.Background(), userA, userB, false); err != nil {
		t.Fatalf("first Calculate: %v", err)
	}
	if _, err := svc.Calculate(context.Background(), userA, userB, true); err != nil {
		t.Fatalf("forced Calculate: %v", err)
	}
	if got := records.upsertCount(); got != 2 {
		t.Fatalf("upserts after forced recalc: want=2 got=%d", got)
	}
}

func TestCalculateStrongPairScoresHigh(t *testing.T) {
	userA := testUser(45, "hiking", "coffee")
	userB := testUser(60, "hiking", "coffee")
	interactions := &fakeInteractionRepo{between: mutualComments(userA, userB, 30)}

	svc := newTestResonance(interactions, newFakeRecordRepo(), 1)
	got, err := svc.Calculate(context.Background(), userA, userB, false)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got < 70 {
		t.Fatalf("strong pair resonance: want>=70 got=%v", got)
	}
}

func TestCalculateColdPairScoresLow(t *testing.T) {
	userA := testUser(45, "hiking")
	userB := testUser(60, "jazz")

	svc := newTestResonance(&fakeInteractionRepo{}, newFakeRecordRepo(), 1)
	got, err := svc.Calculate(context.Background(), userA, userB, false)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got >= 50 {
		t.Fatalf("cold pair resonance: want<50 got=%v", got)
	}
}

func TestCalculateDegradesOnSignalFailure(t *testing.T) {
	userA := testUser(45, "hiking")
	userB := testUser(60, "hiking")
	interactions := &fakeInteractionRepo{betweenErr: errors.New("store down")}

	svc := newTestResonance(interactions, newFakeRecordRepo(), 1)
	got, err := svc.Calculate(context.Background(), userA, userB, false)
	if err != nil {
		t.Fatalf("Calculate with failing signal: %v", err)
	}
	if got < 0 || got > 100 {
		t.Fatalf("degraded resonance out of range: %v", got)
	}
}

func TestCalculateEnqueuesHistorySnapshot(t *testing.T) {
	userA := testUser(45, "hiking")
	userB := testUser(60, "coffee")

	appender := &fakeHistoryAppender{}
	log := logger.NewNop()
	svc := NewResonanceService(
		nil, log, cache.NewMemoryAdapter(),
		&fakeInteractionRepo{}, newFakeRecordRepo(),
		NewSimilarityCalculator(taxonomy.Default()), NewWeightAdjuster(log),
		NewRandomSource(1), appender, DefaultResonanceConfig(),
	)

	if _, err := svc.Calculate(context.Background(), userA, userB, false); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	appender.mu.Lock()
	defer appender.mu.Unlock()
	if len(appender.pairKeys) != 1 {
		t.Fatalf("history enqueues: want=1 got=%d", len(appender.pairKeys))
	}
	if want := types.PairKey(userA.ID, userB.ID); appender.pairKeys[0] != want {
		t.Fatalf("history pair key: want=%s got=%s", want, appender.pairKeys[0])
	}
}

func TestBatchSortsByScoreDescending(t *testing.T) {
	core := testUser(45, "hiking", "coffee")
	candidates := []*types.User{
		testUser(60, "jazz"),
		testUser(60, "hiking", "coffee"),
		testUser(60, "hiking"),
		testUser(60),
	}

	svc := newTestResonance(&fakeInteractionRepo{}, newFakeRecordRepo(), 9)
	results, err := svc.Batch(context.Background(), core, candidates)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(results) != len(candidates) {
		t.Fatalf("batch result count: want=%d got=%d", len(candidates), len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Fatalf("batch not sorted at %d: %v < %v", i, results[i-1].Score, results[i].Score)
		}
	}
}
