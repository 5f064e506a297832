package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

type fakeRecordStore struct {
	mu      sync.Mutex
	appends []string
}

func (f *fakeRecordStore) GetByPairKey(_ context.Context, _ *gorm.DB, _ string) (*types.ResonanceRecord, error) {
	return nil, nil
}

func (f *fakeRecordStore) Upsert(_ context.Context, _ *gorm.DB, _ *types.ResonanceRecord) error {
	return nil
}

func (f *fakeRecordStore) AppendHistory(_ context.Context, _ *gorm.DB, pairKey string, _ types.ResonanceSnapshot, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends = append(f.appends, pairKey)
	return nil
}

func (f *fakeRecordStore) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appends)
}

func TestHistoryQueueDrainWritesEverything(t *testing.T) {
	store := &fakeRecordStore{}
	q := NewHistoryQueue(nil, logger.NewNop(), store, 8, 50)

	for i := 0; i < 5; i++ {
		if !q.Enqueue("a:b", types.ResonanceSnapshot{Resonance: float64(i)}) {
			t.Fatalf("enqueue %d rejected with room in the buffer", i)
		}
	}
	if got := q.Pending(); got != 5 {
		t.Fatalf("pending before drain: want=5 got=%d", got)
	}

	q.Drain(context.Background())
	if got := store.appendCount(); got != 5 {
		t.Fatalf("appends after drain: want=5 got=%d", got)
	}
	if got := q.Pending(); got != 0 {
		t.Fatalf("pending after drain: want=0 got=%d", got)
	}
}

func TestHistoryQueueDropsWhenFull(t *testing.T) {
	store := &fakeRecordStore{}
	q := NewHistoryQueue(nil, logger.NewNop(), store, 2, 50)

	if !q.Enqueue("a:b", types.ResonanceSnapshot{}) || !q.Enqueue("a:b", types.ResonanceSnapshot{}) {
		t.Fatalf("fills within buffer should succeed")
	}
	if q.Enqueue("a:b", types.ResonanceSnapshot{}) {
		t.Fatalf("enqueue into a full buffer should report a drop")
	}
	if got := q.Dropped(); got != 1 {
		t.Fatalf("dropped count: want=1 got=%d", got)
	}
	// The counter resets once read.
	if got := q.Dropped(); got != 0 {
		t.Fatalf("dropped count after read: want=0 got=%d", got)
	}
}

func TestHistoryQueueBackgroundWriter(t *testing.T) {
	store := &fakeRecordStore{}
	q := NewHistoryQueue(nil, logger.NewNop(), store, 8, 50)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue("a:b", types.ResonanceSnapshot{Resonance: 42})

	deadline := time.Now().Add(2 * time.Second)
	for store.appendCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background writer never persisted the snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
