package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

func seedCluster(t *testing.T, repo ClusterRepo, active bool, expiresAt time.Time) *types.Cluster {
	t.Helper()
	now := time.Now()
	c := &types.Cluster{
		ID:          uuid.New(),
		MemberIDs:   datatypes.JSONSlice[uuid.UUID]{uuid.New(), uuid.New()},
		CoreUserIDs: datatypes.JSONSlice[uuid.UUID]{uuid.New(), uuid.New()},
		IsActive:    active,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		UpdatedAt:   now,
	}
	if _, err := repo.Create(context.Background(), nil, c); err != nil {
		t.Fatalf("create cluster: %v", err)
	}
	return c
}

func TestClusterRoundTrip(t *testing.T) {
	repo := NewClusterRepo(newTestDB(t), logger.NewNop())
	ctx := context.Background()

	created := seedCluster(t, repo, true, time.Now().Add(time.Hour))
	got, err := repo.GetByID(ctx, nil, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatalf("created cluster not found")
	}
	if len(got.Members()) != 2 {
		t.Fatalf("member ids after round trip: want=2 got=%d", len(got.Members()))
	}

	got.IsActive = false
	if err := repo.Save(ctx, nil, got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := repo.GetByID(ctx, nil, created.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsActive {
		t.Fatalf("save did not persist deactivation")
	}
}

func TestClusterGetByIDMissingIsNil(t *testing.T) {
	repo := NewClusterRepo(newTestDB(t), logger.NewNop())

	got, err := repo.GetByID(context.Background(), nil, uuid.New())
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Fatalf("missing cluster: want=nil got=%+v", got)
	}
}

func TestListExpiredActive(t *testing.T) {
	repo := NewClusterRepo(newTestDB(t), logger.NewNop())
	now := time.Now()

	expired := seedCluster(t, repo, true, now.Add(-time.Hour))
	older := seedCluster(t, repo, true, now.Add(-3*time.Hour))
	// Fresh and already-dissolved clusters stay out of the sweep.
	seedCluster(t, repo, true, now.Add(time.Hour))
	seedCluster(t, repo, false, now.Add(-2*time.Hour))

	got, err := repo.ListExpiredActive(context.Background(), nil, now, 10)
	if err != nil {
		t.Fatalf("ListExpiredActive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expired count: want=2 got=%d", len(got))
	}
	// Oldest expiry first.
	if got[0].ID != older.ID || got[1].ID != expired.ID {
		t.Fatalf("expiry ordering wrong: got %s then %s", got[0].ID, got[1].ID)
	}
}
