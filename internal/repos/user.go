package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

// CandidateFilter narrows the candidate pool for cluster formation:
// active users without a cluster, recently active, optionally in one region.
type CandidateFilter struct {
	ActiveSince time.Time
	Region      string
	ExcludeIDs  []uuid.UUID
	Limit       int
}

type UserRepo interface {
	Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error)
	GetByID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error)
	FindCandidates(ctx context.Context, tx *gorm.DB, filter CandidateFilter) ([]*types.User, error)
	// ClaimForCluster sets current_cluster_id iff it is currently NULL and
	// reports whether the claim won. This is the per-user compare-and-swap
	// that keeps one user out of two concurrently forming clusters.
	ClaimForCluster(ctx context.Context, tx *gorm.DB, userID, clusterID uuid.UUID) (bool, error)
	// ReleaseFromCluster clears current_cluster_id for the given users, but
	// only where it still points at clusterID. Returns how many rows changed.
	ReleaseFromCluster(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID, userIDs []uuid.UUID) (int64, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	repoLog := baseLog.With("repo", "UserRepo")
	return &userRepo{db: db, log: repoLog}
}

func (ur *userRepo) Create(ctx context.Context, tx *gorm.DB, users []*types.User) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	if len(users) == 0 {
		return []*types.User{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&users).Error; err != nil {
		return nil, err
	}

	return users, nil
}

func (ur *userRepo) GetByID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var result types.User
	err := transaction.WithContext(ctx).
		Where("id = ?", userID).
		First(&result).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (ur *userRepo) GetByIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	var results []*types.User

	if len(userIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", userIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *userRepo) FindCandidates(ctx context.Context, tx *gorm.DB, filter CandidateFilter) ([]*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	q := transaction.WithContext(ctx).
		Where("is_active = ?", true).
		Where("current_cluster_id IS NULL")

	if !filter.ActiveSince.IsZero() {
		q = q.Where("last_active_at IS NOT NULL AND last_active_at >= ?", filter.ActiveSince)
	}
	if filter.Region != "" {
		q = q.Where("region = ?", filter.Region)
	}
	if len(filter.ExcludeIDs) > 0 {
		q = q.Where("id NOT IN ?", filter.ExcludeIDs)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var results []*types.User
	if err := q.Order("last_active_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ur *userRepo) ClaimForCluster(ctx context.Context, tx *gorm.DB, userID, clusterID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id = ? AND current_cluster_id IS NULL", userID).
		Update("current_cluster_id", clusterID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (ur *userRepo) ReleaseFromCluster(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID, userIDs []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ur.db
	}

	if len(userIDs) == 0 {
		return 0, nil
	}

	res := transaction.WithContext(ctx).
		Model(&types.User{}).
		Where("id IN ? AND current_cluster_id = ?", userIDs, clusterID).
		Update("current_cluster_id", nil)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
