package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

type ClusterRepo interface {
	Create(ctx context.Context, tx *gorm.DB, cluster *types.Cluster) (*types.Cluster, error)
	GetByID(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID) (*types.Cluster, error)
	Save(ctx context.Context, tx *gorm.DB, cluster *types.Cluster) error
	Delete(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID) error
	// ListExpiredActive returns still-active clusters whose expires_at has
	// passed, oldest first. Used by the expiry sweeper.
	ListExpiredActive(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Cluster, error)
}

type clusterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClusterRepo(db *gorm.DB, baseLog *logger.Logger) ClusterRepo {
	repoLog := baseLog.With("repo", "ClusterRepo")
	return &clusterRepo{db: db, log: repoLog}
}

func (cr *clusterRepo) Create(ctx context.Context, tx *gorm.DB, cluster *types.Cluster) (*types.Cluster, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	if err := transaction.WithContext(ctx).Create(cluster).Error; err != nil {
		return nil, err
	}
	return cluster, nil
}

func (cr *clusterRepo) GetByID(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID) (*types.Cluster, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	var result types.Cluster
	err := transaction.WithContext(ctx).
		Where("id = ?", clusterID).
		First(&result).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (cr *clusterRepo) Save(ctx context.Context, tx *gorm.DB, cluster *types.Cluster) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	return transaction.WithContext(ctx).Save(cluster).Error
}

func (cr *clusterRepo) Delete(ctx context.Context, tx *gorm.DB, clusterID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	return transaction.WithContext(ctx).
		Where("id = ?", clusterID).
		Delete(&types.Cluster{}).Error
}

func (cr *clusterRepo) ListExpiredActive(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Cluster, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	q := transaction.WithContext(ctx).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var results []*types.Cluster
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
