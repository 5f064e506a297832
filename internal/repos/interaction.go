package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

type InteractionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, interactions []*types.Interaction) ([]*types.Interaction, error)
	// GetBetween returns interactions in either direction between the two
	// users, newest first. A zero since means no lower bound.
	GetBetween(ctx context.Context, tx *gorm.DB, userA, userB uuid.UUID, since time.Time) ([]*types.Interaction, error)
	CountByActorSince(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, since time.Time) (int64, error)
	CountByActorSinceForActions(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, since time.Time, actionTypes []string) (int64, error)
}

type interactionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInteractionRepo(db *gorm.DB, baseLog *logger.Logger) InteractionRepo {
	repoLog := baseLog.With("repo", "InteractionRepo")
	return &interactionRepo{db: db, log: repoLog}
}

func (ir *interactionRepo) Create(ctx context.Context, tx *gorm.DB, interactions []*types.Interaction) ([]*types.Interaction, error) {
	transaction := tx
	if transaction == nil {
		transaction = ir.db
	}

	if len(interactions) == 0 {
		return []*types.Interaction{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&interactions).Error; err != nil {
		return nil, err
	}
	return interactions, nil
}

func (ir *interactionRepo) GetBetween(ctx context.Context, tx *gorm.DB, userA, userB uuid.UUID, since time.Time) ([]*types.Interaction, error) {
	transaction := tx
	if transaction == nil {
		transaction = ir.db
	}

	q := transaction.WithContext(ctx).
		Where("(actor_id = ? AND target_id = ?) OR (actor_id = ? AND target_id = ?)", userA, userB, userB, userA)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}

	var results []*types.Interaction
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ir *interactionRepo) CountByActorSince(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, since time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ir.db
	}

	var count int64
	q := transaction.WithContext(ctx).
		Model(&types.Interaction{}).
		Where("actor_id = ?", actorID)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (ir *interactionRepo) CountByActorSinceForActions(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, since time.Time, actionTypes []string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ir.db
	}

	if len(actionTypes) == 0 {
		return 0, nil
	}

	var count int64
	q := transaction.WithContext(ctx).
		Model(&types.Interaction{}).
		Where("actor_id = ? AND action_type IN ?", actorID, actionTypes)
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
