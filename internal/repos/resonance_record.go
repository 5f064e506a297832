package repos

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/types"
)

type ResonanceRecordRepo interface {
	GetByPairKey(ctx context.Context, tx *gorm.DB, pairKey string) (*types.ResonanceRecord, error)
	// Upsert creates the record on first computation and updates the factor
	// columns in place on recompute. History is not touched here.
	Upsert(ctx context.Context, tx *gorm.DB, record *types.ResonanceRecord) error
	// AppendHistory appends one snapshot to the record's history, keeping at
	// most limit most-recent entries. Missing records are a no-op: history
	// is loss-tolerant and the factor row may not have landed yet.
	AppendHistory(ctx context.Context, tx *gorm.DB, pairKey string, snapshot types.ResonanceSnapshot, limit int) error
}

type resonanceRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResonanceRecordRepo(db *gorm.DB, baseLog *logger.Logger) ResonanceRecordRepo {
	repoLog := baseLog.With("repo", "ResonanceRecordRepo")
	return &resonanceRecordRepo{db: db, log: repoLog}
}

func (rr *resonanceRecordRepo) GetByPairKey(ctx context.Context, tx *gorm.DB, pairKey string) (*types.ResonanceRecord, error) {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	var result types.ResonanceRecord
	err := transaction.WithContext(ctx).
		Where("pair_key = ?", pairKey).
		First(&result).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (rr *resonanceRecordRepo) Upsert(ctx context.Context, tx *gorm.DB, record *types.ResonanceRecord) error {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "pair_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tag_similarity",
				"interaction_score",
				"content_preference_match",
				"random_factor",
				"total_resonance",
				"updated_at",
			}),
		}).
		Create(record).Error
}

func (rr *resonanceRecordRepo) AppendHistory(ctx context.Context, tx *gorm.DB, pairKey string, snapshot types.ResonanceSnapshot, limit int) error {
	transaction := tx
	if transaction == nil {
		transaction = rr.db
	}

	record, err := rr.GetByPairKey(ctx, transaction, pairKey)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	history := append([]types.ResonanceSnapshot(record.History), snapshot)
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	return transaction.WithContext(ctx).
		Model(&types.ResonanceRecord{}).
		Where("pair_key = ?", pairKey).
		Update("history", datatypes.JSONSlice[types.ResonanceSnapshot](history)).Error
}
