package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ResonanceFactors are the individual signals behind one resonance score,
// each in [0,1].
type ResonanceFactors struct {
	TagSimilarity          float64 `json:"tag_similarity"`
	InteractionScore       float64 `json:"interaction_score"`
	ContentPreferenceMatch float64 `json:"content_preference_match"`
	RandomFactor           float64 `json:"random_factor"`
}

// ResonanceSnapshot is one entry of a record's append-only history.
type ResonanceSnapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Resonance float64          `json:"resonance"`
	Factors   ResonanceFactors `json:"factors"`
}

// ResonanceRecord stores the latest resonance for an unordered user pair.
// UserAID/UserBID are stored sorted so each pair has exactly one row; the
// record is updated in place on recompute, never replaced.
type ResonanceRecord struct {
	ID                     uuid.UUID                              `gorm:"type:uuid;primaryKey" json:"id"`
	PairKey                string                                 `gorm:"uniqueIndex;not null;column:pair_key" json:"pair_key"`
	UserAID                uuid.UUID                              `gorm:"type:uuid;not null;index;column:user_a_id" json:"user_a_id"`
	UserBID                uuid.UUID                              `gorm:"type:uuid;not null;index;column:user_b_id" json:"user_b_id"`
	TagSimilarity          float64                                `gorm:"not null;default:0;column:tag_similarity" json:"tag_similarity"`
	InteractionScore       float64                                `gorm:"not null;default:0;column:interaction_score" json:"interaction_score"`
	ContentPreferenceMatch float64                                `gorm:"not null;default:0;column:content_preference_match" json:"content_preference_match"`
	RandomFactor           float64                                `gorm:"not null;default:0;column:random_factor" json:"random_factor"`
	TotalResonance         float64                                `gorm:"not null;default:0;column:total_resonance" json:"total_resonance"`
	History                datatypes.JSONSlice[ResonanceSnapshot] `gorm:"column:history" json:"history"`
	CreatedAt              time.Time                              `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time                              `gorm:"not null" json:"updated_at"`
}

func (ResonanceRecord) TableName() string {
	return "resonance_record"
}

func (r *ResonanceRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// PairKey builds the canonical unordered key for a user pair: the two ids
// sorted lexically and joined with ":". PairKey(a,b) == PairKey(b,a).
func PairKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if strings.Compare(as, bs) > 0 {
		as, bs = bs, as
	}
	return as + ":" + bs
}

// SortedPair returns the pair in canonical (sorted) order.
func SortedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if strings.Compare(a.String(), b.String()) > 0 {
		return b, a
	}
	return a, b
}
