package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TierDistribution counts cluster members per activity tier.
type TierDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// QualityBreakdown holds the weighted sub-scores behind a cluster's overall
// quality score, each in [0,1].
type QualityBreakdown struct {
	Resonance float64 `json:"resonance"`
	Diversity float64 `json:"diversity"`
	Activity  float64 `json:"activity"`
	Stability float64 `json:"stability"`
}

// Cluster is a fixed-size group formed around two core users. While IsActive,
// every member's CurrentClusterID points back at this cluster. Dissolution is
// terminal: a dissolved cluster is never reactivated or modified again.
type Cluster struct {
	ID                   uuid.UUID                            `gorm:"type:uuid;primaryKey" json:"id"`
	MemberIDs            datatypes.JSONSlice[uuid.UUID]       `gorm:"column:member_ids" json:"member_ids"`
	CoreUserIDs          datatypes.JSONSlice[uuid.UUID]       `gorm:"column:core_user_ids" json:"core_user_ids"`
	ResonanceScore       float64                              `gorm:"not null;default:0;column:resonance_score" json:"resonance_score"`
	AverageResonance     float64                              `gorm:"not null;default:0;column:average_resonance" json:"average_resonance"`
	ActivityDistribution datatypes.JSONType[TierDistribution] `gorm:"column:activity_distribution" json:"activity_distribution"`
	TagDiversityScore    float64                              `gorm:"not null;default:0;column:tag_diversity_score" json:"tag_diversity_score"`
	QualityScore         float64                              `gorm:"not null;default:0;column:quality_score" json:"quality_score"`
	QualityDetail        datatypes.JSONType[QualityBreakdown] `gorm:"column:quality_detail" json:"quality_detail"`
	IsFlagged            bool                                 `gorm:"not null;default:false;column:is_flagged" json:"is_flagged"`
	IsActive             bool                                 `gorm:"not null;default:true;index;column:is_active" json:"is_active"`
	CreatedAt            time.Time                            `gorm:"not null" json:"created_at"`
	ExpiresAt            time.Time                            `gorm:"not null;index;column:expires_at" json:"expires_at"`
	UpdatedAt            time.Time                            `gorm:"not null" json:"updated_at"`
}

func (Cluster) TableName() string {
	return "cluster"
}

func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Members returns the member ids as a plain slice.
func (c *Cluster) Members() []uuid.UUID {
	return []uuid.UUID(c.MemberIDs)
}

// HasMember reports whether the given user belongs to the cluster.
func (c *Cluster) HasMember(id uuid.UUID) bool {
	for _, m := range c.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}
