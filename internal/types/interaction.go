package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Interaction rows are immutable once written. They are the source of truth
// for recomputing interaction-based resonance signals.
type Interaction struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID    uuid.UUID `gorm:"type:uuid;not null;index;column:actor_id" json:"actor_id"`
	TargetID   uuid.UUID `gorm:"type:uuid;not null;index;column:target_id" json:"target_id"`
	TargetType string    `gorm:"not null;column:target_type" json:"target_type"`
	ActionType string    `gorm:"not null;index;column:action_type" json:"action_type"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (Interaction) TableName() string {
	return "interaction"
}

func (i *Interaction) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Known action types. Unknown ones still score via DefaultActionWeight.
const (
	ActionLike     = "like"
	ActionComment  = "comment"
	ActionForward  = "forward"
	ActionView     = "view"
	ActionShare    = "share"
	ActionBookmark = "bookmark"
	ActionPost     = "post"
)
