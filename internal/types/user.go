package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PreferenceMap is a typed tag->weight structure. Weights are expected to be
// in [0,1]; Validate rejects anything outside that range.
type PreferenceMap map[string]float64

func (p PreferenceMap) Validate() error {
	for tag, w := range p {
		if tag == "" {
			return fmt.Errorf("preference map contains empty tag key")
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("preference weight for %q out of range [0,1]: %v", tag, w)
		}
	}
	return nil
}

type User struct {
	ID                 uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	Tags               datatypes.JSONSlice[string]       `gorm:"column:tags" json:"tags"`
	DaysActive         int                               `gorm:"not null;default:0;column:days_active" json:"days_active"`
	LastActiveAt       *time.Time                        `gorm:"column:last_active_at" json:"last_active_at"`
	ContentPreferences datatypes.JSONType[PreferenceMap] `gorm:"column:content_preferences" json:"content_preferences"`
	CurrentClusterID   *uuid.UUID                        `gorm:"type:uuid;index;column:current_cluster_id" json:"current_cluster_id"`
	Region             string                            `gorm:"column:region" json:"region"`
	IsActive           bool                              `gorm:"not null;default:true;column:is_active" json:"is_active"`
	CreatedAt          time.Time                         `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                         `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// TagList returns the user's tags as a plain slice.
func (u *User) TagList() []string {
	return []string(u.Tags)
}

// Preferences returns the user's preference map, never nil.
func (u *User) Preferences() PreferenceMap {
	p := u.ContentPreferences.Data()
	if p == nil {
		return PreferenceMap{}
	}
	return p
}
