package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Notification struct {
	gorm.Model

	UserID  uint   `gorm:"not null;index"`
	Type    string `gorm:"not null"` // e.g. "task_assigned", "comment_mention", "invitation"
	Title   string `gorm:"not null"`
	Message string
	Link    string
	Data    datatypes.JSON `gorm:"type:jsonb"`
	ReadAt  *time.Time     `gorm:"index"`

	// Relationships
	User User `gorm:"foreignKey:UserID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}
