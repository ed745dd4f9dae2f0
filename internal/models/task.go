package models

import "gorm.io/gorm"

// Task is a kanban card. Status names the board column; Position orders
// cards within it.
type Task struct {
	gorm.Model

	ProjectID   uint   `gorm:"not null;index"`
	Title       string `gorm:"not null"`
	Description string
	Status      string `gorm:"not null;index"`
	Position    int    `gorm:"not null;default:0"`
	AssigneeID  *uint  `gorm:"index"`

	// Relationships
	Project  Project   `gorm:"foreignKey:ProjectID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	Comments []Comment `gorm:"foreignKey:TaskID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}
