package models

import "gorm.io/gorm"

type Organization struct {
	gorm.Model

	Name string `gorm:"not null"`
	Slug string `gorm:"uniqueIndex;not null"`

	// Relationships
	Users    []User    `gorm:"foreignKey:OrganizationID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	Projects []Project `gorm:"foreignKey:OrganizationID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}
