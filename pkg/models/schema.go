package models

import (
	"time"

	"gorm.io/datatypes"
)

// SchemaVersion migration
type SchemaVersion struct {
	Base
	Service string `gorm:"uniqueIndex:service_version"`
	Version int    `gorm:"uniqueIndex:service_version"`
}

// SystemFlag persists one-way switches of the directory, such as the
// bootstrap latch.
type SystemFlag struct {
	Name      string    `gorm:"primaryKey;size:100"`
	Value     string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SystemFlag) TableName() string {
	return "system_flags"
}

// Dashboard is a personal, opaque UI document stored per user uid.
type Dashboard struct {
	UserUID   string         `json:"userUid" gorm:"column:user_uid;primaryKey;size:100"`
	Dashboard datatypes.JSON `json:"dashboard"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (Dashboard) TableName() string {
	return "dashboards"
}
