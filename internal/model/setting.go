package model

import "time"

// Setting is one per-user preference stored as a string value.
type Setting struct {
	UserID    uint   `gorm:"primaryKey"`
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}
