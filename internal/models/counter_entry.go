package models

import (
	"time"
)

// CounterEntry holds an integer cache value in the database fallback store.
// A nil ExpiresAt never expires.
type CounterEntry struct {
	Key       string     `gorm:"column:counter_key;primaryKey;size:256"`
	Value     int64      `gorm:"not null;default:0"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
