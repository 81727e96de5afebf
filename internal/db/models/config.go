package models

import "time"

// Config is the key/value settings table (module settings, install metadata).
type Config struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
