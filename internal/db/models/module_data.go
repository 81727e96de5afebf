package models

import "time"

// ModuleAccountData stores a per-account JSON blob owned by a module.
type ModuleAccountData struct {
	ID         uint   `gorm:"primaryKey"`
	AccountID  string `gorm:"uniqueIndex:idx_account_module;not null"`
	ModuleName string `gorm:"uniqueIndex:idx_account_module;not null"`
	DataJSON   string `gorm:"type:text;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
