package models

import "time"

// Account kinds.
const (
	KindServiceLogin = "service-login"
	KindFederated    = "federated"
)

// Account is a local principal. One account owns one or more characters.
type Account struct {
	ID               string              `gorm:"primaryKey" json:"id"` // UUID
	Kind             string              `gorm:"not null" json:"type"`
	Name             string              `gorm:"not null" json:"name"`
	NameKey          string              `gorm:"index;not null" json:"-"`
	AccessTokenHash  string              `gorm:"uniqueIndex;not null" json:"-"`
	RefreshToken     string              `json:"-"` // replayed to the provider, kept in clear
	RefreshTokenHash string              `json:"-"`
	Characters       []Character         `gorm:"constraint:OnDelete:CASCADE" json:"characters,omitempty"`
	ModuleData       []ModuleAccountData `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}
