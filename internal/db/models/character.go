package models

import "time"

// Character is a verified provider identity bound to exactly one Account.
// (AccountID, NameKey) is unique, which makes names unique per account
// regardless of case.
type Character struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	AccountID       string    `gorm:"uniqueIndex:idx_account_character;not null" json:"-"`
	Name            string    `gorm:"not null" json:"name"`
	NameKey         string    `gorm:"uniqueIndex:idx_account_character;index;not null" json:"-"`
	CharacterID     *int64    `gorm:"index" json:"characterId"`
	CorporationID   *int64    `json:"corporationId"`
	CorporationName *string   `json:"corporationName"`
	AllianceID      *int64    `json:"allianceId"`
	AllianceName    *string   `json:"allianceName"`
	RefreshToken    string    `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CharacterDetails is the enrichment payload applied on upsert.
//
// When Affiliation is false the corporation and alliance fields were not
// resolved and nil values leave the stored ones untouched. When true the ids
// are authoritative, so a nil alliance id clears a stale alliance.
type CharacterDetails struct {
	CharacterID     *int64
	CorporationID   *int64
	CorporationName *string
	AllianceID      *int64
	AllianceName    *string
	Affiliation     bool
	RefreshToken    string
}
