package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fineauth/fineauth/internal/db/models"
	"gorm.io/gorm"
)

func newCharacterRow(accountID, name string, d models.CharacterDetails, now time.Time) models.Character {
	return models.Character{
		AccountID:       accountID,
		Name:            strings.TrimSpace(name),
		NameKey:         nameKey(name),
		CharacterID:     d.CharacterID,
		CorporationID:   d.CorporationID,
		CorporationName: d.CorporationName,
		AllianceID:      d.AllianceID,
		AllianceName:    d.AllianceName,
		RefreshToken:    d.RefreshToken,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// UpsertCharacter inserts the character on the account or refreshes the
// enrichment and refresh-token fields of the existing row. Name and owner
// never change. The boolean reports whether a row was inserted.
func (v *Vault) UpsertCharacter(ctx context.Context, accountID, name string, details models.CharacterDetails) (*models.Character, bool, error) {
	if nameKey(name) == "" {
		return nil, false, errors.New("character name is required")
	}
	db := v.db.WithContext(ctx)

	existing, err := findCharacter(db, accountID, name)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		row := newCharacterRow(accountID, name, details, v.now())
		err := db.Create(&row).Error
		if err == nil {
			return &row, true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("insert character %s: %w", name, err)
		}
		// Lost an insert race for the same (account, name); update the winner.
		if existing, err = findCharacter(db, accountID, name); err != nil || existing == nil {
			return nil, false, fmt.Errorf("reload character %s: %w", name, err)
		}
	}

	updates := changedFields(existing, details)
	updates["updated_at"] = v.now()
	if err := db.Model(existing).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("update character %s: %w", name, err)
	}
	updated, err := findCharacter(db, accountID, name)
	if err != nil {
		return nil, false, err
	}
	return updated, false, nil
}

// FindCharacterByName returns any character with this name, on any account.
func (v *Vault) FindCharacterByName(ctx context.Context, name string) (*models.Character, error) {
	key := nameKey(name)
	if key == "" {
		return nil, nil
	}
	var character models.Character
	err := v.db.WithContext(ctx).Where("name_key = ?", key).Order("id ASC").First(&character).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &character, nil
}

// AllCharacters returns every stored character. Used by scheduled jobs.
func (v *Vault) AllCharacters(ctx context.Context) ([]models.Character, error) {
	var characters []models.Character
	err := v.db.WithContext(ctx).Order("id ASC").Find(&characters).Error
	return characters, err
}

func findCharacter(db *gorm.DB, accountID, name string) (*models.Character, error) {
	var character models.Character
	err := db.Where("account_id = ? AND name_key = ?", accountID, nameKey(name)).First(&character).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &character, nil
}

func changedFields(c *models.Character, d models.CharacterDetails) map[string]any {
	updates := make(map[string]any)
	if d.CharacterID != nil && !equalInt(c.CharacterID, d.CharacterID) {
		updates["character_id"] = *d.CharacterID
	}
	setInt := func(column string, current, next *int64) {
		if (d.Affiliation || next != nil) && !equalInt(current, next) {
			updates[column] = next
		}
	}
	// A name is only cleared together with its id; a failed name lookup
	// for a known id keeps the stored name.
	setString := func(column string, current, next *string, id *int64) {
		clearable := d.Affiliation && id == nil
		if (clearable || next != nil) && !equalString(current, next) {
			updates[column] = next
		}
	}
	setInt("corporation_id", c.CorporationID, d.CorporationID)
	setString("corporation_name", c.CorporationName, d.CorporationName, d.CorporationID)
	setInt("alliance_id", c.AllianceID, d.AllianceID)
	setString("alliance_name", c.AllianceName, d.AllianceName, d.AllianceID)
	if d.RefreshToken != "" && d.RefreshToken != c.RefreshToken {
		updates["refresh_token"] = d.RefreshToken
	}
	return updates
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
