package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAccountNotFound is returned by mutations that target a missing account.
var ErrAccountNotFound = errors.New("account not found")

// AccountRecord is the pre-insert view of an account handed to modifiers.
type AccountRecord struct {
	Kind             string
	Name             string
	AccessTokenHash  string
	RefreshTokenHash string
}

// Modifier transforms an account record before it is inserted.
type Modifier func(AccountRecord) AccountRecord

// NewCharacter describes a character created together with its account.
type NewCharacter struct {
	Name    string
	Details models.CharacterDetails
}

// CreateParams holds everything CreateAccount persists in one transaction.
type CreateParams struct {
	Kind         string
	Name         string
	AccessToken  string
	RefreshToken string
	Characters   []NewCharacter
	ModuleData   map[string]any
	Modifiers    []Modifier
}

// Vault persists hashed session tokens and provider refresh tokens and
// resolves bearer tokens to accounts.
type Vault struct {
	db  *gorm.DB
	now func() time.Time
}

// NewVault creates a vault on top of a migrated database.
func NewVault(db *gorm.DB) *Vault {
	return &Vault{db: db, now: time.Now}
}

// HashToken is the one-way digest used as the session lookup key.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateSessionToken returns a fresh 256-bit session token.
func GenerateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func hashOptional(token string) string {
	if token == "" {
		return ""
	}
	return HashToken(token)
}

func maskToken(t string) string {
	if len(t) < 20 {
		return "***"
	}
	return "..." + t[len(t)-6:]
}

// CreateAccount inserts an account and its characters atomically.
func (v *Vault) CreateAccount(ctx context.Context, p CreateParams) (*models.Account, error) {
	record := AccountRecord{
		Kind:             p.Kind,
		Name:             p.Name,
		AccessTokenHash:  HashToken(p.AccessToken),
		RefreshTokenHash: hashOptional(p.RefreshToken),
	}
	for _, modify := range p.Modifiers {
		record = modify(record)
	}

	now := v.now()
	account := models.Account{
		ID:               uuid.New().String(),
		Kind:             record.Kind,
		Name:             record.Name,
		NameKey:          nameKey(record.Name),
		AccessTokenHash:  record.AccessTokenHash,
		RefreshToken:     p.RefreshToken,
		RefreshTokenHash: record.RefreshTokenHash,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&account).Error; err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		for _, c := range p.Characters {
			character := newCharacterRow(account.ID, c.Name, c.Details, now)
			if err := tx.Create(&character).Error; err != nil {
				return fmt.Errorf("insert character %s: %w", c.Name, err)
			}
			account.Characters = append(account.Characters, character)
		}
		for module, data := range p.ModuleData {
			if err := upsertModuleData(tx, account.ID, module, data, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Vault] Created %s account %s (ID: %s, characters: %d)", account.Kind, account.Name, account.ID, len(account.Characters))
	return &account, nil
}

// ResolveByAccessToken returns the account the session token was minted for.
// Unknown, empty or malformed tokens resolve to (nil, nil).
func (v *Vault) ResolveByAccessToken(ctx context.Context, token string) (*models.Account, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	var account models.Account
	err := v.db.WithContext(ctx).
		Preload("Characters", func(db *gorm.DB) *gorm.DB { return db.Order("name_key ASC") }).
		Where("access_token_hash = ?", HashToken(token)).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// RotateTokens replaces the session hash, which invalidates the previous
// session. An empty refresh token keeps the stored one.
func (v *Vault) RotateTokens(ctx context.Context, accountID, accessToken, refreshToken string) error {
	updates := map[string]any{
		"access_token_hash": HashToken(accessToken),
		"updated_at":        v.now(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
		updates["refresh_token_hash"] = HashToken(refreshToken)
	}
	result := v.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", accountID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	log.Printf("[Vault] Rotated session for account %s (token: %s)", accountID, maskToken(accessToken))
	return nil
}

// GetAccount loads an account by id, or (nil, nil) if it does not exist.
func (v *Vault) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := v.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// FindAccountByCharacterName finds the account owning a character with this
// name, ignoring case. Not an authentication path.
func (v *Vault) FindAccountByCharacterName(ctx context.Context, name string) (*models.Account, error) {
	character, err := v.FindCharacterByName(ctx, name)
	if err != nil || character == nil {
		return nil, err
	}
	return v.GetAccount(ctx, character.AccountID)
}

// FindAccountByAccountName finds an account by display name, ignoring case.
func (v *Vault) FindAccountByAccountName(ctx context.Context, name string) (*models.Account, error) {
	key := nameKey(name)
	if key == "" {
		return nil, nil
	}
	var account models.Account
	err := v.db.WithContext(ctx).Where("name_key = ?", key).Order("created_at ASC").First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccounts returns all accounts, newest first.
func (v *Vault) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := v.db.WithContext(ctx).Order("created_at DESC").Find(&accounts).Error
	return accounts, err
}

// ListCharacters returns an account's characters ordered by name.
func (v *Vault) ListCharacters(ctx context.Context, accountID string) ([]models.Character, error) {
	var characters []models.Character
	err := v.db.WithContext(ctx).Where("account_id = ?", accountID).Order("name_key ASC").Find(&characters).Error
	return characters, err
}

// DeleteAccount removes an account together with its characters and module data.
func (v *Vault) DeleteAccount(ctx context.Context, accountID string) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&models.ModuleAccountData{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&models.Character{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", accountID).Delete(&models.Account{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		log.Printf("[Vault] Deleted account %s", accountID)
		return nil
	})
}

// UpsertModuleAccountData stores the JSON blob a module keeps for an account.
func (v *Vault) UpsertModuleAccountData(ctx context.Context, accountID, module string, data any) error {
	return upsertModuleData(v.db.WithContext(ctx), accountID, module, data, v.now())
}

func upsertModuleData(tx *gorm.DB, accountID, module string, data any, now time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode module data for %s: %w", module, err)
	}
	var existing models.ModuleAccountData
	err = tx.Where("account_id = ? AND module_name = ?", accountID, module).First(&existing).Error
	if err == nil {
		return tx.Model(&existing).Updates(map[string]any{"data_json": string(raw), "updated_at": now}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.Create(&models.ModuleAccountData{
		AccountID:  accountID,
		ModuleName: module,
		DataJSON:   string(raw),
		CreatedAt:  now,
		UpdatedAt:  now,
	}).Error
}
