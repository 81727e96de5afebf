package token

import (
	"context"
	"log"
	"strings"

	"github.com/fineauth/fineauth/internal/db/models"
	"golang.org/x/oauth2"
)

// Refresher exchanges a provider refresh token for a fresh token set.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// RefreshStats summarises one refresh pass.
type RefreshStats struct {
	Refreshed int
	Rotated   int
	Revoked   int
	Failed    int
}

// RefreshProviderTokens replays every stored character refresh token to the
// provider. Rotated refresh tokens are persisted; permanently rejected ones
// are cleared so the character must log in again. Best effort: errors are
// counted, never returned.
func (v *Vault) RefreshProviderTokens(ctx context.Context, r Refresher) RefreshStats {
	var stats RefreshStats

	var characters []models.Character
	if err := v.db.WithContext(ctx).Where("refresh_token <> ''").Find(&characters).Error; err != nil {
		log.Printf("⚠️ [Vault] Failed to list refresh tokens: %v", err)
		return stats
	}

	// replaceRefreshToken rewrites every row holding a token, so a token
	// shared by several rows is replayed once per pass.
	seen := make(map[string]bool, len(characters))
	for _, c := range characters {
		if ctx.Err() != nil {
			break
		}
		if seen[c.RefreshToken] {
			continue
		}
		seen[c.RefreshToken] = true

		newToken, err := r.Refresh(ctx, c.RefreshToken)
		if err != nil {
			if isPermanentRefreshError(err) {
				stats.Revoked++
				v.replaceRefreshToken(ctx, c.RefreshToken, "")
				log.Printf("🔒 [Vault] Refresh token for %s was rejected; character must log in again", c.Name)
				continue
			}
			stats.Failed++
			log.Printf("⏳ [Vault] Transient refresh failure for %s: %v", c.Name, err)
			continue
		}

		stats.Refreshed++
		if newToken.RefreshToken != "" && newToken.RefreshToken != c.RefreshToken {
			stats.Rotated++
			v.replaceRefreshToken(ctx, c.RefreshToken, newToken.RefreshToken)
			log.Printf("🔄 [Vault] Rotated refresh token for %s", c.Name)
		}
	}

	log.Printf("✅ [Vault] Provider token refresh: refreshed=%d rotated=%d revoked=%d failed=%d",
		stats.Refreshed, stats.Rotated, stats.Revoked, stats.Failed)
	return stats
}

// replaceRefreshToken swaps a refresh token everywhere it is stored.
func (v *Vault) replaceRefreshToken(ctx context.Context, old, replacement string) {
	db := v.db.WithContext(ctx)
	now := v.now()
	if err := db.Model(&models.Character{}).Where("refresh_token = ?", old).
		Updates(map[string]any{"refresh_token": replacement, "updated_at": now}).Error; err != nil {
		log.Printf("⚠️ [Vault] Failed to store refresh token on characters: %v", err)
	}
	if err := db.Model(&models.Account{}).Where("refresh_token = ?", old).
		Updates(map[string]any{"refresh_token": replacement, "refresh_token_hash": hashOptional(replacement), "updated_at": now}).Error; err != nil {
		log.Printf("⚠️ [Vault] Failed to store refresh token on accounts: %v", err)
	}
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"invalid_token",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
