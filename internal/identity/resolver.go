// Package identity decides which local account a freshly verified provider
// identity belongs to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/fineauth/fineauth/internal/esi"
)

// Login intents carried by a LoginState.
const (
	ModePrimaryLogin = "primary-login"
	ModeAddCharacter = "add-character"
)

// ErrCharacterLinked is returned when add-character targets a character
// already owned by a different account.
var ErrCharacterLinked = errors.New("character is linked to another account")

// Enricher resolves corporation and alliance metadata. Implementations must
// not fail: unresolved fields stay nil.
type Enricher interface {
	CharacterDetails(ctx context.Context, name string, characterID int64, opts esi.FetchOptions) models.CharacterDetails
}

// Request is one verified identity plus the intent that started the flow.
type Request struct {
	Mode           string
	BoundAccountID string
	CharacterName  string
	CharacterID    int64
	// SessionToken is the freshly minted local session for primary-login.
	SessionToken string
	RefreshToken string
}

// Result is the account the identity was merged into.
type Result struct {
	Account          *models.Account
	Character        *models.Character
	AccountCreated   bool
	CharacterCreated bool
}

// Resolver merges verified identities into accounts.
type Resolver struct {
	vault     *token.Vault
	enricher  Enricher
	modifiers func() []token.Modifier

	// mu covers lookup through persist so two callbacks for the same
	// character cannot both miss the lookup and both insert.
	mu sync.Mutex
}

// NewResolver creates a resolver. modifiers is consulted on every account
// creation so that modules registered later still apply.
func NewResolver(vault *token.Vault, enricher Enricher, modifiers func() []token.Modifier) *Resolver {
	return &Resolver{vault: vault, enricher: enricher, modifiers: modifiers}
}

// Resolve attaches the identity to an existing account or creates a new one.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.CharacterName == "" {
		return nil, errors.New("verified identity has no character name")
	}
	// Enrichment calls the network and runs unlocked.
	details := r.details(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch req.Mode {
	case ModeAddCharacter:
		return r.addCharacter(ctx, req, details)
	case ModePrimaryLogin, "":
		return r.primaryLogin(ctx, req, details)
	default:
		return nil, fmt.Errorf("unknown login mode %q", req.Mode)
	}
}

func (r *Resolver) details(ctx context.Context, req Request) models.CharacterDetails {
	var details models.CharacterDetails
	if r.enricher != nil {
		details = r.enricher.CharacterDetails(ctx, req.CharacterName, req.CharacterID, esi.FetchOptions{})
	}
	// The verified id wins over whatever a name search produced.
	if req.CharacterID > 0 {
		id := req.CharacterID
		details.CharacterID = &id
	}
	details.RefreshToken = req.RefreshToken
	return details
}

func (r *Resolver) addCharacter(ctx context.Context, req Request, details models.CharacterDetails) (*Result, error) {
	account, err := r.vault.GetAccount(ctx, req.BoundAccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, token.ErrAccountNotFound
	}

	owner, err := r.vault.FindAccountByCharacterName(ctx, req.CharacterName)
	if err != nil {
		return nil, err
	}
	if owner != nil && owner.ID != account.ID {
		log.Printf("🚫 [Identity] %s is already linked to account %s, refusing to add it to %s", req.CharacterName, owner.Name, account.Name)
		return nil, ErrCharacterLinked
	}

	character, created, err := r.vault.UpsertCharacter(ctx, account.ID, req.CharacterName, details)
	if err != nil {
		return nil, err
	}
	log.Printf("🔗 [Identity] Character %s attached to account %s (new=%v)", req.CharacterName, account.Name, created)
	return &Result{Account: account, Character: character, CharacterCreated: created}, nil
}

func (r *Resolver) primaryLogin(ctx context.Context, req Request, details models.CharacterDetails) (*Result, error) {
	if req.SessionToken == "" {
		return nil, errors.New("primary login requires a session token")
	}

	account, err := r.vault.FindAccountByCharacterName(ctx, req.CharacterName)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account, err = r.vault.FindAccountByAccountName(ctx, req.CharacterName)
		if err != nil {
			return nil, err
		}
	}

	if account != nil {
		if err := r.vault.RotateTokens(ctx, account.ID, req.SessionToken, req.RefreshToken); err != nil {
			return nil, err
		}
		character, created, err := r.vault.UpsertCharacter(ctx, account.ID, req.CharacterName, details)
		if err != nil {
			return nil, err
		}
		log.Printf("🔑 [Identity] %s signed in to existing account %s", req.CharacterName, account.Name)
		return &Result{Account: account, Character: character, CharacterCreated: created}, nil
	}

	var modifiers []token.Modifier
	if r.modifiers != nil {
		modifiers = r.modifiers()
	}
	account, err = r.vault.CreateAccount(ctx, token.CreateParams{
		Kind:         models.KindFederated,
		Name:         req.CharacterName,
		AccessToken:  req.SessionToken,
		RefreshToken: req.RefreshToken,
		Characters:   []token.NewCharacter{{Name: req.CharacterName, Details: details}},
		Modifiers:    modifiers,
	})
	if err != nil {
		return nil, err
	}
	var character *models.Character
	if len(account.Characters) > 0 {
		character = &account.Characters[0]
	}
	log.Printf("✨ [Identity] Created federated account %s", account.Name)
	return &Result{Account: account, Character: character, AccountCreated: true, CharacterCreated: true}, nil
}
