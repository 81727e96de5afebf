package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/db"
	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/fineauth/fineauth/internal/esi"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeEnricher struct {
	details models.CharacterDetails
	calls   int
}

func (f *fakeEnricher) CharacterDetails(_ context.Context, _ string, _ int64, _ esi.FetchOptions) models.CharacterDetails {
	f.calls++
	return f.details
}

func newTestResolver(t *testing.T, enricher Enricher, modifiers ...token.Modifier) (*Resolver, *token.Vault, *gorm.DB) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	vault := token.NewVault(database)
	return NewResolver(vault, enricher, func() []token.Modifier { return modifiers }), vault, database
}

func countAccounts(t *testing.T, database *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := database.Model(&models.Account{}).Count(&n).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	return n
}

func TestResolve_NewAccount(t *testing.T) {
	corp := "Jane Corp"
	corpID := int64(98000001)
	enricher := &fakeEnricher{details: models.CharacterDetails{CorporationID: &corpID, CorporationName: &corp, Affiliation: true}}
	r, vault, database := newTestResolver(t, enricher)
	ctx := context.Background()

	res, err := r.Resolve(ctx, Request{
		Mode:          ModePrimaryLogin,
		CharacterName: "Jane Doe",
		CharacterID:   123,
		SessionToken:  "session-1",
		RefreshToken:  "refresh-1",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.AccountCreated || res.Account.Kind != models.KindFederated {
		t.Fatalf("expected a new federated account, got %+v", res)
	}
	if res.Character == nil || *res.Character.CharacterID != 123 || *res.Character.CorporationName != corp {
		t.Fatalf("unexpected character %+v", res.Character)
	}
	if enricher.calls != 1 {
		t.Fatalf("expected one enrichment call, got %d", enricher.calls)
	}

	resolved, _ := vault.ResolveByAccessToken(ctx, "session-1")
	if resolved == nil || resolved.ID != res.Account.ID {
		t.Fatalf("session token must resolve to the new account")
	}
	if countAccounts(t, database) != 1 {
		t.Fatalf("expected exactly one account")
	}
}

func TestResolve_ExistingAccountByName(t *testing.T) {
	r, vault, database := newTestResolver(t, &fakeEnricher{})
	ctx := context.Background()

	existing, err := vault.CreateAccount(ctx, token.CreateParams{
		Kind:        models.KindServiceLogin,
		Name:        "Jane Doe",
		AccessToken: "old-session",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := r.Resolve(ctx, Request{Mode: ModePrimaryLogin, CharacterName: "jane doe", CharacterID: 123, SessionToken: "new-session"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.AccountCreated || res.Account.ID != existing.ID {
		t.Fatalf("expected login to attach to %s, got %+v", existing.ID, res)
	}
	if countAccounts(t, database) != 1 {
		t.Fatalf("no second account may be created")
	}
	if old, _ := vault.ResolveByAccessToken(ctx, "old-session"); old != nil {
		t.Fatalf("old session must be invalidated by rotation")
	}
	characters, _ := vault.ListCharacters(ctx, existing.ID)
	if len(characters) != 1 {
		t.Fatalf("expected one character, got %d", len(characters))
	}

	// A second login keeps the character count at one.
	if _, err := r.Resolve(ctx, Request{Mode: ModePrimaryLogin, CharacterName: "Jane Doe", CharacterID: 123, SessionToken: "third-session"}); err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	characters, _ = vault.ListCharacters(ctx, existing.ID)
	if len(characters) != 1 {
		t.Fatalf("expected one character after relogin, got %d", len(characters))
	}
}

func TestResolve_CharacterNameWinsOverAccountName(t *testing.T) {
	r, vault, database := newTestResolver(t, &fakeEnricher{})
	ctx := context.Background()

	owner, err := vault.CreateAccount(ctx, token.CreateParams{
		Kind:        models.KindFederated,
		Name:        "Main Pilot",
		AccessToken: "owner-session",
		Characters:  []token.NewCharacter{{Name: "Alt Pilot"}},
	})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := vault.CreateAccount(ctx, token.CreateParams{Kind: models.KindServiceLogin, Name: "Alt Pilot", AccessToken: "decoy"}); err != nil {
		t.Fatalf("create decoy: %v", err)
	}

	res, err := r.Resolve(ctx, Request{Mode: ModePrimaryLogin, CharacterName: "Alt Pilot", CharacterID: 9, SessionToken: "s"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Account.ID != owner.ID {
		t.Fatalf("character owner must win, got account %s", res.Account.Name)
	}
	if countAccounts(t, database) != 2 {
		t.Fatalf("no account may be created")
	}
}

func TestResolve_AddCharacter(t *testing.T) {
	r, vault, _ := newTestResolver(t, &fakeEnricher{})
	ctx := context.Background()

	account, _ := vault.CreateAccount(ctx, token.CreateParams{
		Kind:        models.KindFederated,
		Name:        "Jane Doe",
		AccessToken: "session",
		Characters:  []token.NewCharacter{{Name: "Jane Doe"}},
	})

	res, err := r.Resolve(ctx, Request{Mode: ModeAddCharacter, BoundAccountID: account.ID, CharacterName: "Jane Alt", CharacterID: 456, RefreshToken: "alt-refresh"})
	if err != nil {
		t.Fatalf("add character: %v", err)
	}
	if res.Account.ID != account.ID || !res.CharacterCreated {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Character.RefreshToken != "alt-refresh" {
		t.Fatalf("character refresh token not stored")
	}
	if still, _ := vault.ResolveByAccessToken(ctx, "session"); still == nil {
		t.Fatalf("add-character must not rotate the session")
	}
	characters, _ := vault.ListCharacters(ctx, account.ID)
	if len(characters) != 2 {
		t.Fatalf("expected two characters, got %d", len(characters))
	}
}

func TestResolve_AddCharacterErrors(t *testing.T) {
	r, vault, _ := newTestResolver(t, &fakeEnricher{})
	ctx := context.Background()

	_, err := r.Resolve(ctx, Request{Mode: ModeAddCharacter, BoundAccountID: "missing", CharacterName: "Jane Doe"})
	if !errors.Is(err, token.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	a, _ := vault.CreateAccount(ctx, token.CreateParams{Kind: models.KindFederated, Name: "A", AccessToken: "a", Characters: []token.NewCharacter{{Name: "Shared"}}})
	b, _ := vault.CreateAccount(ctx, token.CreateParams{Kind: models.KindFederated, Name: "B", AccessToken: "b"})
	_, err = r.Resolve(ctx, Request{Mode: ModeAddCharacter, BoundAccountID: b.ID, CharacterName: "shared"})
	if !errors.Is(err, ErrCharacterLinked) {
		t.Fatalf("expected ErrCharacterLinked, got %v", err)
	}
	characters, _ := vault.ListCharacters(ctx, a.ID)
	if len(characters) != 1 {
		t.Fatalf("owner's characters must be untouched")
	}
}

func TestResolve_ModifiersApplyOnCreate(t *testing.T) {
	tag := func(rec token.AccountRecord) token.AccountRecord {
		rec.Name = rec.Name + " [new]"
		return rec
	}
	r, _, _ := newTestResolver(t, nil, tag)

	res, err := r.Resolve(context.Background(), Request{Mode: ModePrimaryLogin, CharacterName: "Jane Doe", CharacterID: 123, SessionToken: "s"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Account.Name != "Jane Doe [new]" {
		t.Fatalf("modifier not applied, got %q", res.Account.Name)
	}
	if res.Character.Name != "Jane Doe" {
		t.Fatalf("character name must not be modified, got %q", res.Character.Name)
	}
}

func TestResolve_EnrichmentFailureStillLinks(t *testing.T) {
	r, _, _ := newTestResolver(t, &fakeEnricher{})

	res, err := r.Resolve(context.Background(), Request{Mode: ModePrimaryLogin, CharacterName: "Jane Doe", CharacterID: 123, SessionToken: "s"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Character.CorporationName != nil || res.Character.AllianceName != nil {
		t.Fatalf("expected nil enrichment fields")
	}
	if *res.Character.CharacterID != 123 {
		t.Fatalf("verified id must be stored")
	}
}

func TestResolve_UnknownMode(t *testing.T) {
	r, _, _ := newTestResolver(t, nil)
	if _, err := r.Resolve(context.Background(), Request{Mode: "bogus", CharacterName: "x"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
