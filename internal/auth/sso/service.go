// Package sso orchestrates provider login: issuing state, handling the
// OAuth callback and keeping stored provider tokens and profile data fresh.
package sso

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/fineauth/fineauth/internal/esi"
	"github.com/fineauth/fineauth/internal/identity"
	"github.com/fineauth/fineauth/internal/logging"
	"github.com/fineauth/fineauth/internal/queue"
)

// Authorizer answers the permission questions the login flow asks.
type Authorizer interface {
	CanAddCharacters(accountName string) bool
	IsAdmin(accountName string) bool
}

// Options tunes the service. Zero values fall back to the defaults.
type Options struct {
	// Configured is false when provider credentials are missing.
	Configured        bool
	StateTTL          time.Duration
	StatusInterval    time.Duration
	RefreshInterval   time.Duration
	NameCheckInterval time.Duration
}

// Deps are the collaborators the service composes.
type Deps struct {
	Provider   Provider
	Vault      *token.Vault
	ESI        *esi.Client
	Queue      *queue.Queue
	Authorizer Authorizer
	Modifiers  func() []token.Modifier
}

// CallbackResult is the outcome of a successful callback.
type CallbackResult struct {
	Mode      string
	Account   *models.Account
	Character *models.Character
	// SessionToken is set for primary-login only; add-character keeps the
	// caller's existing session.
	SessionToken string
}

// Service owns the login state, queue and status poller for one process.
type Service struct {
	opts       Options
	provider   Provider
	vault      *token.Vault
	esi        *esi.Client
	queue      *queue.Queue
	authorizer Authorizer
	resolver   *identity.Resolver
	states     *StateStore
	poller     *esi.Poller

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires the orchestrator. Nothing runs until Start.
func NewService(opts Options, deps Deps) *Service {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Minute
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 15 * time.Minute
	}
	if opts.NameCheckInterval <= 0 {
		opts.NameCheckInterval = time.Hour
	}
	q := deps.Queue
	if q == nil {
		q = queue.New(0)
	}
	var enricher identity.Enricher
	if deps.ESI != nil {
		enricher = deps.ESI
	}

	s := &Service{
		opts:       opts,
		provider:   deps.Provider,
		vault:      deps.Vault,
		esi:        deps.ESI,
		queue:      q,
		authorizer: deps.Authorizer,
		resolver:   identity.NewResolver(deps.Vault, enricher, deps.Modifiers),
		states:     NewStateStore(opts.StateTTL),
	}
	if deps.ESI != nil {
		s.poller = esi.NewPoller(deps.ESI, q, opts.StatusInterval)
	}
	return s
}

// Queue returns the task queue shared by every provider call.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// Status returns the last published upstream status.
func (s *Service) Status() esi.StatusSnapshot {
	if s.poller == nil {
		return esi.StatusSnapshot{Status: esi.StatusUnknown}
	}
	return s.poller.Current()
}

// OnStatusChange registers a listener for status polls.
func (s *Service) OnStatusChange(fn func(esi.StatusSnapshot)) {
	if s.poller != nil {
		s.poller.OnChange(fn)
	}
}

// Configured reports whether login is available.
func (s *Service) Configured() bool {
	return s.opts.Configured && s.provider != nil
}

// BeginLogin issues a state and returns the provider authorize URL.
// add-character requires a valid session whose account may add characters.
func (s *Service) BeginLogin(ctx context.Context, mode, sessionToken string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if mode == "" || mode == "primary" {
		mode = identity.ModePrimaryLogin
	}

	var accountID, accountName string
	switch mode {
	case identity.ModePrimaryLogin:
	case identity.ModeAddCharacter:
		if sessionToken == "" {
			return "", fmt.Errorf("%w: missing session token", ErrUnauthorized)
		}
		account, err := s.vault.ResolveByAccessToken(ctx, sessionToken)
		if err != nil {
			return "", err
		}
		if account == nil {
			return "", ErrInvalidSession
		}
		if s.authorizer != nil && !s.authorizer.CanAddCharacters(account.Name) {
			return "", fmt.Errorf("%w: you do not have permission to add characters", ErrUnauthorized)
		}
		accountID, accountName = account.ID, account.Name
	default:
		return "", fmt.Errorf("unknown login mode %q", mode)
	}

	state, err := s.states.Issue(mode, accountID, accountName)
	if err != nil {
		return "", fmt.Errorf("issue login state: %w", err)
	}
	log.Printf("🔐 [SSO] [%s] Issued %s login state", logging.RequestTag(ctx), mode)
	return s.provider.AuthCodeURL(state), nil
}

// Callback completes a login. The state is consumed before any provider
// call, so a replayed callback fails even while the first is still running.
func (s *Service) Callback(ctx context.Context, code, state string) (*CallbackResult, error) {
	reqID := logging.RequestTag(ctx)
	if !s.Configured() {
		return nil, ErrNotConfigured
	}
	if code == "" || state == "" {
		log.Printf("🚫 [SSO] [%s] Callback without code or state", reqID)
		return nil, ErrInvalidState
	}
	loginState, err := s.states.Consume(state)
	if err != nil {
		log.Printf("🚫 [SSO] [%s] Rejected callback with unknown or used state", reqID)
		return nil, err
	}

	addCharacter := loginState.Mode == identity.ModeAddCharacter
	label := "ESI login"
	if addCharacter {
		label = "Add character: Authenticating"
	}

	var result *CallbackResult
	err = s.queue.Track(label, loginState.AccountName, queue.CategoryLogin, func(task queue.Task) error {
		tok, err := s.provider.Exchange(ctx, code)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProviderExchangeFailed, err)
		}
		verified, err := s.provider.Verify(ctx, tok)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProviderVerifyFailed, err)
		}
		if addCharacter {
			s.queue.UpdateLabel(task.ID, "Add character: "+verified.CharacterName)
		}

		req := identity.Request{
			Mode:           loginState.Mode,
			BoundAccountID: loginState.AccountID,
			CharacterName:  verified.CharacterName,
			CharacterID:    verified.CharacterID,
			RefreshToken:   tok.RefreshToken,
		}
		if !addCharacter {
			session, err := token.GenerateSessionToken()
			if err != nil {
				return fmt.Errorf("mint session token: %w", err)
			}
			req.SessionToken = session
		}

		res, err := s.resolver.Resolve(ctx, req)
		if err != nil {
			return err
		}
		result = &CallbackResult{
			Mode:         loginState.Mode,
			Account:      res.Account,
			Character:    res.Character,
			SessionToken: req.SessionToken,
		}
		return nil
	})
	if err != nil {
		log.Printf("❌ [SSO] [%s] %s failed: %v", reqID, label, err)
		return nil, err
	}

	log.Printf("✅ [SSO] [%s] %s completed for %s (account %s)", reqID, loginState.Mode, result.Character.Name, result.Account.Name)
	return result, nil
}

// ResolveSession returns the account behind a session token with its
// characters loaded.
func (s *Service) ResolveSession(ctx context.Context, sessionToken string) (*models.Account, error) {
	account, err := s.vault.ResolveByAccessToken(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrUnauthorized
	}
	return account, nil
}

// IsAdmin reports whether the account holds the admin permission.
func (s *Service) IsAdmin(accountName string) bool {
	return s.authorizer != nil && s.authorizer.IsAdmin(accountName)
}

// RefreshCharacters re-enriches every character of an account with the
// cache bypassed.
func (s *Service) RefreshCharacters(ctx context.Context, account *models.Account) ([]models.Character, error) {
	characters, err := s.vault.ListCharacters(ctx, account.ID)
	if err != nil || len(characters) == 0 || s.esi == nil {
		return characters, err
	}

	err = s.queue.Track("Refresh character details", account.Name, queue.CategoryRefresh, func(queue.Task) error {
		for _, c := range characters {
			var id int64
			if c.CharacterID != nil {
				id = *c.CharacterID
			}
			details := s.esi.CharacterDetails(ctx, c.Name, id, esi.FetchOptions{NoCache: true})
			if _, _, err := s.vault.UpsertCharacter(ctx, account.ID, c.Name, details); err != nil {
				return fmt.Errorf("update %s: %w", c.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🔄 [SSO] Refreshed %d characters for %s", len(characters), account.Name)
	return s.vault.ListCharacters(ctx, account.ID)
}

// Start runs the state sweep, the status poller and the scheduled jobs.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.states.Start()
	if s.poller != nil {
		s.goRun(func() { s.poller.Run(ctx) })
	}
	if s.Configured() {
		s.goRun(func() { s.every(ctx, s.opts.RefreshInterval, s.RefreshProviderTokens) })
	}
	if s.esi != nil {
		s.goRun(func() { s.every(ctx, s.opts.NameCheckInterval, s.VerifyCharacterNames) })
		s.goRun(func() { s.every(ctx, time.Minute, s.sweepCache) })
	}
	log.Printf("🚀 [SSO] Service started (login configured: %v)", s.Configured())
}

// Shutdown stops background work and waits for it to finish.
func (s *Service) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.states.Stop()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	log.Printf("🛑 [SSO] Service stopped")
}

func (s *Service) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Service) every(ctx context.Context, interval time.Duration, job func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (s *Service) sweepCache(context.Context) {
	if n := s.esi.Cache().Sweep(); n > 0 {
		log.Printf("🧹 [ESI] Swept %d expired cache entries", n)
	}
}

// RefreshProviderTokens replays stored refresh tokens, as a queued system task.
func (s *Service) RefreshProviderTokens(ctx context.Context) {
	_ = s.queue.Track("Refresh ESI tokens", "", queue.CategorySystem, func(queue.Task) error {
		s.vault.RefreshProviderTokens(ctx, s.provider)
		return nil
	})
}

// VerifyCharacterNames re-reads every character from the provider. Missing
// ids are backfilled; renames are reported since stored names are the
// lookup key for merges and never change on their own.
func (s *Service) VerifyCharacterNames(ctx context.Context) {
	_ = s.queue.Track("Verify character names", "", queue.CategorySystem, func(queue.Task) error {
		characters, err := s.vault.AllCharacters(ctx)
		if err != nil {
			log.Printf("⚠️ [SSO] Name check could not list characters: %v", err)
			return err
		}
		for _, c := range characters {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.CharacterID == nil {
				id, err := s.esi.SearchCharacterID(ctx, c.Name, esi.FetchOptions{})
				if err != nil || id <= 0 {
					continue
				}
				if _, _, err := s.vault.UpsertCharacter(ctx, c.AccountID, c.Name, models.CharacterDetails{CharacterID: &id}); err != nil {
					log.Printf("⚠️ [SSO] Failed to backfill id for %s: %v", c.Name, err)
				}
				continue
			}
			name, err := s.esi.CharacterName(ctx, *c.CharacterID)
			var upstreamErr *esi.UpstreamError
			if errors.As(err, &upstreamErr) && upstreamErr.Status == 404 {
				log.Printf("⚠️ [SSO] Character %s (%d) no longer exists upstream", c.Name, *c.CharacterID)
				continue
			}
			if err != nil {
				continue
			}
			if name != c.Name {
				log.Printf("📝 [SSO] Character %d was renamed from %s to %s", *c.CharacterID, c.Name, name)
			}
		}
		return nil
	})
}
