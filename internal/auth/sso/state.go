package sso

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/fineauth/fineauth/internal/identity"
)

// DefaultStateTTL leaves room for slow provider consent pages.
const DefaultStateTTL = 15 * time.Minute

// LoginState is one pending OAuth handshake.
type LoginState struct {
	State       string
	Mode        string
	AccountID   string
	AccountName string
	CreatedAt   time.Time
}

// StateStore issues single-use state values. Consume removes the entry in
// the same critical section that reads it, so a state can succeed at most
// once no matter how many callbacks race for it.
type StateStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	pending map[string]LoginState

	stopOnce sync.Once
	stop     chan struct{}
}

// NewStateStore creates a store. Call Start to run the expiry sweep.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]LoginState),
		stop:    make(chan struct{}),
	}
}

// Issue records a pending login and returns its state value. accountID and
// accountName are only kept for add-character.
func (s *StateStore) Issue(mode, accountID, accountName string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	if mode != identity.ModeAddCharacter {
		accountID, accountName = "", ""
	}

	s.mu.Lock()
	s.pending[state] = LoginState{
		State:       state,
		Mode:        mode,
		AccountID:   accountID,
		AccountName: accountName,
		CreatedAt:   s.now(),
	}
	s.mu.Unlock()
	return state, nil
}

// Consume returns and deletes a pending state. Unknown, expired and
// already consumed values all fail with ErrInvalidState.
func (s *StateStore) Consume(state string) (LoginState, error) {
	if state == "" {
		return LoginState{}, ErrInvalidState
	}
	s.mu.Lock()
	entry, ok := s.pending[state]
	if ok {
		delete(s.pending, state)
	}
	s.mu.Unlock()

	if !ok {
		return LoginState{}, ErrInvalidState
	}
	if s.now().Sub(entry.CreatedAt) >= s.ttl {
		return LoginState{}, ErrInvalidState
	}
	return entry, nil
}

// Len returns the number of pending states.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Sweep drops expired entries and returns how many were removed.
func (s *StateStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, v := range s.pending {
		if now.Sub(v.CreatedAt) >= s.ttl {
			delete(s.pending, k)
			removed++
		}
	}
	return removed
}

// Start runs the sweep until Stop is called.
func (s *StateStore) Start() {
	go s.gcLoop()
}

// Stop ends the sweep. Safe to call more than once.
func (s *StateStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *StateStore) gcLoop() {
	interval := s.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("🧹 [SSO] Expired %d abandoned login states", n)
			}
		}
	}
}
