package sso

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/db"
	"github.com/fineauth/fineauth/internal/esi"
	"github.com/fineauth/fineauth/internal/queue"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testClientID     = "client-id"
	testClientSecret = "client-secret"
)

// fakeSSO mimics the provider's token and verify endpoints. Codes map to
// the character the resulting access token verifies as.
type fakeSSO struct {
	characters map[string]Identity
	exchanges  atomic.Int32
}

func (f *fakeSSO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v2/oauth/token":
		user, pass, ok := r.BasicAuth()
		if !ok || user != testClientID || pass != testClientSecret {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		_ = r.ParseForm()
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			f.exchanges.Add(1)
			code := r.Form.Get("code")
			if _, ok := f.characters[code]; !ok {
				writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
				return
			}
			writeTestJSON(w, http.StatusOK, map[string]any{
				"access_token":  "at-" + code,
				"token_type":    "Bearer",
				"expires_in":    1199,
				"refresh_token": "rt-" + code,
			})
		case "refresh_token":
			rt := r.Form.Get("refresh_token")
			if strings.HasPrefix(rt, "revoked") {
				writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			writeTestJSON(w, http.StatusOK, map[string]any{
				"access_token":  "at-refreshed",
				"token_type":    "Bearer",
				"expires_in":    1199,
				"refresh_token": rt + "-next",
			})
		default:
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	case "/oauth/verify":
		code := strings.TrimPrefix(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "), "at-")
		id, ok := f.characters[code]
		if !ok || id.CharacterID == 0 {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "token is invalid"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"CharacterID":   id.CharacterID,
			"CharacterName": id.CharacterName,
			"TokenType":     "Character",
		})
	default:
		http.NotFound(w, r)
	}
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeESIData serves status and character lookups.
func fakeESIData() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/status/", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"players": 21000, "server_version": "2345678"})
	})
	mux.HandleFunc("/latest/characters/123/", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"name": "Jane Doe", "corporation_id": 98000001})
	})
	mux.HandleFunc("/latest/corporations/98000001/", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"name": "Jane Corp"})
	})
	return mux
}

type allowAll struct{ admins map[string]bool }

func (a allowAll) CanAddCharacters(string) bool { return true }
func (a allowAll) IsAdmin(name string) bool     { return a.admins[name] }

type testEnv struct {
	svc   *Service
	vault *token.Vault
	db    *gorm.DB
	sso   *fakeSSO
	queue *queue.Queue
}

func newTestEnv(t *testing.T, authz Authorizer) *testEnv {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	fake := &fakeSSO{characters: map[string]Identity{
		"code-jane": {CharacterID: 123, CharacterName: "Jane Doe"},
		"code-alt":  {CharacterID: 456, CharacterName: "Jane Alt"},
		"code-bad":  {CharacterName: "Unverifiable"},
	}}
	ssoSrv := httptest.NewServer(fake)
	t.Cleanup(ssoSrv.Close)
	esiSrv := httptest.NewServer(fakeESIData())
	t.Cleanup(esiSrv.Close)

	if authz == nil {
		authz = allowAll{}
	}
	vault := token.NewVault(database)
	q := queue.New(0)
	provider := NewEVEProvider(OAuthConfig(testClientID, testClientSecret, "http://localhost/callback", ssoSrv.URL, []string{"publicData"}), ssoSrv.URL, nil)
	svc := NewService(Options{Configured: true}, Deps{
		Provider:   provider,
		Vault:      vault,
		ESI:        esi.NewClient(esi.Options{BaseURL: esiSrv.URL + "/latest"}),
		Queue:      q,
		Authorizer: authz,
	})
	t.Cleanup(svc.Shutdown)
	return &testEnv{svc: svc, vault: vault, db: database, sso: fake, queue: q}
}

// stateFromURL pulls the state parameter out of an authorize URL.
func stateFromURL(t *testing.T, authorizeURL string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, authorizeURL, nil)
	if err != nil {
		t.Fatalf("bad authorize url %q: %v", authorizeURL, err)
	}
	state := req.URL.Query().Get("state")
	if state == "" {
		t.Fatalf("authorize url has no state: %s", authorizeURL)
	}
	return state
}
