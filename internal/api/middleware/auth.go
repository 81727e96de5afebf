package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/fineauth/fineauth/internal/logging"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const accountKey contextKey = "account"

// SessionResolver maps a bearer session token to its account.
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionToken string) (*models.Account, error)
}

// BearerToken extracts the session token from the Authorization header.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// SessionAuth rejects requests without a valid session and stores the
// account in the request context.
func SessionAuth(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := resolver.ResolveSession(r.Context(), BearerToken(r))
			if err != nil || account == nil {
				unauthorized(w, http.StatusUnauthorized, "Invalid session token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// AdminOnly must run after SessionAuth.
func AdminOnly(isAdmin func(accountName string) bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := AccountFromContext(r.Context())
			if account == nil || !isAdmin(account.Name) {
				unauthorized(w, http.StatusForbidden, "Admin permission required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID copies chi's request id into the logging context so service
// log lines can be correlated with the access log.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chimiddleware.GetReqID(r.Context())
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// WithAccount stores the authenticated account.
func WithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// AccountFromContext returns the authenticated account, or nil.
func AccountFromContext(ctx context.Context) *models.Account {
	account, _ := ctx.Value(accountKey).(*models.Account)
	return account
}

func unauthorized(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
