package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/fineauth/fineauth/internal/auth/sso"
	"github.com/fineauth/fineauth/internal/db/models"
	"github.com/fineauth/fineauth/internal/esi"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var upstreamErr *esi.UpstreamError
	switch {
	case errors.Is(err, sso.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, sso.ErrUnauthorized), errors.Is(err, sso.ErrInvalidSession):
		return http.StatusUnauthorized
	case errors.Is(err, sso.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, sso.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, sso.ErrCharacterLinked):
		return http.StatusConflict
	case errors.Is(err, sso.ErrProviderExchangeFailed), errors.Is(err, sso.ErrProviderVerifyFailed), errors.As(err, &upstreamErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("❌ Internal error: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// AccountView is the client-facing account shape.
type AccountView struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	Characters []models.Character `json:"characters"`
	IsAdmin    bool               `json:"isAdmin"`
}

func accountView(a *models.Account, isAdmin bool) AccountView {
	characters := a.Characters
	if characters == nil {
		characters = []models.Character{}
	}
	return AccountView{ID: a.ID, Name: a.Name, Type: a.Kind, Characters: characters, IsAdmin: isAdmin}
}
