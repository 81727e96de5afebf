package handlers

import (
	"net/http"

	"github.com/fineauth/fineauth/internal/api/middleware"
	"github.com/fineauth/fineauth/internal/auth/sso"
)

// StatusHandler handles GET /api/esi/status.
func StatusHandler(svc *sso.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// QueueHandler handles GET /api/esi/queue.
func QueueHandler(svc *sso.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Queue().Snapshot())
	}
}

// RefreshCharactersHandler handles POST /api/characters/refresh.
func RefreshCharactersHandler(svc *sso.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := middleware.AccountFromContext(r.Context())
		characters, err := svc.RefreshCharacters(r.Context(), account)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"characters": characters})
	}
}
