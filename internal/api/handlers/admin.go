package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/modules"
	"github.com/go-chi/chi/v5"
)

// AccountsHandler handles GET /api/admin/accounts.
func AccountsHandler(vault *token.Vault, isAdmin func(string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := vault.ListAccounts(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		views := make([]AccountView, 0, len(accounts))
		for i := range accounts {
			characters, err := vault.ListCharacters(r.Context(), accounts[i].ID)
			if err != nil {
				writeError(w, err)
				return
			}
			accounts[i].Characters = characters
			views = append(views, accountView(&accounts[i], isAdmin(accounts[i].Name)))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": views,
			"count":    len(views),
		})
	}
}

// DeleteAccountHandler handles DELETE /api/admin/accounts/{id}.
func DeleteAccountHandler(vault *token.Vault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := vault.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ModuleSettingsHandler handles GET /api/admin/modules/{name}/settings.
func ModuleSettingsHandler(registry *modules.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if _, ok := registry.GetModule(name); !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Module not found"})
			return
		}
		settings, err := registry.Settings(name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"module": name, "settings": settings})
	}
}

// UpdateModuleSettingsHandler handles PUT /api/admin/modules/{name}/settings.
func UpdateModuleSettingsHandler(registry *modules.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if _, ok := registry.GetModule(name); !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Module not found"})
			return
		}
		var settings map[string]any
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
			return
		}
		updated, err := registry.UpdateSettings(name, settings)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"module": name, "settings": updated})
	}
}

// ModulesHandler handles GET /api/modules.
func ModulesHandler(registry *modules.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"modules": registry.List()})
	}
}
