package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/fineauth/fineauth/internal/api/middleware"
	"github.com/fineauth/fineauth/internal/auth/sso"
	"github.com/fineauth/fineauth/internal/identity"
)

// LoginHandler handles POST /api/auth/login and returns the provider
// authorize URL.
func LoginHandler(svc *sso.Service) http.HandlerFunc {
	type request struct {
		Mode  string `json:"mode"`
		Token string `json:"token"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
				return
			}
		}
		if req.Token == "" {
			req.Token = middleware.BearerToken(r)
		}

		url, err := svc.BeginLogin(r.Context(), req.Mode, req.Token)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
</head>
<body>
	<script>
		{{if .SessionToken}}localStorage.setItem('fineauth_token', {{.SessionToken}});{{end}}
		window.location.href = {{.Redirect}};
	</script>
	<p>{{.Message}}</p>
</body>
</html>`))

type callbackView struct {
	Title        string
	SessionToken string
	Redirect     string
	Message      string
}

// CallbackHandler handles GET /callback from the provider.
func CallbackHandler(svc *sso.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The provider round trip must finish even if the browser gives up.
		ctx := context.WithoutCancel(r.Context())
		q := r.URL.Query()

		result, err := svc.Callback(ctx, q.Get("code"), q.Get("state"))
		if err != nil {
			http.Error(w, "ESI login failed: "+err.Error(), statusFor(err))
			return
		}

		view := callbackView{
			Title:        "FineAuth ESI Login",
			SessionToken: result.SessionToken,
			Redirect:     "/#/module/home",
			Message:      "Signing you in...",
		}
		if result.Mode == identity.ModeAddCharacter {
			view = callbackView{
				Title:    "FineAuth Characters",
				Redirect: "/#/module/characters",
				Message:  "Adding character...",
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = callbackPage.Execute(w, view)
	}
}

// SessionHandler handles GET /api/session.
func SessionHandler(svc *sso.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := middleware.AccountFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"account": accountView(account, svc.IsAdmin(account.Name)),
		})
	}
}
