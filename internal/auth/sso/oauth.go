package sso

import (
	"strings"

	"golang.org/x/oauth2"
)

// DefaultLoginBaseURL is the provider's SSO host.
const DefaultLoginBaseURL = "https://login.eveonline.com"

// Endpoint returns the SSO v2 endpoints under baseURL. The provider wants
// client credentials as HTTP Basic auth on the token call.
func Endpoint(baseURL string) oauth2.Endpoint {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultLoginBaseURL
	}
	return oauth2.Endpoint{
		AuthURL:   baseURL + "/v2/oauth/authorize",
		TokenURL:  baseURL + "/v2/oauth/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

// OAuthConfig builds the oauth2 config for the provider application.
func OAuthConfig(clientID, clientSecret, callbackURL, loginBaseURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  callbackURL,
		Scopes:       scopes,
		Endpoint:     Endpoint(loginBaseURL),
	}
}
