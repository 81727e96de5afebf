package sso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fineauth/fineauth/internal/esi"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Identity is the character a provider access token belongs to.
type Identity struct {
	CharacterID   int64
	CharacterName string
}

// Provider is the identity provider as the orchestrator sees it. Every call
// is a direct network round trip; none go through the response cache.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Verify(ctx context.Context, tok *oauth2.Token) (*Identity, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// EVEProvider talks to the SSO v2 endpoints.
type EVEProvider struct {
	config     *oauth2.Config
	verifyURL  string
	httpClient *http.Client
}

// NewEVEProvider creates a provider. httpClient may be nil.
func NewEVEProvider(config *oauth2.Config, loginBaseURL string, httpClient *http.Client) *EVEProvider {
	loginBaseURL = strings.TrimSuffix(loginBaseURL, "/")
	if loginBaseURL == "" {
		loginBaseURL = DefaultLoginBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EVEProvider{
		config:     config,
		verifyURL:  loginBaseURL + "/oauth/verify",
		httpClient: httpClient,
	}
}

// AuthCodeURL builds the authorize URL carrying state.
func (p *EVEProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (p *EVEProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.config.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, p.upstream(err)
	}
	return tok, nil
}

// Refresh replays a stored refresh token.
func (p *EVEProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := p.config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, p.upstream(err)
	}
	return tok, nil
}

// Verify resolves the character behind an access token. When the access
// token is a JWT its subject must name the same character.
func (p *EVEProvider) Verify(ctx context.Context, tok *oauth2.Token) (*Identity, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("no access token to verify")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.verifyURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &esi.UpstreamError{URL: p.verifyURL, Status: resp.StatusCode, Body: string(body), RetryAfter: esi.ParseRetryDelay(resp)}
	}

	id := &Identity{
		CharacterID:   gjson.GetBytes(body, "CharacterID").Int(),
		CharacterName: gjson.GetBytes(body, "CharacterName").String(),
	}
	if id.CharacterID <= 0 || id.CharacterName == "" {
		return nil, fmt.Errorf("verify response has no character: %s", string(body))
	}

	if subject, ok := jwtSubject(tok.AccessToken); ok {
		if subject != "CHARACTER:EVE:"+strconv.FormatInt(id.CharacterID, 10) {
			return nil, fmt.Errorf("access token subject %q does not match verified character %d", subject, id.CharacterID)
		}
	}
	return id, nil
}

// jwtSubject reads the sub claim without checking the signature; the verify
// endpoint already vouched for the token.
func jwtSubject(accessToken string) (string, bool) {
	if strings.Count(accessToken, ".") != 2 {
		return "", false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return "", false
	}
	return claims.Subject, claims.Subject != ""
}

func (p *EVEProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// upstream surfaces the provider's raw status for token endpoint failures.
func (p *EVEProvider) upstream(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &esi.UpstreamError{
			URL:        p.config.Endpoint.TokenURL,
			Status:     re.Response.StatusCode,
			Body:       string(re.Body),
			RetryAfter: esi.ParseRetryDelay(re.Response),
		}
	}
	return err
}
