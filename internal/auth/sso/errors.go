package sso

import (
	"errors"

	"github.com/fineauth/fineauth/internal/auth/token"
	"github.com/fineauth/fineauth/internal/identity"
)

var (
	// ErrNotConfigured means provider credentials are missing. Login is
	// unavailable but the process keeps running.
	ErrNotConfigured = errors.New("ESI SSO is not configured")
	// ErrUnauthorized covers a missing session token and a caller lacking
	// permission for the requested login mode.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidSession is a session token that resolves to no account.
	ErrInvalidSession = errors.New("invalid session token")
	// ErrInvalidState is an unknown, expired or already used state value.
	ErrInvalidState = errors.New("invalid or expired login state")

	ErrProviderExchangeFailed = errors.New("failed to exchange ESI code")
	ErrProviderVerifyFailed   = errors.New("failed to verify ESI token")

	ErrAccountNotFound = token.ErrAccountNotFound
	ErrCharacterLinked = identity.ErrCharacterLinked
)
