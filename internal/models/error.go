package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential and token errors
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailNotVerified      = errors.New("email address not verified")
	ErrInvalidRefreshToken   = errors.New("invalid or expired refresh token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrInvalidTOTPCode       = errors.New("invalid one-time code")

	// Registration conflicts, mapped from unique constraint violations
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")

	// OAuth errors
	ErrInvalidOAuthToken    = errors.New("invalid oauth token")
	ErrProviderUnavailable  = errors.New("identity provider unavailable")
	ErrUnsupportedProvider  = errors.New("unsupported oauth provider")
	ErrPasswordAuthDisabled = errors.New("password operations not available for oauth accounts")
)
