// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (unknown email or wrong password).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates missing or malformed client input.
	ErrValidation = errors.New("validation")

	// ErrNoModel indicates a legacy account that has no trained model bound to it.
	ErrNoModel = errors.New("account has no bound model")

	// ErrNoModelBound indicates a session identity that carries no model id.
	ErrNoModelBound = errors.New("session has no bound model")
)
