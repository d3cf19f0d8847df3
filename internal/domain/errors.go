package domain

import "errors"

var (
	ErrSpreadNotFound  = errors.New("spread not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionState    = errors.New("operation not valid in current session state")
	ErrCardNotInDeck   = errors.New("card not in deck")
	ErrCardAlreadyDrawn = errors.New("card already drawn")
	ErrSpreadFull       = errors.New("all positions already filled")

	// ErrAccessDenied pauses the session; the user can authenticate or
	// upgrade and start a fresh one.
	ErrAccessDenied = errors.New("access denied for readings")

	// ErrSynthesisUnavailable covers backend failure after retries, a
	// missing backend, and malformed payloads alike.
	ErrSynthesisUnavailable = errors.New("synthesis unavailable")

	// ErrRateLimited is the transient resource-exhausted class; retried
	// with backoff before escalating to ErrSynthesisUnavailable.
	ErrRateLimited = errors.New("synthesis backend rate limited")

	ErrRecordNotFound = errors.New("history record not found")
)
