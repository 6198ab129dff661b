// Package sentinel holds dependency errors shared across stores and services.
// Stores return these (optionally wrapped); services translate them once.
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("unavailable")

	// ErrScriptUnavailable means the store answered but the atomic script it
	// needs is not loaded.
	ErrScriptUnavailable = errors.New("script unavailable")

	// ErrQuotaExceeded marks a denied admission decision.
	ErrQuotaExceeded = errors.New("quota exceeded")
)
