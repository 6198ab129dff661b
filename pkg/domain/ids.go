// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "bookmarks/pkg/domain-errors"
)

// MaxSubjectIDLength bounds identity-provider subjects accepted from credentials.
const MaxSubjectIDLength = 255

// Distinct ID types - compiler prevents passing UserID where TokenID is expected.
type (
	UserID  uuid.UUID
	TokenID uuid.UUID
)

// SubjectID is the stable identity-provider subject ("auth0|abc123"). Quota
// pools and identity cache entries are keyed on it.
type SubjectID string

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseTokenID(s string) (TokenID, error) {
	id, err := parseUUID(s, "token ID")
	return TokenID(id), err
}

func ParseSubjectID(s string) (SubjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject ID cannot be empty")
	}
	if len(s) > MaxSubjectIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject ID too long")
	}
	return SubjectID(s), nil
}

// String methods - for logging and debugging.

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id TokenID) String() string   { return uuid.UUID(id).String() }
func (id SubjectID) String() string { return string(id) }

// IsNil checks - used for service-layer validation.

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool { return id == "" }

// parseUUID is the shared validation logic. Nil UUIDs are allowed here; the
// service layer rejects them with IsNil so stores can return not-found.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
