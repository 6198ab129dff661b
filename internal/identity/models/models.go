// Package models holds the identity snapshot cached at the admission boundary.
package models

import (
	"strings"
	"time"

	id "bookmarks/pkg/domain"
)

// Entry is a point-in-time snapshot of a subject's identity and consent
// state. Entries are replaced wholesale, never patched.
//
// Email and ConsentVersion are nullable: a nil Email is a real value (the
// account has no email on record), distinct from an absent entry.
//
// EmailManaged is set once the user has edited their email through the API.
// From then on the stored email is theirs and credential claims no longer
// overwrite it.
type Entry struct {
	SubjectID      id.SubjectID
	UserID         id.UserID
	Email          *string
	EmailManaged   bool
	ConsentVersion *string
	CachedAt       time.Time
	TTL            time.Duration
}

// EmailMismatch reports whether a freshly presented email claim contradicts
// the cached one. Both must be present; a nil on either side never mismatches,
// and the comparison ignores case. A user-managed email never mismatches.
func (e *Entry) EmailMismatch(claim *string) bool {
	if e.EmailManaged || e.Email == nil || claim == nil {
		return false
	}
	return !strings.EqualFold(*e.Email, *claim)
}

// HasConsent reports whether the entry carries exactly the given consent
// version.
func (e *Entry) HasConsent(version string) bool {
	return e.ConsentVersion != nil && *e.ConsentVersion == version
}

// ExpiresAt is when the entry stops being served.
func (e *Entry) ExpiresAt() time.Time {
	return e.CachedAt.Add(e.TTL)
}

// Claims are the identity attributes carried by the credential on this
// request. They are compared against the cache and synced to the source on
// refetch.
type Claims struct {
	Email *string
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
