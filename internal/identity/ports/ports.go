package ports

import (
	"context"
	"time"

	"bookmarks/internal/identity/models"
	id "bookmarks/pkg/domain"
)

// Cache stores identity snapshots keyed by subject.
//
// Get never fails: a backing store that cannot answer reports a miss.
// Invalidate removes the whole entry and advances the subject's generation;
// it returns an error only when that could not be confirmed.
type Cache interface {
	Get(ctx context.Context, subject id.SubjectID) (*models.Entry, bool)
	Put(ctx context.Context, subject id.SubjectID, entry *models.Entry, ttl time.Duration) error
	Invalidate(ctx context.Context, subject id.SubjectID) error

	// Generation returns the number of invalidations the subject has seen.
	// Read it before fetching from the source.
	Generation(ctx context.Context, subject id.SubjectID) (int64, error)
	// PutIfGeneration stores entry only while the subject's generation still
	// equals gen, so a snapshot fetched before an Invalidate is never written
	// after it. It reports whether the entry was stored.
	PutIfGeneration(ctx context.Context, subject id.SubjectID, gen int64, entry *models.Entry, ttl time.Duration) (bool, error)
}

// Source is the user store of record.
type Source interface {
	// Fetch loads the subject's current identity, creating the user row on
	// first sight and syncing the presented claims into it.
	Fetch(ctx context.Context, subject id.SubjectID, claims models.Claims) (*models.Entry, error)
}

// Invalidator is the slice of Cache that identity writers depend on.
type Invalidator interface {
	Invalidate(ctx context.Context, subject id.SubjectID) error
}
