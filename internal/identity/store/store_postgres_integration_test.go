//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bookmarks/internal/identity/cache"
	"bookmarks/internal/identity/models"
	"bookmarks/internal/identity/service/mocks"
	"bookmarks/internal/identity/store"
	id "bookmarks/pkg/domain"
	"bookmarks/pkg/platform/sentinel"
	"bookmarks/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	cache    *cache.InMemoryCache
	store    *store.PostgresStore
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.postgres.TruncateAll(s.ctx))

	s.cache = cache.NewInMemory(nil)
	st, err := store.NewPostgres(s.postgres.DB, s.cache, store.WithTokenPrefix("bm_"))
	s.Require().NoError(err)
	s.store = st
}

func ptr(v string) *string { return &v }

func (s *PostgresStoreSuite) cacheEntry(subject id.SubjectID) {
	s.Require().NoError(s.cache.Put(s.ctx, subject, &models.Entry{SubjectID: subject}, time.Minute))
}

func (s *PostgresStoreSuite) requireUncached(subject id.SubjectID) {
	_, hit := s.cache.Get(s.ctx, subject)
	s.False(hit, "write must invalidate before returning")
}

// =============================================================================
// Fetch
// =============================================================================

func (s *PostgresStoreSuite) TestFetchCreatesUserOnFirstSight() {
	entry, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{Email: ptr("alice@example.com")})
	s.Require().NoError(err)
	s.False(entry.UserID.IsNil())
	s.Equal("alice@example.com", *entry.Email)
	s.Nil(entry.ConsentVersion)

	again, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)
	s.Equal(entry.UserID, again.UserID)
	s.Equal("alice@example.com", *again.Email, "absent claim keeps stored email")
}

func (s *PostgresStoreSuite) TestFetchSyncsChangedEmail() {
	_, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{Email: ptr("old@example.com")})
	s.Require().NoError(err)

	entry, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{Email: ptr("new@example.com")})
	s.Require().NoError(err)
	s.Equal("new@example.com", *entry.Email)
}

func (s *PostgresStoreSuite) TestFetchWithoutEmailKeepsNull() {
	entry, err := s.store.Fetch(s.ctx, "auth0|noemail", models.Claims{})
	s.Require().NoError(err)
	s.Nil(entry.Email)
}

// =============================================================================
// Writers invalidate
// =============================================================================

func (s *PostgresStoreSuite) TestRecordConsentInvalidates() {
	_, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)
	s.cacheEntry("auth0|alice")

	s.Require().NoError(s.store.RecordConsent(s.ctx, "auth0|alice", "2026-01"))
	s.requireUncached("auth0|alice")

	entry, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)
	s.Equal("2026-01", *entry.ConsentVersion)
}

func (s *PostgresStoreSuite) TestUpdateEmailInvalidates() {
	_, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{Email: ptr("a@example.com")})
	s.Require().NoError(err)
	s.cacheEntry("auth0|alice")

	s.Require().NoError(s.store.UpdateEmail(s.ctx, "auth0|alice", nil))
	s.requireUncached("auth0|alice")

	entry, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)
	s.Nil(entry.Email)
}

// Justification: a session whose token carries an email claim must not
// silently undo the email the user set through the API.
func (s *PostgresStoreSuite) TestUserEmailEditSurvivesClaimRefetch() {
	claims := models.Claims{Email: ptr("idp@example.com")}
	entry, err := s.store.Fetch(s.ctx, "auth0|alice", claims)
	s.Require().NoError(err)
	s.False(entry.EmailManaged)

	s.Require().NoError(s.store.UpdateEmail(s.ctx, "auth0|alice", ptr("edited@example.com")))

	entry, err = s.store.Fetch(s.ctx, "auth0|alice", claims)
	s.Require().NoError(err)
	s.Equal("edited@example.com", *entry.Email)
	s.True(entry.EmailManaged)
	s.False(entry.EmailMismatch(claims.Email), "managed email does not look stale against the claim")

	var stored string
	s.Require().NoError(s.postgres.QueryRow(s.ctx, `SELECT email FROM users WHERE subject_id = $1`, "auth0|alice").Scan(&stored))
	s.Equal("edited@example.com", stored)
}

func (s *PostgresStoreSuite) TestWritesToUnknownSubjectAreNotFound() {
	s.ErrorIs(s.store.RecordConsent(s.ctx, "auth0|ghost", "2026-01"), sentinel.ErrNotFound)
	s.ErrorIs(s.store.UpdateEmail(s.ctx, "auth0|ghost", ptr("x@example.com")), sentinel.ErrNotFound)
	s.ErrorIs(s.store.DeleteUser(s.ctx, "auth0|ghost"), sentinel.ErrNotFound)
	s.ErrorIs(s.store.RecordConsent(s.ctx, "auth0|ghost", " "), sentinel.ErrInvalidInput)
}

func (s *PostgresStoreSuite) TestFailedInvalidationFailsTheWrite() {
	ctrl := gomock.NewController(s.T())
	inv := mocks.NewMockInvalidator(ctrl)
	inv.EXPECT().Invalidate(gomock.Any(), id.SubjectID("auth0|alice")).Return(errors.New("redis down"))

	st, err := store.NewPostgres(s.postgres.DB, inv)
	s.Require().NoError(err)
	_, err = st.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)

	err = st.RecordConsent(s.ctx, "auth0|alice", "2026-01")
	s.ErrorContains(err, "invalidate identity cache")

	// The commit itself stands.
	entry, err := st.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)
	s.Equal("2026-01", *entry.ConsentVersion)
}

// =============================================================================
// Tokens
// =============================================================================

func (s *PostgresStoreSuite) TestTokenLifecycle() {
	_, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)

	tokenID, plaintext, err := s.store.CreateToken(s.ctx, "auth0|alice", "cli")
	s.Require().NoError(err)
	s.Contains(plaintext, "bm_")

	var stored string
	s.Require().NoError(s.postgres.QueryRow(s.ctx, `SELECT token_hash FROM api_tokens WHERE id = $1`, uuid.UUID(tokenID)).Scan(&stored))
	s.NotEqual(plaintext, stored)

	subject, err := s.store.VerifyToken(s.ctx, plaintext)
	s.Require().NoError(err)
	s.Equal(id.SubjectID("auth0|alice"), subject)

	s.cacheEntry("auth0|alice")
	s.Require().NoError(s.store.RevokeToken(s.ctx, "auth0|alice", tokenID))
	s.requireUncached("auth0|alice")

	_, err = s.store.VerifyToken(s.ctx, plaintext)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.RevokeToken(s.ctx, "auth0|alice", tokenID), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTokenForUnknownSubjectIsNotFound() {
	_, _, err := s.store.CreateToken(s.ctx, "auth0|ghost", "cli")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestVerifyRejectsForeignPrefix() {
	_, err := s.store.VerifyToken(s.ctx, "ghp_notours")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDeleteUserCascadesTokens() {
	_, err := s.store.Fetch(s.ctx, "auth0|alice", models.Claims{})
	s.Require().NoError(err)
	_, plaintext, err := s.store.CreateToken(s.ctx, "auth0|alice", "cli")
	s.Require().NoError(err)

	s.Require().NoError(s.store.DeleteUser(s.ctx, "auth0|alice"))
	_, err = s.store.VerifyToken(s.ctx, plaintext)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
