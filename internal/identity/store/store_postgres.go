// Package store is the user store of record behind the identity cache.
//
// Reads (Fetch, VerifyToken) serve the admission path. Writes change identity
// or consent state and invalidate the subject's cache entry after commit and
// before returning, so a successful write is never followed by a stale read
// from this process's point of view.
package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"bookmarks/internal/identity/models"
	"bookmarks/internal/identity/ports"
	id "bookmarks/pkg/domain"
	"bookmarks/pkg/platform/sentinel"
)

const defaultTokenPrefix = "bm_"

// PostgresStore persists users, consent and personal access tokens.
type PostgresStore struct {
	db          *sql.DB
	invalidator ports.Invalidator
	tokenPrefix string
}

type Option func(*PostgresStore)

// WithTokenPrefix sets the prefix that marks personal access tokens.
func WithTokenPrefix(prefix string) Option {
	return func(s *PostgresStore) {
		if prefix != "" {
			s.tokenPrefix = prefix
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed user store. Writes invalidate
// through invalidator.
func NewPostgres(db *sql.DB, invalidator ports.Invalidator, opts ...Option) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if invalidator == nil {
		return nil, errors.New("cache invalidator is required")
	}
	s := &PostgresStore{db: db, invalidator: invalidator, tokenPrefix: defaultTokenPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Fetch upserts the subject's user row and returns its identity. A present
// email claim overwrites the stored email unless the user has set it through
// UpdateEmail; an absent claim leaves it alone.
func (s *PostgresStore) Fetch(ctx context.Context, subject id.SubjectID, claims models.Claims) (*models.Entry, error) {
	var (
		userID  uuid.UUID
		email   sql.NullString
		managed bool
		consent sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, subject_id, email, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (subject_id) DO UPDATE
		SET email = CASE
		        WHEN users.email_managed THEN users.email
		        ELSE COALESCE(EXCLUDED.email, users.email)
		    END,
		    updated_at = CASE
		        WHEN NOT users.email_managed
		         AND EXCLUDED.email IS NOT NULL
		         AND EXCLUDED.email IS DISTINCT FROM users.email THEN NOW()
		        ELSE users.updated_at
		    END
		RETURNING id, email, email_managed, consent_version
	`, uuid.New(), string(subject), nullString(claims.Email)).Scan(&userID, &email, &managed, &consent)
	if err != nil {
		return nil, fmt.Errorf("fetch identity: %w", err)
	}
	return &models.Entry{
		SubjectID:      subject,
		UserID:         id.UserID(userID),
		Email:          ptrString(email),
		EmailManaged:   managed,
		ConsentVersion: ptrString(consent),
	}, nil
}

// VerifyToken resolves an unrevoked personal access token to its owner.
func (s *PostgresStore) VerifyToken(ctx context.Context, token string) (id.SubjectID, error) {
	if !strings.HasPrefix(token, s.tokenPrefix) {
		return "", fmt.Errorf("token: %w", sentinel.ErrNotFound)
	}
	var subject string
	err := s.db.QueryRowContext(ctx, `
		SELECT u.subject_id
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1 AND t.revoked_at IS NULL
	`, hashToken(token)).Scan(&subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("token: %w", sentinel.ErrNotFound)
		}
		return "", fmt.Errorf("verify token: %w", err)
	}
	return id.SubjectID(subject), nil
}

// CreateToken issues a personal access token for the subject. The plaintext
// is returned once; only its hash is stored.
func (s *PostgresStore) CreateToken(ctx context.Context, subject id.SubjectID, name string) (id.TokenID, string, error) {
	plaintext, err := s.newToken()
	if err != nil {
		return id.TokenID{}, "", err
	}
	tokenID := uuid.New()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, user_id, name, token_hash, created_at)
		SELECT $1::uuid, u.id, $3::text, $4::text, NOW() FROM users u WHERE u.subject_id = $2
	`, tokenID, string(subject), name, hashToken(plaintext))
	if err != nil {
		if isUniqueViolation(err) {
			return id.TokenID{}, "", fmt.Errorf("token collision: %w", sentinel.ErrInvalidInput)
		}
		return id.TokenID{}, "", fmt.Errorf("create token: %w", err)
	}
	if err := requireRow(res, "user"); err != nil {
		return id.TokenID{}, "", err
	}
	return id.TokenID(tokenID), plaintext, nil
}

// RevokeToken revokes one of the subject's tokens.
func (s *PostgresStore) RevokeToken(ctx context.Context, subject id.SubjectID, tokenID id.TokenID) error {
	return s.write(ctx, subject, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE api_tokens SET revoked_at = NOW()
			WHERE id = $1
			  AND revoked_at IS NULL
			  AND user_id = (SELECT id FROM users WHERE subject_id = $2)
		`, uuid.UUID(tokenID), string(subject))
		if err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		return requireRow(res, "token")
	})
}

// RecordConsent stores the consent version the subject accepted.
func (s *PostgresStore) RecordConsent(ctx context.Context, subject id.SubjectID, version string) error {
	if strings.TrimSpace(version) == "" {
		return fmt.Errorf("consent version is required: %w", sentinel.ErrInvalidInput)
	}
	return s.write(ctx, subject, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET consent_version = $2, updated_at = NOW()
			WHERE subject_id = $1
		`, string(subject), version)
		if err != nil {
			return fmt.Errorf("record consent: %w", err)
		}
		return requireRow(res, "user")
	})
}

// UpdateEmail replaces the subject's email. A nil email clears it. From then
// on the email is the user's and email claims no longer overwrite it.
func (s *PostgresStore) UpdateEmail(ctx context.Context, subject id.SubjectID, email *string) error {
	return s.write(ctx, subject, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET email = $2, email_managed = TRUE, updated_at = NOW()
			WHERE subject_id = $1
		`, string(subject), nullString(email))
		if err != nil {
			return fmt.Errorf("update email: %w", err)
		}
		return requireRow(res, "user")
	})
}

// DeleteUser removes the subject's user row and, by cascade, its tokens.
func (s *PostgresStore) DeleteUser(ctx context.Context, subject id.SubjectID) error {
	return s.write(ctx, subject, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE subject_id = $1`, string(subject))
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return requireRow(res, "user")
	})
}

// write runs fn in a transaction, commits, then invalidates the subject's
// cache entry. A failed invalidation is returned even though the write
// committed, so the caller does not report success over a stale cache.
func (s *PostgresStore) write(ctx context.Context, subject id.SubjectID, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin identity write: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op; error already captured
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit identity write: %w", err)
	}
	if err := s.invalidator.Invalidate(ctx, subject); err != nil {
		return fmt.Errorf("invalidate identity cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return s.tokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func requireRow(res sql.Result, what string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", what, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s not found: %w", what, sentinel.ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
