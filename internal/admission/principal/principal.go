// Package principal turns a bearer credential into the authenticated actor.
//
// Two credential kinds are accepted: interactive session JWTs (HS256, carrying
// sub and optionally email) and programmatic personal access tokens,
// recognised by their prefix and verified against the user store. Resolution
// is a pure mapping with no caching.
package principal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bookmarks/internal/identity/models"
	id "bookmarks/pkg/domain"
	dErrors "bookmarks/pkg/domain-errors"
	"bookmarks/pkg/platform/sentinel"
)

// TokenVerifier resolves a personal access token to its owner. It returns an
// error wrapping sentinel.ErrNotFound for unknown or revoked tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (id.SubjectID, error)
}

// SessionClaims are the claims of an interactive session token.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	Principal id.Principal
	Claims    models.Claims
}

type Config struct {
	SigningKey string
	Issuer     string
	Audience   string
	PATPrefix  string
}

// Resolver validates credentials.
type Resolver struct {
	signingKey []byte
	issuer     string
	audience   string
	patPrefix  string
	tokens     TokenVerifier
	now        func() time.Time
}

type Option func(*Resolver)

// WithTokenVerifier enables personal access tokens. Without it, a token
// carrying the PAT prefix is rejected.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(r *Resolver) {
		r.tokens = v
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

func New(cfg Config, opts ...Option) (*Resolver, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("signing key is required")
	}
	r := &Resolver{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		patPrefix:  cfg.PATPrefix,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve validates the Authorization header value. Every credential problem
// is CodeUnauthorized; a token store that cannot answer is CodeUnavailable.
func (r *Resolver) Resolve(ctx context.Context, authorization string) (*Resolved, error) {
	credential, ok := strings.CutPrefix(authorization, "Bearer ")
	credential = strings.TrimSpace(credential)
	if !ok || credential == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header")
	}

	if r.patPrefix != "" && strings.HasPrefix(credential, r.patPrefix) {
		return r.resolveToken(ctx, credential)
	}
	return r.resolveSession(credential)
}

func (r *Resolver) resolveToken(ctx context.Context, token string) (*Resolved, error) {
	if r.tokens == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "personal access tokens are not accepted")
	}
	subject, err := r.tokens.VerifyToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid or revoked token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "token verification unavailable")
	}
	return &Resolved{
		Principal: id.Principal{Subject: subject, Mechanism: id.MechanismProgrammatic},
	}, nil
}

func (r *Resolver) resolveSession(token string) (*Resolved, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	if r.audience != "" {
		opts = append(opts, jwt.WithAudience(r.audience))
	}

	claims := new(SessionClaims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	subject, err := id.ParseSubjectID(claims.Subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return &Resolved{
		Principal: id.Principal{Subject: subject, Mechanism: id.MechanismInteractive},
		Claims:    models.Claims{Email: models.StringPtr(strings.TrimSpace(claims.Email))},
	}, nil
}

// IssueSession signs an interactive session token. It backs the development
// token generator and tests.
func IssueSession(cfg Config, subject id.SubjectID, email string, now time.Time, ttl time.Duration) (string, error) {
	if cfg.SigningKey == "" {
		return "", errors.New("signing key is required")
	}
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(subject),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.SigningKey))
}
