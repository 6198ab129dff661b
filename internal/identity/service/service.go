// Package service resolves the identity snapshot for an admitted request.
//
// Lookup is read-through: a cache hit whose email agrees with the presented
// claim is served as is; a miss or a stale hit fetches from the user store
// and replaces the cache entry. Concurrent misses for one subject share a
// single fetch.
//
// The subject's cache generation is read before every fetch and the result
// is only cached if the generation is unchanged, so a fetch that raced an
// identity write can neither repopulate the cache nor be joined by requests
// that start after the write invalidated.
package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks Source,Cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"bookmarks/internal/identity/metrics"
	"bookmarks/internal/identity/models"
	"bookmarks/internal/identity/ports"
	"bookmarks/internal/platform/tracer"
	id "bookmarks/pkg/domain"
	dErrors "bookmarks/pkg/domain-errors"
	"bookmarks/pkg/requestcontext"
)

const (
	defaultTTL          = 5 * time.Minute
	defaultFetchTimeout = 2 * time.Second
)

// Service looks up identities through the cache.
type Service struct {
	cache        ports.Cache
	source       ports.Source
	ttl          time.Duration
	fetchTimeout time.Duration
	group        singleflight.Group
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       tracer.Tracer
	now          func(ctx context.Context) time.Time
}

type Option func(*Service)

// WithTTL sets how long fetched entries are cached.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithFetchTimeout bounds a single user store fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = func(context.Context) time.Time { return now() }
	}
}

func New(cache ports.Cache, source ports.Source, opts ...Option) (*Service, error) {
	if cache == nil {
		return nil, errors.New("identity cache is required")
	}
	if source == nil {
		return nil, errors.New("identity source is required")
	}
	s := &Service{
		cache:        cache,
		source:       source,
		ttl:          defaultTTL,
		fetchTimeout: defaultFetchTimeout,
		tracer:       tracer.NewNoop(),
		now:          requestcontext.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lookup returns the subject's identity snapshot. It fails only when the
// cache cannot serve the subject and the user store cannot either.
func (s *Service) Lookup(ctx context.Context, subject id.SubjectID, claims models.Claims) (*models.Entry, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanIdentityLookup,
		tracer.String(tracer.AttrSubject, tracer.HashSubject(string(subject))),
	)

	entry, hit := s.cache.Get(ctx, subject)
	stale := hit && entry.EmailMismatch(claims.Email)
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, hit), tracer.Bool(tracer.AttrStale, stale))

	switch {
	case hit && !stale:
		s.recordLookup("hit")
		span.End(nil)
		return entry, nil
	case stale:
		s.recordLookup("stale")
	default:
		s.recordLookup("miss")
	}

	entry, err := s.fetch(ctx, subject, claims)
	span.End(err)
	return entry, err
}

func (s *Service) fetch(ctx context.Context, subject id.SubjectID, claims models.Claims) (*models.Entry, error) {
	// Without a generation the result is served but not cached.
	gen, genErr := s.cache.Generation(ctx, subject)
	cacheable := genErr == nil

	v, err, shared := s.group.Do(flightKey(subject, gen, cacheable, claims), func() (any, error) {
		// One caller going away must not fail the fetch for the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		fetchCtx, span := s.tracer.Start(fetchCtx, tracer.SpanIdentityFetch)
		start := time.Now()
		entry, err := s.source.Fetch(fetchCtx, subject, claims)
		if s.metrics != nil {
			s.metrics.ObserveFetchDuration(time.Since(start).Seconds())
		}
		span.End(err)
		if err != nil {
			s.recordFetch("error")
			return nil, err
		}
		s.recordFetch("ok")

		entry.SubjectID = subject
		entry.CachedAt = s.now(ctx)
		entry.TTL = s.ttl
		if !cacheable {
			return entry, nil
		}
		// A failed put is already counted by the cache's policy and a refused
		// one means a write invalidated mid-fetch; either way the next lookup
		// misses again.
		stored, _ := s.cache.PutIfGeneration(fetchCtx, subject, gen, entry, s.ttl)
		if !stored {
			s.recordFetch("not_cached")
		}
		return entry, nil
	})
	if shared {
		s.recordFetch("shared")
	}
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "identity fetch failed",
				"subject_hash", tracer.HashSubject(string(subject)),
				"error", err,
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "identity source unavailable")
	}
	return v.(*models.Entry), nil
}

// flightKey partitions concurrent fetches by subject, cache generation and
// presented email, since the email claim is synced into the source.
func flightKey(subject id.SubjectID, gen int64, cacheable bool, claims models.Claims) string {
	genPart := "-"
	if cacheable {
		genPart = strconv.FormatInt(gen, 10)
	}
	emailPart := "-"
	if claims.Email != nil {
		emailPart = "=" + *claims.Email
	}
	return string(subject) + "\x00" + genPart + "\x00" + emailPart
}

func (s *Service) recordLookup(result string) {
	if s.metrics != nil {
		s.metrics.RecordLookup(result)
	}
}

func (s *Service) recordFetch(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordFetch(outcome)
	}
}
