package authz

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/spoke-ghauth/pkg/membership"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
)

const (
	opAuthenticate = "authenticate"
	opAllowAccess  = "allow_access"

	outcomeGranted = "granted"
	outcomeDenied  = "denied"
	outcomeError   = "error"

	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupStale = "stale"
	lookupError = "error"
)

var tracer = otel.Tracer("spoke-ghauth/authz")

// Engine is the authorization engine. It is safe for concurrent use.
type Engine struct {
	organization string
	fetcher      OrganizationFetcher
	cache        membership.Cache
	clock        clockwork.Clock
	logger       logrus.FieldLogger
	metrics      *observability.Metrics

	refreshes singleflight.Group
}

var _ AuthPlugin = (*Engine)(nil)

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for record expiry
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets the engine logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics records decisions and cache lookups
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine creates an engine granting access to members of organization
func NewEngine(organization string, fetcher OrganizationFetcher, cache membership.Cache, opts ...Option) *Engine {
	e := &Engine{
		organization: organization,
		fetcher:      fetcher,
		cache:        cache,
		clock:        clockwork.NewRealClock(),
		logger:       observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Organization returns the configured organization
func (e *Engine) Organization() string {
	return e.organization
}

// Authenticate returns the organizations of username when the owner of token
// belongs to the configured organization. A fresh cached record bound to the
// same token is reused; otherwise GitHub is asked and, on a grant, the record
// is replaced. Upstream failures are returned as is and leave the cache
// untouched.
func (e *Engine) Authenticate(ctx context.Context, username, token string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Authenticate",
		trace.WithAttributes(
			attribute.String("username", username),
			attribute.String("organization", e.organization),
		),
	)
	defer span.End()

	logger := observability.FromContext(ctx, e.logger).WithFields(logrus.Fields{
		"username":     username,
		"organization": e.organization,
	})

	if token == "" {
		logger.Debug("Rejecting authentication without a token")
		span.SetAttributes(attribute.String("outcome", outcomeDenied))
		return nil, e.deny(opAuthenticate, username)
	}

	groups, err := e.membership(ctx, logger, username, token)
	if err != nil {
		e.metrics.ObserveDecision(opAuthenticate, outcomeError)
		logger.WithError(err).Warn("Failed to resolve organization membership")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve organization membership")
		return nil, err
	}

	if !contains(groups, e.organization) {
		logger.Info("Denied authentication: not a member of the organization")
		span.SetAttributes(attribute.String("outcome", outcomeDenied))
		return nil, e.deny(opAuthenticate, username)
	}

	e.metrics.ObserveDecision(opAuthenticate, outcomeGranted)
	span.SetAttributes(
		attribute.String("outcome", outcomeGranted),
		attribute.Int("group_count", len(groups)),
	)
	span.SetStatus(codes.Ok, "authenticated")
	return groups, nil
}

// membership returns the organizations for username, from the cache when a
// valid record exists and from GitHub otherwise.
func (e *Engine) membership(ctx context.Context, logger logrus.FieldLogger, username, token string) ([]string, error) {
	if groups, ok := e.cached(ctx, logger, username, token); ok {
		return groups, nil
	}

	// The refresh outlives any single caller; each caller waits on its own ctx
	flightCtx := context.WithoutCancel(ctx)
	key := username + "\x00" + membership.HashToken(token)
	results := e.refreshes.DoChan(key, func() (interface{}, error) {
		// Another caller may have refreshed while this one waited
		if groups, ok := e.lookup(flightCtx, username, token); ok {
			return groups, nil
		}
		return e.refresh(flightCtx, logger, username, token)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debug("Joined in-flight membership refresh")
		}
		return append([]string(nil), res.Val.([]string)...), nil
	}
}

// cached returns the organizations of a valid record for username and token
func (e *Engine) cached(ctx context.Context, logger logrus.FieldLogger, username, token string) ([]string, bool) {
	record, err := e.cache.Get(ctx, username)

	result := lookupHit
	switch {
	case errors.Is(err, membership.ErrCacheMiss):
		result = lookupMiss
	case err != nil:
		result = lookupError
		logger.WithError(err).Warn("Membership cache lookup failed, refreshing from GitHub")
	case !record.Valid(token, e.clock.Now()):
		result = lookupStale
	}

	e.metrics.ObserveCacheLookup(e.cache.Name(), result)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("cache.result", result))

	if result != lookupHit {
		return nil, false
	}
	return record.Organizations, true
}

func (e *Engine) lookup(ctx context.Context, username, token string) ([]string, bool) {
	record, err := e.cache.Get(ctx, username)
	if err != nil || !record.Valid(token, e.clock.Now()) {
		return nil, false
	}
	return record.Organizations, true
}

func (e *Engine) refresh(ctx context.Context, logger logrus.FieldLogger, username, token string) ([]string, error) {
	orgs, err := e.fetcher.FetchOrganizations(ctx, token)
	if err != nil {
		return nil, err
	}

	if !contains(orgs, e.organization) {
		return orgs, nil
	}

	record := membership.NewRecord(username, token, orgs, e.clock.Now(), CacheTTL)
	err = e.cache.Put(ctx, record)
	e.metrics.ObserveCacheWrite(e.cache.Name(), err)
	if err != nil {
		logger.WithError(err).Warn("Failed to store membership record")
	} else {
		logger.WithField("expires_at", record.ExpiresAt).Debug("Stored membership record")
	}

	return orgs, nil
}

// AllowAccess grants user access to pkg when the user holds every group in
// the package's access list. SentinelAuthenticated is read as the configured
// organization.
func (e *Engine) AllowAccess(user RemoteUser, pkg PackageAccess) ([]string, error) {
	for _, required := range e.requiredAccess(pkg.Access) {
		if !contains(user.Groups, required) {
			e.logger.WithFields(logrus.Fields{
				"username": user.Name,
				"package":  pkg.Name,
				"required": required,
			}).Info("Denied package access")
			return nil, e.deny(opAllowAccess, user.Name)
		}
	}

	e.metrics.ObserveDecision(opAllowAccess, outcomeGranted)
	return user.Groups, nil
}

func (e *Engine) requiredAccess(access []string) []string {
	required := make([]string, 0, len(access))
	seen := make(map[string]struct{}, len(access))
	for _, entry := range access {
		if entry == SentinelAuthenticated {
			entry = e.organization
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		required = append(required, entry)
	}
	return required
}

// AddUser accepts the request and does nothing; accounts live on GitHub
func (e *Engine) AddUser(ctx context.Context, username, password string) error {
	return nil
}

// ChangePassword accepts the request and does nothing; passwords live on GitHub
func (e *Engine) ChangePassword(ctx context.Context, username, password, newPassword string) error {
	return nil
}

func (e *Engine) deny(op, username string) error {
	e.metrics.ObserveDecision(op, outcomeDenied)
	return &AccessDeniedError{Username: username, Organization: e.organization}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
