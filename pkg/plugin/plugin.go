package plugin

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/spoke-ghauth/pkg/authz"
	"github.com/platinummonkey/spoke-ghauth/pkg/config"
	"github.com/platinummonkey/spoke-ghauth/pkg/github"
	"github.com/platinummonkey/spoke-ghauth/pkg/membership"
	"github.com/platinummonkey/spoke-ghauth/pkg/middleware"
	"github.com/platinummonkey/spoke-ghauth/pkg/oauth"
	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
	"github.com/platinummonkey/spoke-ghauth/pkg/webui"
)

// Options carries the optional collaborators of a Plugin
type Options struct {
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Clock   clockwork.Clock

	// Redis selects the shared membership cache and rate limiter when set
	Redis *redis.Client
	// CacheSize bounds the in-memory caches
	CacheSize int
	// RateLimit applies to the OAuth endpoints; zero disables limiting
	RateLimit middleware.RateLimitConfig

	GitHubOptions []github.Option
}

// Plugin is the assembled GitHub organization gate
type Plugin struct {
	config   config.PluginConfig
	client   *github.Client
	cache    membership.Cache
	engine   *authz.Engine
	oauth    *oauth.Handlers
	resolver *middleware.LoginResolver
	limiter  middleware.Limiter
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// New builds a Plugin. It returns a *config.ConfigurationError when a
// required setting is missing.
func New(cfg config.PluginConfig, opts Options) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	githubOpts := append([]github.Option{github.WithMetrics(opts.Metrics)}, opts.GitHubOptions...)
	client := github.NewClient(cfg.UserAgent, githubOpts...)

	var cache membership.Cache
	if opts.Redis != nil {
		cache = membership.NewRedisCache(opts.Redis, clock.Now)
	} else {
		cache = membership.NewMemoryCache(opts.CacheSize, authz.CacheTTL)
	}

	var limiter middleware.Limiter
	if opts.RateLimit.RequestsPerMinute > 0 {
		if opts.Redis != nil {
			limiter = middleware.NewDistributedRateLimiter(opts.Redis, opts.RateLimit, "")
		} else {
			limiter = middleware.NewRateLimiter(opts.RateLimit)
		}
	}

	engine := authz.NewEngine(cfg.Organization, client, cache,
		authz.WithClock(clock),
		authz.WithLogger(logger.WithField("component", "authz")),
		authz.WithMetrics(opts.Metrics),
	)

	logger.WithFields(logrus.Fields{
		"organization": cfg.Organization,
		"cache":        cache.Name(),
		"web_ui":       cfg.WebUIEnabled,
	}).Info("GitHub organization gate configured")

	return &Plugin{
		config:   cfg,
		client:   client,
		cache:    cache,
		engine:   engine,
		oauth:    oauth.NewHandlers(client, cfg, logger.WithField("component", "oauth")),
		resolver: middleware.NewLoginResolver(client, opts.CacheSize, authz.CacheTTL),
		limiter:  limiter,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Engine returns the authorization engine the host registry calls
func (p *Plugin) Engine() authz.AuthPlugin {
	return p.engine
}

// Cache returns the membership cache
func (p *Plugin) Cache() membership.Cache {
	return p.cache
}

// RegisterRoutes registers the OAuth endpoints and, when the web UI is
// enabled, the login script.
func (p *Plugin) RegisterRoutes(router *mux.Router) {
	oauthRouter := router.NewRoute().Subrouter()
	if p.limiter != nil {
		oauthRouter.Use(middleware.RateLimit(p.limiter, "oauth", p.metrics, p.logger))
	}
	p.oauth.RegisterRoutes(oauthRouter)

	if p.config.WebUIEnabled {
		webui.RegisterRoutes(router)
	}
}

// RegistryAuth returns the gate for proxied registry requests
func (p *Plugin) RegistryAuth(rules middleware.PackageRules) *middleware.RegistryAuth {
	return middleware.NewRegistryAuth(p.engine, p.resolver, rules, p.logger.WithField("component", "registry"))
}

// ModifyResponse returns the hook that injects the login script into proxied
// HTML pages, or nil when the web UI integration is disabled.
func (p *Plugin) ModifyResponse() func(*http.Response) error {
	if !p.config.WebUIEnabled {
		return nil
	}
	return webui.ModifyResponse
}
