// Package middleware gates a proxied package registry with the GitHub
// organization check.
//
// # Middleware Components
//
// RegistryAuth: authenticates every registry request and checks package access
//
//	gate := middleware.NewRegistryAuth(engine, resolver, rules, logger)
//	router.PathPrefix("/").Handler(gate.Handler(proxy))
//
// Credentials are read from the Authorization header:
//
//	Authorization: Basic base64(<github login>:<access token>)
//	Authorization: Bearer <access token>
//
// A bearer token carries no username, so its login is looked up once through
// GitHub and remembered for the membership TTL.
//
// RateLimit: per client IP limiting of the OAuth endpoints
//
//	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 60, Burst: 10})
//	oauthRouter.Use(middleware.RateLimit(limiter, "oauth", metrics, logger))
//
// DistributedRateLimiter shares the limit between replicas through Redis.
package middleware
