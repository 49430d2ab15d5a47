// Package middleware provides HTTP middleware for the evaluation server.
//
// Available middleware:
//   - RateLimiter: per-client rate limiting using a token bucket
//   - MaxBody: request body size limit
//   - Logging: structured request logging
//   - RequestID: request id propagation
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	defer rl.Close()
//	handler = middleware.RequestID(middleware.Logging(log)(rl.Middleware(middleware.MaxBody(1<<20)(handler))))
package middleware
