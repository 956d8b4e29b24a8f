// Package http provides HTTP server infrastructure including the Module interface
// that all domain modules must implement for route registration.
package http

import (
	"sitevisit_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module represents a bounded context that can register its HTTP routes.
// Each domain module implements this interface to encapsulate its own
// route setup, keeping the main router decoupled from specific endpoints.
type Module interface {
	// Name returns the module's identifier for logging purposes.
	Name() string
	// RegisterRoutes mounts the module's routes on the provided router group.
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext provides shared dependencies for module route registration.
type RouterContext struct {
	// V1 is the public /api/v1 route group.
	V1 *gin.RouterGroup
	// Admin is /api/v1/admin, already behind the bearer token and admin role checks.
	Admin *gin.RouterGroup
	// AuthRateLimiter is the stricter rate limiter for auth routes.
	AuthRateLimiter *httpkit.AuthRateLimiter
	// PublicRateLimiter guards unauthenticated booking routes.
	PublicRateLimiter *httpkit.IPRateLimiter
	// WebhookRateLimiter guards the gateway webhook.
	WebhookRateLimiter *httpkit.IPRateLimiter
}
