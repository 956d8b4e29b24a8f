// Package auth provides the authentication bounded context module: it issues
// the admin access tokens the /api/v1/admin routes require.
package auth

import (
	"sitevisit_backend/internal/auth/handler"
	"sitevisit_backend/internal/auth/service"
	apphttp "sitevisit_backend/internal/http"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/validator"
)

// Module is the auth bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the auth module with all its dependencies.
func NewModule(cfg config.AuthServiceConfig, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(cfg, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "auth"
}

// Service returns the auth service.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts auth routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public auth routes with stricter rate limiting
	authGroup := ctx.V1.Group("/auth")
	if ctx.AuthRateLimiter != nil {
		authGroup.Use(ctx.AuthRateLimiter.RateLimit())
	}
	m.handler.RegisterRoutes(authGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
