// Package visits provides the site-visit bounded context: booking intake,
// operator controls and the technician pool.
package visits

import (
	apphttp "sitevisit_backend/internal/http"
	"sitevisit_backend/internal/visits/handler"
	"sitevisit_backend/internal/visits/service"
)

// Module is the visits bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the visits module.
func NewModule(svc *service.Service, h *handler.Handler) *Module {
	return &Module{handler: h, service: svc}
}

// Service returns the visits service for use by other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "visits"
}

// RegisterRoutes mounts the public booking route and the admin routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	public := ctx.V1.Group("/visits")
	if ctx.PublicRateLimiter != nil {
		public.Use(ctx.PublicRateLimiter.RateLimit())
	}
	m.handler.RegisterPublicRoutes(public)

	m.handler.RegisterAdminRoutes(ctx.Admin.Group("/visits"), ctx.Admin.Group("/technicians"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
