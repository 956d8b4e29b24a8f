package engagement

import (
	apphttp "sitevisit_backend/internal/http"
)

// Module is the webhook ingestion bounded context implementing http.Module.
type Module struct {
	handler *Handler
	router  *FlowRouter
}

// NewModule wires the webhook handler around a flow router.
func NewModule(router *FlowRouter, handler *Handler) *Module {
	return &Module{handler: handler, router: router}
}

// Router exposes the flow router.
func (m *Module) Router() *FlowRouter {
	return m.router
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "engagement"
}

// RegisterRoutes mounts the public webhook routes. They authenticate by
// payload signature, not JWT.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook/whatsapp")
	if ctx.WebhookRateLimiter != nil {
		group.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	group.GET("", m.handler.HandleVerify)
	group.POST("", m.handler.HandleInbound)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
