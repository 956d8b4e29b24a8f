package handler

import (
	"errors"
	"net/http"

	"sitevisit_backend/internal/auth/service"
	"sitevisit_backend/internal/auth/transport"
	"sitevisit_backend/platform/httpkit"
	"sitevisit_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/token", h.Token)
}

// Token handles POST /api/v1/auth/token
func (h *Handler) Token(c *gin.Context) {
	var req transport.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	token, err := h.svc.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			httpkit.Error(c, http.StatusUnauthorized, err.Error(), nil)
		case errors.Is(err, service.ErrNotConfigured):
			httpkit.Error(c, http.StatusServiceUnavailable, err.Error(), nil)
		default:
			httpkit.Error(c, http.StatusInternalServerError, "failed to issue token", nil)
		}
		return
	}

	httpkit.OK(c, transport.TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   token.ExpiresAt,
	})
}
