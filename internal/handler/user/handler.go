package user

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medaccess-api/internal/handler"
	"github.com/jwalitptl/medaccess-api/internal/middleware"
	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

type Service interface {
	UpdatePushToken(ctx context.Context, caller *auth.Principal, token string) (*model.User, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, _ *middleware.AuthMiddleware) {
	me := r.Group("/users/me")
	{
		me.PUT("/push-token", h.UpdatePushToken)
	}
}

type pushTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UpdatePushToken registers the device token push notifications go to.
func (h *Handler) UpdatePushToken(c *gin.Context) {
	var req pushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.Validation("token is required", err))
		return
	}
	u, err := h.service.UpdatePushToken(c.Request.Context(), middleware.PrincipalFrom(c), req.Token)
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, u)
}
