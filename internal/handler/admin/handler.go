package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medaccess-api/internal/handler"
	"github.com/jwalitptl/medaccess-api/internal/middleware"
	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
	apperrors "github.com/jwalitptl/medaccess-api/pkg/errors"
)

type Reconciler interface {
	ReconcileCounts(ctx context.Context) (int, error)
}

type Handler struct {
	dispatcher notification.Dispatcher
	reconciler Reconciler
}

func NewHandler(dispatcher notification.Dispatcher, reconciler Reconciler) *Handler {
	return &Handler{dispatcher: dispatcher, reconciler: reconciler}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMw *middleware.AuthMiddleware) {
	admin := r.Group("/admin", authMw.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/notifications", h.EnqueueNotification)
		admin.POST("/reconcile", h.Reconcile)
	}
}

type notificationRequest struct {
	UserID   string                 `json:"userId" binding:"required"`
	Type     model.NotificationType `json:"type" binding:"required"`
	Title    string                 `json:"title" binding:"required"`
	Body     string                 `json:"body" binding:"required"`
	Data     map[string]string      `json:"data"`
	Priority string                 `json:"priority"`
}

// EnqueueNotification accepts a notification for delivery and returns 202
// without waiting for the push.
func (h *Handler) EnqueueNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.Validation("invalid notification", err))
		return
	}

	n := &model.Notification{
		UserID:   req.UserID,
		Type:     req.Type,
		Title:    req.Title,
		Body:     req.Body,
		Data:     req.Data,
		Priority: req.Priority,
	}
	if err := h.dispatcher.Send(c.Request.Context(), n); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, handler.Response{Status: "success", Message: "notification queued"})
}

func (h *Handler) Reconcile(c *gin.Context) {
	fixed, err := h.reconciler.ReconcileCounts(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, gin.H{"corrected": fixed})
}
