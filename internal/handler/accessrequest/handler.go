package accessrequest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medaccess-api/internal/handler"
	"github.com/jwalitptl/medaccess-api/internal/middleware"
	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
)

type Service interface {
	RequestAccess(ctx context.Context, doctorID, patientID string) (*model.AccessRequest, error)
	ListAccessRequests(ctx context.Context, patientID string) ([]*model.AccessRequest, error)
	DismissAccessRequest(ctx context.Context, patientID, doctorID string) error
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMw *middleware.AuthMiddleware) {
	requests := r.Group("/patients/:patientId/access-requests")
	{
		requests.POST("", authMw.RequireRole(auth.RoleDoctor), h.RequestAccess)
		requests.GET("", authMw.RequireSelf("patientId"), h.List)
		requests.DELETE("/:doctorId", authMw.RequireSelf("patientId"), h.Dismiss)
	}
}

// RequestAccess files a request on behalf of the calling doctor.
func (h *Handler) RequestAccess(c *gin.Context) {
	doctor := middleware.PrincipalFrom(c)
	req, err := h.service.RequestAccess(c.Request.Context(), doctor.UID, c.Param("patientId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.Created(c, req)
}

func (h *Handler) List(c *gin.Context) {
	reqs, err := h.service.ListAccessRequests(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, reqs)
}

func (h *Handler) Dismiss(c *gin.Context) {
	if err := h.service.DismissAccessRequest(c.Request.Context(), c.Param("patientId"), c.Param("doctorId")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.Response{Status: "success", Message: "access request dismissed"})
}
