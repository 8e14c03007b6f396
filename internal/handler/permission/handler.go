package permission

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/medaccess-api/internal/handler"
	"github.com/jwalitptl/medaccess-api/internal/middleware"
	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
)

// Registry is the part of the permission registry the routes use.
type Registry interface {
	GrantAccess(ctx context.Context, patientID, doctorID string) (*model.Permission, error)
	RevokeAccess(ctx context.Context, patientID, doctorID string) error
	ListDoctorsForPatient(ctx context.Context, patientID string) ([]*model.DoctorWithPermission, error)
	ListPatientsForDoctor(ctx context.Context, doctorID string) ([]*model.PatientWithPermission, error)
}

type Handler struct {
	registry Registry
}

func NewHandler(registry Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMw *middleware.AuthMiddleware) {
	patients := r.Group("/patients/:patientId", authMw.RequireSelf("patientId"))
	{
		patients.POST("/permissions/:doctorId", h.GrantAccess)
		patients.DELETE("/permissions/:doctorId", h.RevokeAccess)
		patients.GET("/doctors", h.ListDoctors)
	}

	r.GET("/doctors/:doctorId/patients", authMw.RequireSelf("doctorId"), h.ListPatients)
}

func (h *Handler) GrantAccess(c *gin.Context) {
	perm, err := h.registry.GrantAccess(c.Request.Context(), c.Param("patientId"), c.Param("doctorId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.Created(c, perm)
}

func (h *Handler) RevokeAccess(c *gin.Context) {
	if err := h.registry.RevokeAccess(c.Request.Context(), c.Param("patientId"), c.Param("doctorId")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.Response{Status: "success", Message: "access revoked"})
}

func (h *Handler) ListDoctors(c *gin.Context) {
	doctors, err := h.registry.ListDoctorsForPatient(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, doctors)
}

func (h *Handler) ListPatients(c *gin.Context) {
	if p := middleware.PrincipalFrom(c); p != nil && p.Role != auth.RoleDoctor && p.Role != auth.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, handler.NewErrorResponse("permission denied"))
		return
	}
	patients, err := h.registry.ListPatientsForDoctor(c.Request.Context(), c.Param("doctorId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, patients)
}
