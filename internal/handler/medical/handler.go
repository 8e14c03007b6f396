package medical

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
	ListRecords(ctx context.Context, caller *auth.Principal, patientID string) ([]*model.MedicalRecord, error)
	GetRecord(ctx context.Context, caller *auth.Principal, patientID, recordID string) (*model.MedicalRecord, error)
	CreateRecord(ctx context.Context, caller *auth.Principal, patientID, diagnosis string) (*model.MedicalRecord, error)
	UpdateDiagnosis(ctx context.Context, caller *auth.Principal, patientID, recordID, diagnosis string) (*model.MedicalRecord, error)
	AccessLog(ctx context.Context, patientID string) ([]*model.AuditLog, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type diagnosisRequest struct {
	Diagnosis string `json:"diagnosis" binding:"required"`
}

// Record access is decided per record by the service; the access log is
// visible to the patient and admins only.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMw *middleware.AuthMiddleware) {
	records := r.Group("/patients/:patientId/records")
	{
		records.GET("", h.List)
		records.POST("", h.Create)
		records.GET("/:recordId", h.Get)
		records.PUT("/:recordId/diagnosis", h.UpdateDiagnosis)
	}

	r.GET("/patients/:patientId/access-log", authMw.RequireSelf("patientId"), h.AccessLog)
}

func (h *Handler) List(c *gin.Context) {
	records, err := h.service.ListRecords(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("patientId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, records)
}

func (h *Handler) Get(c *gin.Context) {
	rec, err := h.service.GetRecord(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("patientId"), c.Param("recordId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, rec)
}

func (h *Handler) Create(c *gin.Context) {
	var req diagnosisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.Validation("diagnosis is required", err))
		return
	}
	rec, err := h.service.CreateRecord(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("patientId"), req.Diagnosis)
	if err != nil {
		c.Error(err)
		return
	}
	handler.Created(c, rec)
}

func (h *Handler) UpdateDiagnosis(c *gin.Context) {
	var req diagnosisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.Validation("diagnosis is required", err))
		return
	}
	rec, err := h.service.UpdateDiagnosis(c.Request.Context(), middleware.PrincipalFrom(c),
		c.Param("patientId"), c.Param("recordId"), req.Diagnosis)
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, rec)
}

func (h *Handler) AccessLog(c *gin.Context) {
	logs, err := h.service.AccessLog(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		c.Error(err)
		return
	}
	handler.OK(c, logs)
}
