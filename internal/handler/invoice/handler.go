package invoice

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	invoiceService "github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/invoice"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/httputil"
)

type Handler struct {
	service invoiceService.Service
}

func NewHandler(service invoiceService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	invoices := r.Group("/invoices")
	{
		invoices.POST("/calculate", h.Calculate)
		invoices.POST("/:id/ocr", h.ProcessOCR)
	}
}

// Calculate accepts a raw OCR extraction, optionally wrapped in
// {"extraction": {...}}, and returns the net invoice.
func (h *Handler) Calculate(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(apperrors.BadRequest("invalid extraction body", err))
		return
	}
	if inner, ok := body["extraction"].(map[string]interface{}); ok {
		body = inner
	}

	result := h.service.Calculate(invoiceService.Extraction(body))
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

func (h *Handler) ProcessOCR(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		_ = c.Error(apperrors.BadRequest("invalid invoice ID", err))
		return
	}

	result, err := h.service.ProcessOCR(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}
