package approval

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	approvalService "github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/approval"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/httputil"
)

const contentTypeHTML = "text/html; charset=utf-8"

// Handler serves the pages managers reach from the approve/reject links.
type Handler struct {
	service approvalService.Service
}

func NewHandler(service approvalService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	approvals := r.Group("/approval")
	{
		approvals.GET("/:id", h.HandleLink)
		approvals.POST("/:id/reject", h.SubmitRejection)
	}
}

func (h *Handler) HandleLink(c *gin.Context) {
	action, err := approvalService.ParseAction(c.Query("action"))
	if err != nil {
		page(c, http.StatusBadRequest, approvalService.ErrorPage("Link inválido", "A ação solicitada não é reconhecida."))
		return
	}
	h.handle(c, approvalService.ActionRequest{
		Action: action,
		Token:  c.Query("token"),
	})
}

func (h *Handler) SubmitRejection(c *gin.Context) {
	h.handle(c, approvalService.ActionRequest{
		Action: approvalService.ActionReject,
		Token:  c.PostForm("token"),
		Reason: c.PostForm("reason"),
		Submit: true,
	})
}

func (h *Handler) handle(c *gin.Context, req approvalService.ActionRequest) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		page(c, http.StatusNotFound, approvalService.ErrorPage("Nota fiscal não encontrada", "O link utilizado não corresponde a nenhuma nota fiscal."))
		return
	}
	req.InvoiceID = id

	outcome, err := h.service.HandleAction(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		status, _ := httputil.StatusAndMessage(err)
		page(c, status, approvalService.ErrorPage(errorTitle(status), errorMessage(status)))
		return
	}
	page(c, outcome.Status, outcome.HTML)
}

func page(c *gin.Context, status int, html string) {
	c.Data(status, contentTypeHTML, []byte(html))
}

func errorTitle(status int) string {
	switch status {
	case http.StatusNotFound:
		return "Nota fiscal não encontrada"
	case http.StatusForbidden:
		return "Link inválido"
	}
	return "Erro ao processar"
}

func errorMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return "O link utilizado não corresponde a nenhuma nota fiscal."
	case http.StatusForbidden:
		return "O link de aprovação é inválido ou foi alterado."
	}
	return "Não foi possível concluir a operação. Tente novamente mais tarde."
}
