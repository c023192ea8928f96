package queue

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/dispatch"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/httputil"
)

const maxListLimit = 500

type CycleRunner interface {
	RunCycle(ctx context.Context) (*dispatch.CycleResult, error)
}

type Handler struct {
	runner      CycleRunner
	repo        repository.MessageRepository
	maxAttempts int
	now         func() time.Time
}

func NewHandler(runner CycleRunner, repo repository.MessageRepository, maxAttempts int) *Handler {
	return &Handler{runner: runner, repo: repo, maxAttempts: maxAttempts, now: time.Now}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	queue := r.Group("/queue")
	{
		queue.POST("/dispatch", h.Dispatch)
		queue.POST("/messages", h.Enqueue)
		queue.GET("/messages", h.List)
	}
}

// Dispatch runs one dispatch cycle, for schedulers that drive the queue
// over HTTP.
func (h *Handler) Dispatch(c *gin.Context) {
	result, err := h.runner.RunCycle(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

type enqueueRequest struct {
	Destination string                 `json:"destination" binding:"required,phone"`
	Priority    *int                   `json:"priority" binding:"omitempty,min=0,max=100"`
	MaxAttempts int                    `json:"max_attempts" binding:"omitempty,min=1,max=20"`
	Text        string                 `json:"text"`
	Template    *model.TemplateBody    `json:"template"`
	Document    map[string]interface{} `json:"document"`
}

func (r enqueueRequest) payload() (model.Payload, error) {
	var p model.Payload
	if r.Text != "" {
		p.Text = &model.TextBody{Body: r.Text}
	}
	if r.Template != nil {
		p.Template = r.Template
	}
	if r.Document != nil {
		att, caption, err := model.NormalizeAttachment(r.Document)
		if err != nil {
			return p, err
		}
		p.Document = &model.DocumentBody{Attachment: att, Caption: caption}
	}
	if _, err := p.Kind(); err != nil {
		return p, err
	}
	return p, nil
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error(), err))
		return
	}

	payload, err := req.payload()
	if err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error(), err))
		return
	}

	priority := model.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	maxAttempts := h.maxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}

	msg, err := model.NewOutboundMessage(req.Destination, payload, priority, maxAttempts, h.now())
	if err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error(), err))
		return
	}
	if err := h.repo.Enqueue(c.Request.Context(), msg); err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, msg)
}

func (h *Handler) List(c *gin.Context) {
	filters := &model.MessageFilters{
		State:       model.MessageState(c.Query("state")),
		Destination: c.Query("destination"),
		Limit:       100,
	}
	switch filters.State {
	case "", model.MessageStatePending, model.MessageStateInFlight, model.MessageStateSent, model.MessageStateFailed:
	default:
		_ = c.Error(apperrors.BadRequest("invalid state filter", nil))
		return
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			_ = c.Error(apperrors.BadRequest("invalid limit", err))
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filters.Limit = limit
	}

	messages, err := h.repo.List(c.Request.Context(), filters)
	if err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	if messages == nil {
		messages = []*model.OutboundMessage{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, messages)
}
