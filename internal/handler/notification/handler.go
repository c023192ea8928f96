package notification

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	notificationService "github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/notification"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/httputil"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/messaging"
)

type FanOuter interface {
	FanOut(ctx context.Context, event model.DomainEvent) (*notificationService.FanOutResult, error)
}

// Handler triggers fan-out synchronously and publishes events for the
// worker to fan out asynchronously.
type Handler struct {
	fanout FanOuter
	broker messaging.Broker
	topic  string
}

// NewHandler accepts a nil broker; the events route then answers 503.
func NewHandler(fanout FanOuter, broker messaging.Broker, topic string) *Handler {
	return &Handler{fanout: fanout, broker: broker, topic: topic}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/notifications", h.Notify)
	r.POST("/events", h.Publish)
}

type eventRequest struct {
	Event    model.EventType `json:"event" binding:"required,oneof=new_invoice payment_completed"`
	RecordID string          `json:"record_id" binding:"required,uuid"`
}

// domainEvent is only called after binding validated RecordID as a uuid.
func (r eventRequest) domainEvent() model.DomainEvent {
	return model.DomainEvent{Type: r.Event, RecordID: uuid.MustParse(r.RecordID)}
}

func (h *Handler) Notify(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error(), err))
		return
	}

	result, err := h.fanout.FanOut(c.Request.Context(), req.domainEvent())
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

func (h *Handler) Publish(c *gin.Context) {
	if h.broker == nil {
		c.JSON(http.StatusServiceUnavailable, httputil.Response{Success: false, Error: "event broker is not configured"})
		return
	}

	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(err.Error(), err))
		return
	}

	event := req.domainEvent()
	if err := h.broker.Publish(c.Request.Context(), h.topic, event); err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, http.StatusAccepted, event)
}
