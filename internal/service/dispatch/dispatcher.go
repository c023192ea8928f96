// Package dispatch drains the outbound WhatsApp queue one cycle at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/settings"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/whatsapp"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/lease"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/metrics"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/ratelimit"
)

// Sender delivers one message through the channel provider.
type Sender interface {
	Send(ctx context.Context, settings *model.ChannelSettings, msg *model.OutboundMessage) error
}

type Config struct {
	BatchSize   int
	SendTimeout time.Duration
	LeaseTTL    time.Duration
}

type RecordError struct {
	ID          uuid.UUID `json:"id"`
	Destination string    `json:"destination"`
	Error       string    `json:"error"`
}

// CycleResult summarises one RunCycle. Sent, Retried and Failed count the
// records whose attempt finished in this cycle.
type CycleResult struct {
	Picked      int           `json:"picked"`
	Sent        int           `json:"sent"`
	Retried     int           `json:"retried"`
	Failed      int           `json:"failed"`
	RateLimited bool          `json:"rate_limited"`
	Skipped     bool          `json:"skipped"`
	Errors      []RecordError `json:"errors"`
}

type Dispatcher struct {
	repo     repository.MessageRepository
	settings settings.Resolver
	sender   Sender
	limiter  ratelimit.Limiter
	lease    lease.Lease
	config   Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLease guards each cycle with l so overlapping ticks are skipped.
func WithLease(l lease.Lease) Option {
	return func(d *Dispatcher) { d.lease = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(
	repo repository.MessageRepository,
	resolver settings.Resolver,
	sender Sender,
	limiter ratelimit.Limiter,
	config Config,
	log *logger.Logger,
	opts ...Option,
) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 60 * time.Second
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = 5 * time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}

	d := &Dispatcher{
		repo:     repo,
		settings: resolver,
		sender:   sender,
		limiter:  limiter,
		config:   config,
		logger:   log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunCycle picks up to BatchSize due records and attempts each once, in
// priority order, stopping early when the rate limiter denies a send.
// Errors returned are cycle-level; per-record failures are in the result.
func (d *Dispatcher) RunCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{Errors: []RecordError{}}

	if d.lease != nil {
		release, ok, err := d.lease.Acquire(ctx, d.config.LeaseTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire dispatch lease: %w", err)
		}
		if !ok {
			d.logger.Info("Dispatch cycle already running elsewhere, skipping")
			if d.metrics != nil {
				d.metrics.SkippedCycles.Inc()
			}
			result.Skipped = true
			return result, nil
		}
		defer release()
	}

	if d.metrics != nil {
		timer := prometheus.NewTimer(d.metrics.DispatchLatency)
		defer timer.ObserveDuration()
	}

	msgs, err := d.repo.ListDue(ctx, d.now(), d.config.BatchSize)
	d.recordDB("list_due_messages", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}
	result.Picked = len(msgs)
	if d.metrics != nil {
		d.metrics.DispatchBatchSize.Set(float64(len(msgs)))
	}
	if len(msgs) == 0 {
		return result, nil
	}

	cfg, err := d.settings.Resolve(ctx)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrConfiguration) {
			err = apperrors.Configuration("failed to resolve channel settings", err)
		}
		return nil, err
	}

	// Record updates must land even if the caller gives up mid-cycle.
	updCtx := context.WithoutCancel(ctx)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			d.logger.Warn("Dispatch cycle cancelled, leaving remaining records pending")
			break
		}
		if !d.limiter.TryAcquire(ctx) {
			result.RateLimited = true
			if d.metrics != nil {
				d.metrics.RateLimitedCycles.Inc()
			}
			d.logger.Info("Rate limit reached, stopping dispatch cycle",
				"processed", result.Sent+result.Retried+result.Failed,
				"picked", result.Picked)
			break
		}

		d.dispatchOne(ctx, updCtx, cfg, msg, result)
	}

	d.logger.Info("Dispatch cycle finished",
		"picked", result.Picked,
		"sent", result.Sent,
		"retried", result.Retried,
		"failed", result.Failed,
		"rate_limited", result.RateLimited)

	return result, nil
}

func (d *Dispatcher) dispatchOne(ctx, updCtx context.Context, cfg *model.ChannelSettings, msg *model.OutboundMessage, result *CycleResult) {
	log := d.logger.WithFields(map[string]interface{}{
		"message_id":  msg.ID.String(),
		"destination": msg.Destination,
		"kind":        string(msg.Kind),
	})

	msg.State = model.MessageStateInFlight
	msg.UpdatedAt = d.now()
	err := d.repo.Transition(updCtx, msg, model.MessageStatePending)
	d.recordDB("mark_in_flight", err)
	if errors.Is(err, repository.ErrStateConflict) {
		log.Info("Message claimed elsewhere, skipping")
		return
	}
	if err != nil {
		log.Error(err, "Failed to mark message in flight")
		result.Errors = append(result.Errors, RecordError{ID: msg.ID, Destination: msg.Destination, Error: err.Error()})
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	sendErr := d.sender.Send(sendCtx, cfg, msg)
	cancel()

	if whatsapp.Delivered(sendErr) {
		if sendErr != nil {
			log.Info("Provider reported duplicate, treating as sent")
		}
		msg.MarkSent(d.now())
		err := d.repo.Transition(updCtx, msg, model.MessageStateInFlight)
		d.recordDB("mark_sent", err)
		if err != nil {
			log.Error(err, "Failed to mark message sent")
			result.Errors = append(result.Errors, RecordError{ID: msg.ID, Destination: msg.Destination, Error: err.Error()})
			return
		}
		result.Sent++
		if d.metrics != nil {
			d.metrics.MessagesSent.Inc()
		}
		return
	}

	msg.RecordFailure(d.now(), sendErr)
	err = d.repo.Transition(updCtx, msg, model.MessageStateInFlight)
	d.recordDB("mark_failed_attempt", err)
	if err != nil {
		log.Error(err, "Failed to record failed attempt")
	}

	result.Errors = append(result.Errors, RecordError{ID: msg.ID, Destination: msg.Destination, Error: sendErr.Error()})
	if msg.State == model.MessageStateFailed {
		result.Failed++
		if d.metrics != nil {
			d.metrics.MessagesFailed.Inc()
		}
		log.Error(sendErr, "Message failed permanently", "attempts", msg.Attempts)
		return
	}

	result.Retried++
	if d.metrics != nil {
		d.metrics.MessagesRetried.Inc()
	}
	log.Warn("Message send failed, scheduled retry",
		"attempts", msg.Attempts,
		"next_attempt_at", msg.NextAttemptAt,
		"error", sendErr.Error())
}

func (d *Dispatcher) recordDB(op string, err error) {
	if d.metrics == nil {
		return
	}
	if errors.Is(err, repository.ErrStateConflict) {
		d.metrics.DatabaseOperations.WithLabelValues(op, "conflict").Inc()
		return
	}
	d.metrics.DatabaseOperations.WithLabelValues(op, metrics.DBResult(err)).Inc()
}
