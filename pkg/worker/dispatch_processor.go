package worker

import (
	"context"
	"time"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/dispatch"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (*dispatch.CycleResult, error)
}

type DispatchProcessorConfig struct {
	PollInterval time.Duration
	// RunOnStart runs a cycle immediately instead of waiting for the first tick.
	RunOnStart bool
}

// DispatchProcessor is the single owner of the dispatch schedule in a worker
// process. Cycles never overlap because they run on the ticker goroutine.
type DispatchProcessor struct {
	runner CycleRunner
	config DispatchProcessorConfig
	logger *logger.Logger
}

func NewDispatchProcessor(runner CycleRunner, config DispatchProcessorConfig, logger *logger.Logger) *DispatchProcessor {
	// Config validation instead of defaults
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}

	return &DispatchProcessor{
		runner: runner,
		config: config,
		logger: logger,
	}
}

func (p *DispatchProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting dispatch processor", "interval", p.config.PollInterval.String())

	if p.config.RunOnStart {
		p.runCycle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down dispatch processor")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle only reports cycle-level errors; the dispatcher logs each cycle's outcome.
func (p *DispatchProcessor) runCycle(ctx context.Context) {
	_, err := p.runner.RunCycle(ctx)
	if err == nil {
		return
	}
	if apperrors.HasCode(err, apperrors.ErrConfiguration) {
		p.logger.Warn("Dispatch cycle aborted, channel not configured", "error", err.Error())
		return
	}
	p.logger.Error(err, "Dispatch cycle failed")
}
