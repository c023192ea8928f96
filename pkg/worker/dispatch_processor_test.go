package worker

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/dispatch"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
)

type countingRunner struct {
	calls int32
	err   error
}

func (r *countingRunner) RunCycle(_ context.Context) (*dispatch.CycleResult, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}
	return &dispatch.CycleResult{Picked: 1, Sent: 1}, nil
}

func TestDispatchProcessorRunsUntilCancelled(t *testing.T) {
	runner := &countingRunner{err: errors.New("db down")}
	p := NewDispatchProcessor(runner, DispatchProcessorConfig{PollInterval: 5 * time.Millisecond, RunOnStart: true}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runner.calls) >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestNewDispatchProcessorRequiresInterval(t *testing.T) {
	assert.Panics(t, func() {
		NewDispatchProcessor(&countingRunner{}, DispatchProcessorConfig{}, logger.NewNop())
	})
}

func TestDispatchProcessorLogsOnlyCycleErrors(t *testing.T) {
	var out bytes.Buffer
	log := logger.NewLogger(&logger.Config{Level: logger.DebugLevel, Output: &out, JSON: true})
	cfg := DispatchProcessorConfig{PollInterval: time.Minute}

	NewDispatchProcessor(&countingRunner{}, cfg, log).runCycle(context.Background())
	assert.Empty(t, out.String(), "successful cycles are logged by the dispatcher")

	NewDispatchProcessor(&countingRunner{err: errors.New("db down")}, cfg, log).runCycle(context.Background())
	assert.Contains(t, out.String(), "Dispatch cycle failed")
	assert.Contains(t, out.String(), `"level":"error"`)

	out.Reset()
	misconfigured := &countingRunner{err: apperrors.Configuration("missing api token", nil)}
	NewDispatchProcessor(misconfigured, cfg, log).runCycle(context.Background())
	assert.Contains(t, out.String(), "channel not configured")
	assert.Contains(t, out.String(), `"level":"warn"`)
}
