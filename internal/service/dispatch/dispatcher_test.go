package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository/memory"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/service/settings"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/whatsapp"
	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/lease"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/metrics"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/ratelimit"
)

var testSettings = settings.Static{Settings: &model.ChannelSettings{APIBaseURL: "http://wa.local", AuthToken: "t"}}

type fakeSender struct {
	mu   sync.Mutex
	errs map[string]error
	sent []string
}

func (s *fakeSender) Send(_ context.Context, _ *model.ChannelSettings, msg *model.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg.Destination)
	return s.errs[msg.Destination]
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) Resolve(ctx context.Context) (*model.ChannelSettings, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return testSettings.Resolve(ctx)
}

func enqueue(t *testing.T, repo *memory.MessageRepository, dest string, priority int, created time.Time) *model.OutboundMessage {
	t.Helper()
	msg, err := model.NewOutboundMessage(dest, model.TextPayload("hello "+dest), priority, 3, created)
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(context.Background(), msg))
	return msg
}

func TestRunCycleStopsAtRateLimit(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	repo := memory.NewMessageRepository()
	sender := &fakeSender{}

	low := enqueue(t, repo, "5511000000002", 2, clk.now.Add(-2*time.Minute))
	high := enqueue(t, repo, "5511000000001", 1, clk.now.Add(-time.Minute))

	limiter := ratelimit.NewFixedWindowWithClock(1, time.Minute, clk.Now)
	d := NewDispatcher(repo, testSettings, sender, limiter, Config{}, nil, WithClock(clk.Now))

	result, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Picked)
	assert.Equal(t, 1, result.Sent)
	assert.True(t, result.RateLimited)
	assert.Equal(t, []string{"5511000000001"}, sender.sent)

	// Priority 1 was delivered
	got, err := repo.Get(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStateSent, got.State)
	require.NotNil(t, got.SentAt)

	// Priority 2 is untouched
	got, err = repo.Get(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatePending, got.State)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, low.UpdatedAt, got.UpdatedAt)
}

func TestRunCycleFailsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	repo := memory.NewMessageRepository()
	sender := &fakeSender{errs: map[string]error{"5511999": errors.New("provider down")}}
	msg := enqueue(t, repo, "5511999", 1, clk.now)

	d := NewDispatcher(repo, testSettings, sender, ratelimit.NewFixedWindowWithClock(100, time.Minute, clk.Now), Config{}, nil, WithClock(clk.Now))

	// Attempt 1: retry in 2 minutes
	result, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, msg.ID, result.Errors[0].ID)
	assert.Equal(t, "provider down", result.Errors[0].Error)

	got, _ := repo.Get(ctx, msg.ID)
	assert.Equal(t, model.MessageStatePending, got.State)
	assert.Equal(t, clk.now.Add(2*time.Minute), *got.NextAttemptAt)

	// Not due yet
	result, err = d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Picked)

	// Attempt 2: retry in 4 minutes
	clk.now = clk.now.Add(2 * time.Minute)
	result, err = d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	got, _ = repo.Get(ctx, msg.ID)
	assert.Equal(t, clk.now.Add(4*time.Minute), *got.NextAttemptAt)

	// Attempt 3 is terminal
	clk.now = clk.now.Add(4 * time.Minute)
	result, err = d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Retried)

	got, _ = repo.Get(ctx, msg.ID)
	assert.Equal(t, model.MessageStateFailed, got.State)
	assert.Equal(t, 3, got.Attempts)
	assert.Nil(t, got.NextAttemptAt)

	// Failed records are never picked again
	clk.now = clk.now.Add(24 * time.Hour)
	result, err = d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Picked)
	assert.Len(t, sender.sent, 3)
}

func TestRunCycleIsolatesRecordFailures(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	repo := memory.NewMessageRepository()
	sender := &fakeSender{errs: map[string]error{"2": errors.New("bad number")}}

	enqueue(t, repo, "1", 1, clk.now.Add(-3*time.Second))
	enqueue(t, repo, "2", 1, clk.now.Add(-2*time.Second))
	enqueue(t, repo, "3", 1, clk.now.Add(-time.Second))

	d := NewDispatcher(repo, testSettings, sender, ratelimit.NewFixedWindow(10, time.Minute), Config{}, nil, WithClock(clk.Now))
	result, err := d.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, []string{"1", "2", "3"}, sender.sent)
}

func TestRunCycleDuplicateCountsAsSent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMessageRepository()
	sender := &fakeSender{errs: map[string]error{
		"1": &whatsapp.DeliveryError{StatusCode: 409, Body: "duplicate", Duplicate: true},
	}}
	msg := enqueue(t, repo, "1", 1, time.Now().Add(-time.Second))

	d := NewDispatcher(repo, testSettings, sender, ratelimit.NewFixedWindow(10, time.Minute), Config{}, nil)
	result, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Empty(t, result.Errors)

	got, _ := repo.Get(ctx, msg.ID)
	assert.Equal(t, model.MessageStateSent, got.State)
}

func TestRunCycleMissingSettingsIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMessageRepository()
	msg := enqueue(t, repo, "1", 1, time.Now().Add(-time.Second))
	sender := &fakeSender{}

	missing := settings.Static{Settings: &model.ChannelSettings{}}
	d := NewDispatcher(repo, missing, sender, ratelimit.NewFixedWindow(10, time.Minute), Config{}, nil)

	_, err := d.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConfiguration))
	assert.Empty(t, sender.sent)

	got, _ := repo.Get(ctx, msg.ID)
	assert.Equal(t, model.MessageStatePending, got.State)
}

func TestRunCycleEmptyQueueSkipsSettings(t *testing.T) {
	resolver := &countingResolver{err: errors.New("should not be called")}
	d := NewDispatcher(memory.NewMessageRepository(), resolver, &fakeSender{}, ratelimit.NewFixedWindow(1, time.Minute), Config{}, nil)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Picked)
	assert.Equal(t, 0, resolver.calls)
}

func TestRunCycleResolvesSettingsOnce(t *testing.T) {
	repo := memory.NewMessageRepository()
	for _, dest := range []string{"1", "2", "3"} {
		enqueue(t, repo, dest, 1, time.Now().Add(-time.Second))
	}
	resolver := &countingResolver{}
	d := NewDispatcher(repo, resolver, &fakeSender{}, ratelimit.NewFixedWindow(10, time.Minute), Config{}, nil)

	result, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Sent)
	assert.Equal(t, 1, resolver.calls)
}

func TestRunCycleListErrorEscapes(t *testing.T) {
	repo := memory.NewMessageRepository()
	repo.ListErr = errors.New("connection refused")
	d := NewDispatcher(repo, testSettings, &fakeSender{}, ratelimit.NewFixedWindow(1, time.Minute), Config{}, nil)

	_, err := d.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunCycleSkipsWhenLeaseHeld(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMessageRepository()
	enqueue(t, repo, "1", 1, time.Now().Add(-time.Second))
	sender := &fakeSender{}

	l := lease.NewLocal()
	release, ok, err := l.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	d := NewDispatcher(repo, testSettings, sender, ratelimit.NewFixedWindow(10, time.Minute), Config{}, nil, WithLease(l))

	result, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, sender.sent)

	release()
	result, err = d.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Sent)
}

func TestRunCycleMetrics(t *testing.T) {
	repo := memory.NewMessageRepository()
	enqueue(t, repo, "ok", 1, time.Now().Add(-2*time.Second))
	enqueue(t, repo, "bad", 2, time.Now().Add(-time.Second))
	sender := &fakeSender{errs: map[string]error{"bad": errors.New("nope")}}

	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	d := NewDispatcher(repo, testSettings, sender, ratelimit.NewFixedWindow(10, time.Minute), Config{}, nil, WithMetrics(m))

	_, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesRetried))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DispatchBatchSize))
}
