package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadgen-outreach-go/internal/config"
	"leadgen-outreach-go/internal/metrics"
	"leadgen-outreach-go/internal/model"
	"leadgen-outreach-go/internal/repository"
)

type recordingExecutor struct {
	store repository.OutreachStore
	fail  map[string]bool

	mu   sync.Mutex
	seen []string
}

func (e *recordingExecutor) Execute(ctx context.Context, msg *model.OutreachMessage) (model.Outcome, error) {
	e.mu.Lock()
	e.seen = append(e.seen, msg.ID)
	e.mu.Unlock()

	if e.fail[msg.ID] {
		return model.Outcome{}, errors.New("store unavailable")
	}
	outcome := model.Outcome{Status: model.StatusSent, DeliveryStatus: model.DeliveryAccepted}
	return outcome, e.store.Finish(ctx, msg, outcome)
}

func seed(store *repository.MemoryStore, id string, due time.Time) {
	store.Put(&model.OutreachMessage{
		ID:           id,
		CompanyID:    "c1",
		Status:       model.StatusScheduled,
		ScheduledFor: &due,
		Metadata:     model.Metadata{model.KeyToEmail: id + "@example.com"},
	})
}

func newTestScheduler(store repository.OutreachStore, exec Executor) *Scheduler {
	cfg := &config.SchedulerConfig{Interval: time.Hour, BatchSize: 10, ClaimLease: 10 * time.Minute}
	return NewScheduler(cfg, store, exec, metrics.NewMetricsWith(prometheus.NewRegistry()))
}

func TestSchedulerRestart(t *testing.T) {
	store := repository.NewMemoryStore()
	sched := newTestScheduler(store, &recordingExecutor{store: store})

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err())
	assert.Len(t, sched.cron.Entries(), 1)
	assert.False(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Stop())
}

func TestRunOnceDeliversDueInOrder(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Now()
	seed(store, "second", now.Add(-time.Minute))
	seed(store, "first", now.Add(-2*time.Minute))
	seed(store, "future", now.Add(time.Hour))

	exec := &recordingExecutor{store: store}
	sched := newTestScheduler(store, exec)

	result, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, []string{"first", "second"}, exec.seen)

	future, err := store.Get(context.Background(), "future")
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, future.Status)

	require.NotNil(t, sched.LastResult())
	assert.Equal(t, 2, sched.LastResult().Sent)
}

func TestTickContinuesAfterError(t *testing.T) {
	store := repository.NewMemoryStore()
	now := time.Now()
	seed(store, "a", now.Add(-3*time.Minute))
	seed(store, "b", now.Add(-2*time.Minute))
	seed(store, "c", now.Add(-time.Minute))

	exec := &recordingExecutor{store: store, fail: map[string]bool{"b": true}}
	sched := newTestScheduler(store, exec)

	result, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, []string{"a", "b", "c"}, exec.seen)

	b, err := store.Get(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSending, b.Status)
}

func TestDisabledSendingLeavesDueMessagesScheduled(t *testing.T) {
	store := repository.NewMemoryStore()
	seed(store, "due", time.Now().Add(-time.Minute))

	exec := &recordingExecutor{store: store}
	sched := newTestScheduler(store, exec)
	sched.SetSendingEnabled(false)

	result, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Paused)
	assert.Zero(t, result.Claimed)
	assert.Empty(t, exec.seen)

	due, err := store.Get(context.Background(), "due")
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, due.Status)

	sched.SetSendingEnabled(true)
	result, err = sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Paused)
	assert.Equal(t, 1, result.Sent)
}

func TestTickWithNothingDueIsNoop(t *testing.T) {
	store := repository.NewMemoryStore()
	exec := &recordingExecutor{store: store}
	sched := newTestScheduler(store, exec)

	for i := 0; i < 3; i++ {
		result, err := sched.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, result.Claimed)
	}
	assert.Empty(t, exec.seen)
}

func TestCancelledTickLeavesRemainingClaims(t *testing.T) {
	store := repository.NewMemoryStore()
	seed(store, "a", time.Now().Add(-time.Minute))

	exec := &recordingExecutor{store: store}
	sched := newTestScheduler(store, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sched.RunOnce(ctx)
	assert.Error(t, err)
	assert.Empty(t, exec.seen)
}
