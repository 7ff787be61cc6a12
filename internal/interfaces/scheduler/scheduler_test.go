package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJob is a test double for Job
type MockJob struct {
	name      string
	ExecuteFn func(ctx context.Context) error
}

func (m *MockJob) Execute(ctx context.Context) error {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx)
	}
	return nil
}

func (m *MockJob) Name() string        { return m.name }
func (m *MockJob) Description() string { return "mock " + m.name }

func TestWorkerPool_RunsJobs(t *testing.T) {
	pool := NewWorkerPool(3, 0, 10)
	pool.Start()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(&MockJob{name: "count", ExecuteFn: func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}}))
	}
	wg.Wait()
	pool.Shutdown()

	assert.EqualValues(t, 5, ran.Load())
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1)

	require.NoError(t, pool.Submit(&MockJob{name: "a"}))
	err := pool.Submit(&MockJob{name: "b"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1)
	pool.Start()
	pool.Shutdown()

	assert.ErrorIs(t, pool.Submit(&MockJob{name: "late"}), ErrPoolClosed)
	pool.Shutdown()
}

func TestWorkerPool_JobTimeout(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1)
	pool.SetJobTimeout(20 * time.Millisecond)
	pool.Start()
	defer pool.Shutdown()

	errc := make(chan error, 1)
	require.NoError(t, pool.Submit(&MockJob{name: "slow", ExecuteFn: func(ctx context.Context) error {
		<-ctx.Done()
		errc <- ctx.Err()
		return ctx.Err()
	}}))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestScheduler_TriggerRunsJobs(t *testing.T) {
	s := NewScheduler(NewWorkerPool(2, 0, 10), time.UTC)

	done := make(chan struct{})
	require.NoError(t, s.Register("aggregate-brands", "0 11 * * *", Jobs(&MockJob{
		name:      JobAggregate,
		ExecuteFn: func(context.Context) error { close(done); return nil },
	})))
	s.Start(false)
	defer s.Shutdown(time.Second)

	info, err := s.Trigger("aggregate-brands")
	require.NoError(t, err)
	assert.Equal(t, "0 11 * * *", info.Spec)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job did not run")
	}
}

func TestScheduler_RegisterErrors(t *testing.T) {
	s := NewScheduler(NewWorkerPool(1, 0, 1), nil)

	assert.Error(t, s.Register("bad", "not a spec", Jobs()))
	require.NoError(t, s.Register("manual", "", Jobs()))
	assert.Error(t, s.Register("manual", "", Jobs()), "duplicate name")

	_, err := s.Trigger("missing")
	assert.ErrorIs(t, err, ErrUnknownTrigger)
}

func TestScheduler_Triggers(t *testing.T) {
	s := NewScheduler(NewWorkerPool(1, 0, 1), time.UTC)
	require.NoError(t, s.Register("sync-2", "2 10 * * *", Jobs()))
	require.NoError(t, s.Register("sync-1", "0 10 * * *", Jobs()))
	require.NoError(t, s.Register("consume", "", Jobs()))
	s.Start(false)
	defer s.Shutdown(time.Second)

	infos := s.Triggers()
	require.Len(t, infos, 3)
	assert.Equal(t, "consume", infos[0].Name)
	assert.True(t, infos[0].Next.IsZero())
	assert.Equal(t, "sync-1", infos[1].Name)
	assert.Equal(t, 10, infos[1].Next.Hour())
	assert.Equal(t, 0, infos[1].Next.Minute())
}

func TestScheduler_SourceError(t *testing.T) {
	s := NewScheduler(NewWorkerPool(1, 0, 1), time.UTC)
	called := make(chan struct{})
	require.NoError(t, s.Register("broken", "", func(context.Context) ([]Job, error) {
		close(called)
		return nil, errors.New("store down")
	}))
	s.Start(false)
	defer s.Shutdown(time.Second)

	_, err := s.Trigger("broken")
	require.NoError(t, err)
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("source was not called")
	}
}
