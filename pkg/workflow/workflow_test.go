package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"guidekit/pkg/llm/middleware/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type job struct {
	trail []string
}

func noBackoff(attempts int) *retry.Policy {
	return retry.NewPolicy(retry.Config{MaxAttempts: attempts}, nil)
}

func TestRunnerRetriesUntilSuccess(t *testing.T) {
	var observed []string
	runner := NewRunner[job](3, noBackoff(3), func(step string, _ time.Duration, err error) {
		observed = append(observed, step+":"+map[bool]string{true: "ok", false: "err"}[err == nil])
	})

	calls := 0
	steps := []Step[job]{
		{Name: "first", Run: func(_ context.Context, j *job) error {
			j.trail = append(j.trail, "first")
			return nil
		}},
		{Name: "flaky", Run: func(_ context.Context, j *job) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			j.trail = append(j.trail, "flaky")
			return nil
		}},
	}

	var state job
	require.NoError(t, runner.Run(context.Background(), steps, &state))
	assert.Equal(t, []string{"first", "flaky"}, state.trail)
	assert.Equal(t, []string{"first:ok", "flaky:err", "flaky:err", "flaky:ok"}, observed)
}

func TestRunnerStopsAtExhaustedStep(t *testing.T) {
	boom := errors.New("boom")
	runner := NewRunner[job](2, noBackoff(2), nil)
	reached := false
	steps := []Step[job]{
		{Name: "scrape", Run: func(context.Context, *job) error { return boom }},
		{Name: "never", Run: func(context.Context, *job) error { reached = true; return nil }},
	}

	err := runner.Run(context.Background(), steps, &job{})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "scrape", stepErr.Step)
	assert.Equal(t, 2, stepErr.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
}

func TestRunnerPermanentErrorSkipsRetries(t *testing.T) {
	calls := 0
	runner := NewRunner[job](5, noBackoff(5), nil)
	steps := []Step[job]{{Name: "fetch", Run: func(context.Context, *job) error {
		calls++
		return Permanent(errors.New("404"))
	}}}

	err := runner.Run(context.Background(), steps, &job{})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Attempts)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
	assert.Nil(t, Permanent(nil))
}

func TestRunnerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	runner := NewRunner[job](5, retry.NewPolicy(retry.Config{
		MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 1,
	}, nil), nil)
	steps := []Step[job]{{Name: "slow", Run: func(context.Context, *job) error {
		calls++
		cancel()
		return errors.New("interrupted")
	}}}

	err := runner.Run(ctx, steps, &job{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPoolProcessesAndDedupes(t *testing.T) {
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []string
	)
	pool := NewPool(1, 4, func(_ context.Context, id string) error {
		<-release
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	ok, err := pool.Enqueue("a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = pool.Enqueue("a")
	require.NoError(t, err)
	assert.False(t, ok, "in-flight id is not queued twice")
	ok, err = pool.Enqueue("b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, pool.Pending())

	close(release)
	require.NoError(t, pool.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 0, pool.Pending())

	_, err = pool.Enqueue("c")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool := NewPool(1, 1, func(context.Context, string) error {
		started <- struct{}{}
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	_, err := pool.Enqueue("running")
	require.NoError(t, err)
	<-started
	_, err = pool.Enqueue("queued")
	require.NoError(t, err)
	_, err = pool.Enqueue("overflow")
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, pool.Stop(context.Background()))
}

func TestPoolEnqueueWaitBlocksForSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var (
		mu   sync.Mutex
		seen []string
	)
	pool := NewPool(1, 1, func(_ context.Context, id string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	_, err := pool.Enqueue("running")
	require.NoError(t, err)
	<-started
	_, err = pool.Enqueue("queued")
	require.NoError(t, err)

	waited := make(chan error, 1)
	go func() {
		_, err := pool.EnqueueWait(context.Background(), "waiting")
		waited <- err
	}()
	require.Eventually(t, func() bool { return pool.Pending() == 3 }, time.Second, 5*time.Millisecond)

	ok, err := pool.EnqueueWait(context.Background(), "waiting")
	require.NoError(t, err)
	assert.False(t, ok, "waiting id is not queued twice")

	close(release)
	require.NoError(t, <-waited)
	require.NoError(t, pool.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"running", "queued", "waiting"}, seen)
}

func TestPoolEnqueueWaitGivesUp(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	pool := NewPool(1, 1, func(context.Context, string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	_, err := pool.Enqueue("running")
	require.NoError(t, err)
	<-started
	_, err = pool.Enqueue("queued")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.EnqueueWait(ctx, "late")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, pool.Pending())

	waited := make(chan error, 1)
	go func() {
		_, err := pool.EnqueueWait(context.Background(), "stopped")
		waited <- err
	}()
	require.Eventually(t, func() bool { return pool.Pending() == 3 }, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- pool.Stop(context.Background()) }()
	assert.ErrorIs(t, <-waited, ErrNotRunning)
	close(release)
	require.NoError(t, <-stopped)

	_, err = pool.EnqueueWait(context.Background(), "after")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPoolStopTimeoutCancelsJobs(t *testing.T) {
	pool := NewPool(2, 2, func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, pool.Start(context.Background()))
	_, err := pool.Enqueue("stuck")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Stop(ctx), context.DeadlineExceeded)
	assert.Error(t, pool.Start(context.Background()))
}
