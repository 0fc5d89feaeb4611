package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	fn       func(ctx context.Context) error
	executed int32
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.fn != nil {
		return m.fn(ctx)
	}
	return m.err
}

func newFuncJob(id string, fn func(ctx context.Context) error) *MockJob {
	return &MockJob{id: id, jobType: "host", fn: fn}
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func collect(t *testing.T, pool *Pool) []Result {
	t.Helper()
	var results []Result
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-pool.Results():
			if !ok {
				return results
			}
			results = append(results, r)
		case <-timeout:
			t.Fatal("timed out waiting for pool results")
			return nil
		}
	}
}

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid configuration", func(t *testing.T) {
		config := Config{Size: 5, QueueSize: 100}

		pool := New(config, nil)

		require.NotNil(t, pool)
		assert.Equal(t, config.QueueSize, cap(pool.jobs))
		assert.Equal(t, config.Size, cap(pool.results))
	})

	t.Run("creates pool with default values", func(t *testing.T) {
		pool := New(Config{}, nil)

		assert.Equal(t, defaultPoolSize, pool.config.Size)
		assert.Equal(t, defaultQueueSize, pool.config.QueueSize)
	})
}

func TestPoolProcessesEveryJob(t *testing.T) {
	pool := New(Config{Size: 3, QueueSize: 2}, nil)
	pool.Start(context.Background())

	jobs := make([]*MockJob, 10)
	go func() {
		for i := range jobs {
			jobs[i] = NewMockJob(fmt.Sprintf("job-%d", i), "host", time.Millisecond, nil)
			require.NoError(t, pool.Submit(context.Background(), jobs[i]))
		}
		pool.Close()
	}()

	results := collect(t, pool)
	require.Len(t, results, len(jobs))

	seen := make(map[string]bool)
	for _, r := range results {
		assert.NoError(t, r.Error)
		assert.Equal(t, "host", r.JobType)
		assert.Equal(t, int32(1), r.Job.(*MockJob).ExecutedCount())
		assert.Equal(t, r.JobID, r.Job.ID())
		seen[r.JobID] = true
	}
	assert.Len(t, seen, len(jobs))
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 2
	var running, peak int32

	pool := New(Config{Size: size, QueueSize: 10}, nil)
	pool.Start(context.Background())

	for i := 0; i < 8; i++ {
		job := newFuncJob(fmt.Sprintf("job-%d", i), func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
		require.NoError(t, pool.Submit(context.Background(), job))
	}
	pool.Close()

	assert.Len(t, collect(t, pool), 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(size))
}

func TestPoolRecoversPanics(t *testing.T) {
	pool := New(Config{Size: 1, QueueSize: 2}, nil)
	pool.Start(context.Background())

	require.NoError(t, pool.Submit(context.Background(), newFuncJob("boom", func(context.Context) error {
		panic("kaboom")
	})))
	require.NoError(t, pool.Submit(context.Background(), NewMockJob("after", "host", 0, nil)))
	pool.Close()

	results := collect(t, pool)
	require.Len(t, results, 2)

	byID := map[string]Result{results[0].JobID: results[0], results[1].JobID: results[1]}
	var panicErr *PanicError
	require.ErrorAs(t, byID["boom"].Error, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.NoError(t, byID["after"].Error, "the worker survives a panic")
}

func TestPoolReportsFinalError(t *testing.T) {
	pool := New(Config{Size: 1, QueueSize: 1}, nil)
	pool.Start(context.Background())

	want := errors.New("scan failed")
	require.NoError(t, pool.Submit(context.Background(), NewMockJob("bad", "host", 0, want)))
	pool.Close()

	results := collect(t, pool)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, want)
}

func TestSubmitAfterClose(t *testing.T) {
	pool := New(Config{Size: 1, QueueSize: 1}, nil)
	pool.Start(context.Background())
	pool.Close()
	pool.Close()

	assert.ErrorIs(t, pool.Submit(context.Background(), NewMockJob("late", "host", 0, nil)), ErrPoolClosed)
	assert.Empty(t, collect(t, pool))
}

func TestSubmitHonoursContext(t *testing.T) {
	// Not started, so the single queue slot stays occupied.
	pool := New(Config{Size: 1, QueueSize: 1}, nil)
	require.NoError(t, pool.Submit(context.Background(), NewMockJob("first", "host", 0, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Submit(ctx, NewMockJob("blocked", "host", 0, nil)), context.DeadlineExceeded)
}

func TestSubmitUnblocksOnClose(t *testing.T) {
	pool := New(Config{Size: 1, QueueSize: 1}, nil)
	require.NoError(t, pool.Submit(context.Background(), NewMockJob("first", "host", 0, nil)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Submit(context.Background(), NewMockJob("blocked", "host", 0, nil))
	}()
	time.Sleep(10 * time.Millisecond)
	pool.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("Submit did not return after Close")
	}
}

func TestCloseLetsRunningJobsFinish(t *testing.T) {
	pool := New(Config{Size: 2, QueueSize: 4}, nil)
	pool.Start(context.Background())
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(context.Background(), NewMockJob(fmt.Sprintf("job-%d", i), "host", 5*time.Millisecond, nil)))
	}
	pool.Close()

	results := collect(t, pool)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.NoError(t, r.Error)
		assert.Positive(t, r.Duration)
	}
}

func TestJobsSeeStartContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := New(Config{Size: 1, QueueSize: 1}, nil)
	pool.Start(ctx)

	require.NoError(t, pool.Submit(context.Background(), NewMockJob("slow", "host", time.Minute, nil)))
	pool.Close()
	time.Sleep(10 * time.Millisecond)
	cancel()

	results := collect(t, pool)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, context.Canceled)
}
