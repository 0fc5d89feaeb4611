// Package workers provides a bounded worker pool. The scan orchestrator uses
// it to fan hosts out to a fixed number of goroutines while a single consumer
// drains the results.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anstrom/netsentry/internal/logging"
)

const (
	defaultPoolSize  = 10
	defaultQueueSize = 100
)

// ErrPoolClosed is returned by Submit once Close was called.
var ErrPoolClosed = errors.New("worker pool is closed")

// Job represents a unit of work to be processed by the pool.
type Job interface {
	Execute(ctx context.Context) error
	ID() string
	Type() string
}

// Result is the outcome of one job. Every submitted job yields exactly one.
type Result struct {
	Job      Job
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
}

// PanicError is the error of a job whose Execute panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// Config holds worker pool configuration.
type Config struct {
	Size      int // Number of workers
	QueueSize int // Size of job queue
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = defaultPoolSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Pool runs jobs on a fixed set of workers. Results must be drained by the
// caller; workers block until their result is received.
type Pool struct {
	config  Config
	jobs    chan Job
	results chan Result
	quit    chan struct{}
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	started   bool
	closed    bool
	closeOnce sync.Once
}

// New creates a pool. Workers start with Start.
func New(config Config, logger *logging.Logger) *Pool {
	config = config.withDefaults()
	if logger == nil {
		logger = logging.Default()
	}

	return &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.Size),
		quit:    make(chan struct{}),
		logger:  logger.WithComponent("workers"),
	}
}

// Start launches the workers. Jobs run under a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Debug("Worker pool started", "workers", p.config.Size, "queue_size", p.config.QueueSize)
}

// Submit queues a job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Results returns the result channel. It is closed after Close once every
// queued job has finished.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs. Queued and running jobs still complete.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)

		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		started := p.started
		p.mu.Unlock()

		go func() {
			p.wg.Wait()
			if started {
				p.cancel()
			}
			close(p.results)
		}()
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobs {
		start := time.Now()
		err := p.run(job)
		p.results <- Result{Job: job, JobID: job.ID(), JobType: job.Type(), Error: err, Duration: time.Since(start)}
	}
}

// run executes the job, converting a panic into a PanicError.
func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			p.logger.Error("Job panicked",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"panic", fmt.Sprint(r))
		}
	}()
	return job.Execute(p.ctx)
}
