package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"guidekit/pkg/logx"
)

// Pool errors.
var (
	ErrQueueFull  = errors.New("work queue is full")
	ErrNotRunning = errors.New("worker pool is not running")
)

// Handler processes one queued job ID.
type Handler func(ctx context.Context, id string) error

// Pool runs a handler over queued job IDs with a fixed number of workers.
// An ID is queued at most once until its handler returns.
type Pool struct {
	handler  Handler
	logger   *logx.Logger
	queue    chan string
	stopping chan struct{}
	inflight map[string]struct{}
	group    *errgroup.Group
	cancel   context.CancelFunc
	senders  sync.WaitGroup
	workers  int
	mu       sync.Mutex
	running  bool
}

// NewPool creates a stopped pool.
func NewPool(workers, queueSize int, handler Handler) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		handler:  handler,
		logger:   logx.NewLogger("worker-pool"),
		queue:    make(chan string, queueSize),
		stopping: make(chan struct{}),
		inflight: make(map[string]struct{}),
		workers:  workers,
	}
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("worker pool is already running")
	}
	if p.group != nil {
		return fmt.Errorf("worker pool cannot be restarted")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.group = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			p.work(runCtx)
			return nil
		})
	}
	p.running = true
	p.logger.Info("Started %d workers (queue size %d)", p.workers, cap(p.queue))
	return nil
}

func (p *Pool) work(ctx context.Context) {
	for id := range p.queue {
		if err := p.handler(ctx, id); err != nil {
			p.logger.Error("Job %s failed: %v", id, err)
		}
		p.forget(id)
	}
}

// Enqueue queues id. It returns false without error when id is already
// queued or running.
func (p *Pool) Enqueue(id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false, ErrNotRunning
	}
	if _, ok := p.inflight[id]; ok {
		return false, nil
	}
	select {
	case p.queue <- id:
		p.inflight[id] = struct{}{}
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// EnqueueWait queues id, waiting for a free queue slot instead of failing
// with ErrQueueFull. It returns ErrNotRunning when the pool stops while
// waiting, and ctx's error when ctx ends first.
func (p *Pool) EnqueueWait(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false, ErrNotRunning
	}
	if _, ok := p.inflight[id]; ok {
		p.mu.Unlock()
		return false, nil
	}
	p.inflight[id] = struct{}{}
	p.senders.Add(1)
	p.mu.Unlock()
	defer p.senders.Done()

	select {
	case p.queue <- id:
		return true, nil
	case <-p.stopping:
		p.forget(id)
		return false, ErrNotRunning
	case <-ctx.Done():
		p.forget(id)
		return false, ctx.Err() //nolint:wrapcheck // Caller's context
	}
}

func (p *Pool) forget(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

// Pending returns the number of queued or running jobs.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Stop stops accepting jobs and waits for the workers to drain the queue.
// When ctx expires first, running jobs are cancelled and Stop waits for
// them to return before reporting ctx's error.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopping)
	p.mu.Unlock()
	// Blocked EnqueueWait callers must return before the queue closes.
	p.senders.Wait()
	close(p.queue)

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out, cancelling running jobs")
		p.cancel()
		<-done
		return ctx.Err() //nolint:wrapcheck // Caller's deadline
	}
}
