package chain

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Pool runs tasks on a fixed set of workers fed by a bounded queue. When the
// queue is full the task is dropped.
type Pool struct {
	handler Handler
	timeout time.Duration
	logger  *slog.Logger

	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ Dispatcher = (*Pool)(nil)

func NewPool(handler Handler, workers, queueSize int, timeout time.Duration, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if workers > 50 {
		workers = 50
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		handler: handler,
		timeout: timeout,
		logger:  logger,
		tasks:   make(chan Task, queueSize),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work(i)
	}
	return p
}

func (p *Pool) Dispatch(t Task) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("chain: pool closed, task dropped", "job_id", t.JobID, "owner_id", t.OwnerID)
		return
	}
	select {
	case p.tasks <- t:
	default:
		p.logger.Warn("chain: queue full, task dropped", "job_id", t.JobID, "owner_id", t.OwnerID)
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work(workerID int) {
	defer p.wg.Done()
	for t := range p.tasks {
		start := time.Now()
		if err := p.run(t); err != nil {
			p.logger.Error("chain: task failed",
				"worker", workerID, "job_id", t.JobID, "owner_id", t.OwnerID,
				"feature", t.Feature, "cost", time.Since(start), "err", err)
			continue
		}
		p.logger.Info("chain: task admitted", "worker", workerID, "job_id", t.JobID, "feature", t.Feature)
	}
}

func (p *Pool) run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.handler(ctx, t)
}
