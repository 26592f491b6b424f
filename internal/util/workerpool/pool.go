package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned when submitting to a stopped pool
	ErrStopped = errors.New("worker pool is stopped")
	// ErrQueueFull is returned when the queue has no free slot
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrDuplicate is returned when a job with the same key is already queued or running
	ErrDuplicate = errors.New("job with this key is already pending")
)

// Job is a unit of background work. Jobs sharing a Key never run concurrently
// and are not queued twice.
type Job struct {
	ID      string
	Key     string
	Timeout time.Duration
	Fn      func(context.Context) error
}

// WorkerPool runs jobs on a bounded set of goroutines, detached from the
// context of whoever submitted them.
type WorkerPool struct {
	name       string
	maxWorkers int
	queue      chan Job
	queueSize  int
	logger     *zap.Logger

	pendingMu sync.Mutex
	pending   map[string]struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}

	activeWorkers int32
	totalJobs     uint64
	completedJobs uint64
	failedJobs    uint64
	rejectedJobs  uint64
	onJobFinished func(job Job, err error)
}

// Config holds worker pool configuration
type Config struct {
	Name          string
	MaxWorkers    int
	QueueSize     int
	Logger        *zap.Logger
	OnJobFinished func(job Job, err error)
}

// NewWorkerPool creates and starts a worker pool
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &WorkerPool{
		name:          cfg.Name,
		maxWorkers:    cfg.MaxWorkers,
		queueSize:     cfg.QueueSize,
		queue:         make(chan Job, cfg.QueueSize),
		logger:        cfg.Logger,
		pending:       make(map[string]struct{}),
		stopChan:      make(chan struct{}),
		onJobFinished: cfg.OnJobFinished,
	}

	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", pool.queueSize))

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case job := <-p.queue:
			p.run(id, job)
		}
	}
}

func (p *WorkerPool) run(workerID int, job Job) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	defer p.release(job.Key)

	start := time.Now()
	err := p.safeExecute(job)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failedJobs, 1)
		p.logger.Warn("Background job failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("job_id", job.ID),
			zap.String("job_key", job.Key),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		atomic.AddUint64(&p.completedJobs, 1)
		p.logger.Debug("Background job completed",
			zap.String("pool", p.name),
			zap.String("job_id", job.ID),
			zap.Duration("duration", duration))
	}

	if p.onJobFinished != nil {
		p.onJobFinished(job, err)
	}
}

// safeExecute runs the job on a fresh context so the submitter's
// cancellation never reaches it.
func (p *WorkerPool) safeExecute(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	return job.Fn(ctx)
}

func (p *WorkerPool) reserve(key string) bool {
	if key == "" {
		return true
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if _, ok := p.pending[key]; ok {
		return false
	}
	p.pending[key] = struct{}{}
	return true
}

func (p *WorkerPool) release(key string) {
	if key == "" {
		return
	}
	p.pendingMu.Lock()
	delete(p.pending, key)
	p.pendingMu.Unlock()
}

// Submit queues a job without blocking
func (p *WorkerPool) Submit(job Job) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedJobs, 1)
		return ErrStopped
	default:
	}

	if !p.reserve(job.Key) {
		atomic.AddUint64(&p.rejectedJobs, 1)
		return ErrDuplicate
	}

	select {
	case p.queue <- job:
		atomic.AddUint64(&p.totalJobs, 1)
		return nil
	default:
		p.release(job.Key)
		atomic.AddUint64(&p.rejectedJobs, 1)
		return ErrQueueFull
	}
}

// Stop waits up to timeout for running jobs to finish. Queued jobs are dropped.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool", zap.String("name", p.name))
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
		}
	})
	return err
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:          p.name,
		MaxWorkers:    p.maxWorkers,
		ActiveWorkers: int(atomic.LoadInt32(&p.activeWorkers)),
		QueuedJobs:    len(p.queue),
		TotalJobs:     atomic.LoadUint64(&p.totalJobs),
		CompletedJobs: atomic.LoadUint64(&p.completedJobs),
		FailedJobs:    atomic.LoadUint64(&p.failedJobs),
		RejectedJobs:  atomic.LoadUint64(&p.rejectedJobs),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name          string
	MaxWorkers    int
	ActiveWorkers int
	QueuedJobs    int
	TotalJobs     uint64
	CompletedJobs uint64
	FailedJobs    uint64
	RejectedJobs  uint64
}
