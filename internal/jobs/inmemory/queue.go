package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/expense-assistant/internal/dedupe"
	"github.com/dvloznov/expense-assistant/internal/jobs"
	"github.com/dvloznov/expense-assistant/internal/logger"
	"github.com/google/uuid"
)

// Defaults for NewQueue.
const (
	DefaultWorkers    = 5
	DefaultMaxRetries = 3
)

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Messages are deduplicated by MessageID within the dedupe window.
type Queue struct {
	jobChan   chan *jobs.MessageJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers int
	backoff time.Duration

	seen *dedupe.Window // message id -> job id
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets how many jobs run concurrently.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the base retry delay; retry n waits n times this.
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) { q.backoff = d }
}

// WithDedupeWindow sets how long a message id is remembered.
func WithDedupeWindow(d time.Duration) Option {
	return func(q *Queue) { q.seen = dedupe.New(d) }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishMessage blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:   make(chan *jobs.MessageJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   DefaultWorkers,
		backoff:   time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.seen == nil {
		q.seen = dedupe.New(dedupe.DefaultTTL)
	}
	return q
}

// PublishMessage implements the Publisher interface.
func (q *Queue) PublishMessage(ctx context.Context, job *jobs.MessageJob) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.MessageID != "" && !q.claim(job.MessageID, job.JobID) {
		return fmt.Errorf("%w: %s", jobs.ErrDuplicateMessage, job.MessageID)
	}

	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			q.release(job.MessageID)
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	if err := q.enqueue(ctx, job); err != nil {
		q.release(job.MessageID)
		return err
	}
	return nil
}

// claim records messageID; false when it was already claimed.
func (q *Queue) claim(messageID, jobID string) bool {
	return q.seen.Add(messageID, jobID)
}

func (q *Queue) release(messageID string) {
	if messageID == "" {
		return
	}
	q.seen.Delete(messageID)
}

// JobIDFor returns the job created for a message id, if any.
func (q *Queue) JobIDFor(messageID string) (string, bool) {
	return q.seen.Get(messageID)
}

func (q *Queue) enqueue(ctx context.Context, job *jobs.MessageJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	// Enqueue job with context cancellation support
	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return jobs.ErrQueueClosed
	}
}

// Start implements the Consumer interface.
// The handler is called concurrently for each job, up to the configured
// number of workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.MessageJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("message_id", job.MessageID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := q.run(ctx, job, handler)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	retry := false
	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case job.RetryCount < job.MaxRetries && !errors.Is(err, jobs.ErrPermanent):
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		retry = true
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("Job failed, scheduling retry")
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Msg("Job failed permanently")
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
	if !retry {
		return
	}

	// Re-enqueue with linear backoff.
	retryJob := *job
	time.AfterFunc(time.Duration(job.RetryCount)*q.backoff, func() {
		retryJob.Status = jobs.JobStatusPending
		retryJob.StartedAt = nil
		retryJob.CompletedAt = nil
		if q.store != nil {
			_ = q.store.SaveJob(context.Background(), &retryJob)
		}
		if err := q.enqueue(context.Background(), &retryJob); err != nil {
			retryJob.Status = jobs.JobStatusFailed
			retryJob.Error = err.Error()
			if q.store != nil {
				_ = q.store.SaveJob(context.Background(), &retryJob)
			}
		}
	})
}

// run calls handler, turning a panic into an error.
func (q *Queue) run(ctx context.Context, job *jobs.MessageJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return handler(ctx, job)
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
