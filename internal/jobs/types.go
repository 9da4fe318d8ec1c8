package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeHandleMessage represents one inbound chat message.
	JobTypeHandleMessage JobType = "handle_message"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

var (
	// ErrDuplicateMessage is returned when a message id was already queued.
	// Webhook redeliveries hit this and are acknowledged without rework.
	ErrDuplicateMessage = errors.New("message already queued")

	// ErrJobNotFound is returned by JobStore lookups.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueClosed is returned when publishing after Stop.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrPermanent marks a job error that retrying cannot fix. The queue
	// fails such jobs without scheduling a retry.
	ErrPermanent = errors.New("permanent failure")
)

// MessageJob carries one inbound message through the queue.
type MessageJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// MessageID is the channel's message id; it is the deduplication key.
	MessageID string `json:"message_id"`

	Sender string `json:"sender"`
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`

	// MediaID references an attachment still held by the channel.
	MediaID string `json:"media_id,omitempty"`

	// MediaURI is the gs:// URI of the archived attachment, once known.
	MediaURI string `json:"media_uri,omitempty"`

	MIMEType   string    `json:"mime_type,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	// Reply is the text sent back to the sender.
	Reply string `json:"reply,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// GetType returns the job type.
func (j *MessageJob) GetType() JobType {
	return JobTypeHandleMessage
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishMessage enqueues a message. It returns ErrDuplicateMessage when
	// the message id was seen before.
	PublishMessage(ctx context.Context, job *MessageJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error makes the job eligible for
// retry; the handler may update the job's fields before returning.
type JobHandler func(ctx context.Context, job *MessageJob) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *MessageJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*MessageJob, error)

	// FindByMessageID retrieves the job created for a message.
	FindByMessageID(ctx context.Context, messageID string) (*MessageJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*MessageJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Sender filters jobs by sender.
	Sender string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
