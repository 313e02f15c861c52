// Package worker implements the claim/process/complete runtime that drives
// job handlers against the queue service: a bounded pool of in-flight jobs,
// per-job lease renewal, a worker-level heartbeat, and graceful draining.
package worker

import "context"

// Event is one of the worker runtime's lifecycle notifications. It is a
// closed variant — callers can only observe the values declared here.
type Event string

const (
	EventStarted      Event = "started"
	EventStopped      Event = "stopped"
	EventError        Event = "error"
	EventJobClaimed   Event = "job:claimed"
	EventJobStarted   Event = "job:started"
	EventJobCompleted Event = "job:completed"
	EventJobFailed    Event = "job:failed"
)

// Payload carries event-specific data to a listener registered via On.
type Payload map[string]any

// JobContext is handed to a HandlerFunc for each claimed job.
type JobContext struct {
	JobID      string
	QueueName  string
	Payload    []byte
	RetryCount int
	MaxRetries int
	WorkerID   string

	isShuttingDown func() bool
	progress       func(percent int, note string)
}

// IsShuttingDown reports whether the runtime has begun draining. A
// long-running handler can poll this to exit early and return a retryable
// error instead of racing the shutdown timeout.
func (c *JobContext) IsShuttingDown() bool {
	if c.isShuttingDown == nil {
		return false
	}
	return c.isShuttingDown()
}

// Progress reports handler progress to whatever progress sink the runtime
// was configured with. It is a no-op when no sink is configured.
func (c *JobContext) Progress(percent int, note string) {
	if c.progress != nil {
		c.progress(percent, note)
	}
}

// HandlerFunc processes one claimed job. Its return value becomes the job
// result; a returned error fails the job. Wrap the error with NonRetryable
// to suppress server-side retry.
type HandlerFunc func(ctx context.Context, jc *JobContext) (any, error)
