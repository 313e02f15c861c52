package transport

import (
	"context"
	"time"
)

// EnqueueRequest submits a new job to a queue.
type EnqueueRequest struct {
	QueueName      string
	Payload        []byte
	Priority       int32
	MaxRetries     int32
	IdempotencyKey string
	AvailableAt    *time.Time
}

// EnqueueResponse is returned after a job is accepted onto a queue.
type EnqueueResponse struct {
	JobID string
}

// ClaimRequest leases the next available job from a queue for a worker.
type ClaimRequest struct {
	QueueName string
	WorkerID  string
	LeaseFor  time.Duration
}

// ClaimResponse carries the leased job, if any was available.
type ClaimResponse struct {
	Found      bool
	JobID      string
	Payload    []byte
	Attempt    int32
	MaxRetries int32
	LeaseID    string
	ExpiresAt  time.Time
}

// CompleteRequest reports successful completion of a leased job.
type CompleteRequest struct {
	JobID   string
	LeaseID string
	Result  []byte
}

// FailRequest reports a job failure, optionally marking it non-retryable.
type FailRequest struct {
	JobID        string
	LeaseID      string
	Reason       string
	NonRetryable bool
}

// HeartbeatRequest renews the lease on a job a worker is still processing.
type HeartbeatRequest struct {
	JobID    string
	LeaseID  string
	LeaseFor time.Duration
}

// HeartbeatResponse confirms the renewed lease expiry.
type HeartbeatResponse struct {
	ExpiresAt time.Time
}

// WorkerHeartbeatRequest reports worker-level liveness, distinct from the
// per-job lease renewal HeartbeatRequest.
type WorkerHeartbeatRequest struct {
	WorkerID    string
	CurrentJobs int32
	Status      string
}

// WorkerHeartbeatResponse acknowledges a worker heartbeat.
type WorkerHeartbeatResponse struct {
	Acknowledged bool
}

// RegisterWorkerRequest announces a worker process to the queue service.
type RegisterWorkerRequest struct {
	QueueNames []string
	Hostname   string
	Version    string
}

// RegisterWorkerResponse returns the server-assigned worker identity.
type RegisterWorkerResponse struct {
	WorkerID string
}

// DeregisterWorkerRequest announces a worker's graceful shutdown.
type DeregisterWorkerRequest struct {
	WorkerID string
}

// GetQueueStatsRequest asks for point-in-time depth/throughput counters.
type GetQueueStatsRequest struct {
	QueueName string
}

// GetQueueStatsResponse carries point-in-time queue depth/throughput counters.
type GetQueueStatsResponse struct {
	QueueName     string
	Pending       int64
	InFlight      int64
	CompletedLast time.Duration
	FailedLast    time.Duration
}

// QueueServiceClient is the RPC surface for enqueueing and inspecting jobs.
// Implementations are typically generated from a .proto definition; this
// interface lets RPCClient and its callers depend on behavior rather than a
// specific generated stub.
type QueueServiceClient interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error)
	GetQueueStats(ctx context.Context, req GetQueueStatsRequest) (GetQueueStatsResponse, error)
}

// WorkerServiceClient is the RPC surface the worker runtime drives: claiming
// jobs, reporting outcomes, renewing leases, and worker lifecycle.
type WorkerServiceClient interface {
	Claim(ctx context.Context, req ClaimRequest) (ClaimResponse, error)
	Complete(ctx context.Context, req CompleteRequest) error
	Fail(ctx context.Context, req FailRequest) error
	Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
	RegisterWorker(ctx context.Context, req RegisterWorkerRequest) (RegisterWorkerResponse, error)
	DeregisterWorker(ctx context.Context, req DeregisterWorkerRequest) error
	WorkerHeartbeat(ctx context.Context, req WorkerHeartbeatRequest) (WorkerHeartbeatResponse, error)
}

var (
	_ QueueServiceClient  = (*RPCClient)(nil)
	_ WorkerServiceClient = (*RPCClient)(nil)
)
