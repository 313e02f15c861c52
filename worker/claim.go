package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spooled/spooled-sdk-go/transport"
)

// claimLoop polls for claimable work while not draining, dispatching each
// claimed job to its own task. It returns only when ctx is cancelled.
func (r *Runtime) claimLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r.draining.Load() {
				continue
			}
			avail := int(r.cfg.Concurrency) - int(r.inFlight.Load())
			for i := 0; i < avail; i++ {
				claim, err := r.rpc.Claim(ctx, transport.ClaimRequest{
					QueueName: r.cfg.QueueName,
					WorkerID:  r.workerID,
					LeaseFor:  r.cfg.LeaseDuration,
				})
				if err != nil {
					r.emit(EventError, Payload{"error": err.Error(), "phase": "claim"})
					break
				}
				if !claim.Found {
					break
				}
				r.dispatch(claim)
			}
		}
	}
}

// dispatch runs one claimed job's handler task and its paired lease-renewal
// task. The renewal task stops no later than the handler task ending.
func (r *Runtime) dispatch(claim transport.ClaimResponse) {
	r.inFlight.Add(1)
	r.tasksWG.Add(1)

	jobCtx, jobCancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.active[claim.JobID] = jobCancel
	r.mu.Unlock()

	r.emit(EventJobClaimed, Payload{"jobId": claim.JobID})
	if r.metrics != nil {
		r.metrics.Counter("jobs_claimed").Add(context.Background(), 1, "queue", r.cfg.QueueName)
	}

	go func() {
		defer r.tasksWG.Done()
		defer r.inFlight.Add(-1)
		defer func() {
			r.mu.Lock()
			delete(r.active, claim.JobID)
			r.mu.Unlock()
			jobCancel()
		}()

		renewalDone := make(chan struct{})
		go r.renewLease(jobCtx, claim, renewalDone)
		defer close(renewalDone)

		jc := &JobContext{
			JobID:          claim.JobID,
			QueueName:      r.cfg.QueueName,
			Payload:        claim.Payload,
			RetryCount:     int(claim.Attempt),
			MaxRetries:     int(claim.MaxRetries),
			WorkerID:       r.workerID,
			isShuttingDown: r.draining.Load,
		}
		if r.onProgress != nil {
			jc.progress = func(percent int, note string) { r.onProgress(claim.JobID, percent, note) }
		}

		r.emit(EventJobStarted, Payload{"jobId": claim.JobID})
		result, err := r.runHandler(jobCtx, jc)

		// jobCtx is only cancelled before this point by forceFailRemaining,
		// which reports the job failed itself.
		if jobCtx.Err() != nil {
			return
		}

		settleCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err != nil {
			failErr := r.rpc.Fail(settleCtx, transport.FailRequest{
				JobID:        claim.JobID,
				LeaseID:      claim.LeaseID,
				Reason:       err.Error(),
				NonRetryable: isNonRetryable(err),
			})
			if failErr != nil && !raceTolerated(failErr) {
				r.emit(EventError, Payload{"jobId": claim.JobID, "error": failErr.Error(), "phase": "fail"})
			}
			r.emit(EventJobFailed, Payload{"jobId": claim.JobID, "error": err.Error()})
			if r.metrics != nil {
				r.metrics.Counter("jobs_failed").Add(settleCtx, 1, "queue", r.cfg.QueueName)
			}
			return
		}

		completeErr := r.rpc.Complete(settleCtx, transport.CompleteRequest{
			JobID:   claim.JobID,
			LeaseID: claim.LeaseID,
			Result:  encodeResult(result),
		})
		if completeErr != nil && !raceTolerated(completeErr) {
			r.emit(EventError, Payload{"jobId": claim.JobID, "error": completeErr.Error(), "phase": "complete"})
		}
		r.emit(EventJobCompleted, Payload{"jobId": claim.JobID})
		if r.metrics != nil {
			r.metrics.Counter("jobs_completed").Add(settleCtx, 1, "queue", r.cfg.QueueName)
		}
	}()
}

// runHandler invokes the registered handler, converting a panic into a
// (non-retryable, since a panicking handler is assumed broken rather than
// transiently failed) error instead of crashing the worker.
func (r *Runtime) runHandler(ctx context.Context, jc *JobContext) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = NonRetryable(fmt.Errorf("worker: handler panic: %v", rec))
		}
	}()
	return r.handler(ctx, jc)
}

// renewLease periodically extends the lease on a claimed job until done is
// closed, which happens no later than the job task completing. Renewal
// errors are logged as degradation, not propagated: the next renewal or the
// final complete/fail settles the job's true state.
func (r *Runtime) renewLease(ctx context.Context, claim transport.ClaimResponse, done <-chan struct{}) {
	interval := time.Duration(float64(r.cfg.LeaseDuration) * r.heartbeatFraction)
	if interval <= 0 {
		interval = r.cfg.LeaseDuration
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_, err := r.rpc.Heartbeat(ctx, transport.HeartbeatRequest{
				JobID:    claim.JobID,
				LeaseID:  claim.LeaseID,
				LeaseFor: r.cfg.LeaseDuration,
			})
			r.degraded.Store(err != nil)
		}
	}
}

// heartbeatLoop reports worker-level liveness every cfg.HeartbeatInterval
// until ctx is cancelled.
func (r *Runtime) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := "healthy"
			if r.draining.Load() {
				status = "draining"
			} else if r.degraded.Load() {
				status = "degraded"
			}
			_, err := r.rpc.WorkerHeartbeat(ctx, transport.WorkerHeartbeatRequest{
				WorkerID:    r.workerID,
				CurrentJobs: r.inFlight.Load(),
				Status:      status,
			})
			if err != nil {
				r.emit(EventError, Payload{"error": err.Error(), "phase": "worker-heartbeat"})
			}
		}
	}
}

// encodeResult turns a handler's return value into wire bytes. nil becomes
// an empty payload.
func encodeResult(v any) []byte {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
