package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spooled/spooled-sdk-go/config"
	"github.com/spooled/spooled-sdk-go/transport"
)

// fakeWorkerClient is an in-memory transport.WorkerServiceClient stand-in
// that hands out a fixed number of jobs and records every call made against
// it, so tests can assert on dispatch/settlement/heartbeat behavior without
// a real server.
type fakeWorkerClient struct {
	mu sync.Mutex

	pending []transport.ClaimResponse

	registered   bool
	deregistered bool

	completed []string
	failed    []string

	heartbeats       []string // jobIDs
	workerHeartbeats int32
}

func (f *fakeWorkerClient) RegisterWorker(ctx context.Context, req transport.RegisterWorkerRequest) (transport.RegisterWorkerResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = true
	return transport.RegisterWorkerResponse{WorkerID: "worker-1"}, nil
}

func (f *fakeWorkerClient) DeregisterWorker(ctx context.Context, req transport.DeregisterWorkerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered = true
	return nil
}

func (f *fakeWorkerClient) Claim(ctx context.Context, req transport.ClaimRequest) (transport.ClaimResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return transport.ClaimResponse{Found: false}, nil
	}
	next := f.pending[0]
	f.pending = f.pending[1:]
	return next, nil
}

func (f *fakeWorkerClient) Complete(ctx context.Context, req transport.CompleteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, req.JobID)
	return nil
}

func (f *fakeWorkerClient) Fail(ctx context.Context, req transport.FailRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, req.JobID)
	return nil
}

func (f *fakeWorkerClient) Heartbeat(ctx context.Context, req transport.HeartbeatRequest) (transport.HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, req.JobID)
	return transport.HeartbeatResponse{ExpiresAt: time.Now().Add(req.LeaseFor)}, nil
}

func (f *fakeWorkerClient) WorkerHeartbeat(ctx context.Context, req transport.WorkerHeartbeatRequest) (transport.WorkerHeartbeatResponse, error) {
	atomic.AddInt32(&f.workerHeartbeats, 1)
	return transport.WorkerHeartbeatResponse{Acknowledged: true}, nil
}

func (f *fakeWorkerClient) snapshot() (completed, failed []string, registered, deregistered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.completed...), append([]string{}, f.failed...), f.registered, f.deregistered
}

func TestGracefulDrainFinishesInFlightJobs(t *testing.T) {
	client := &fakeWorkerClient{
		pending: []transport.ClaimResponse{
			{Found: true, JobID: "job-1", LeaseID: "lease-1"},
			{Found: true, JobID: "job-2", LeaseID: "lease-2"},
			{Found: true, JobID: "job-3", LeaseID: "lease-3"},
		},
	}

	cfg := config.WorkerConfig{
		QueueName:         "q",
		Concurrency:       3,
		HeartbeatInterval: 50 * time.Millisecond,
		LeaseDuration:     time.Second,
		PollInterval:      10 * time.Millisecond,
		DrainTimeout:      5 * time.Second,
	}
	rt := New(cfg, client)
	rt.Process(func(ctx context.Context, jc *JobContext) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	// Give the claim loop a chance to pick up all three jobs before draining.
	time.Sleep(50 * time.Millisecond)
	rt.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	completed, failed, registered, deregistered := client.snapshot()
	if !registered {
		t.Error("expected RegisterWorker to have been called")
	}
	if !deregistered {
		t.Error("expected DeregisterWorker to have been called")
	}
	if len(failed) != 0 {
		t.Errorf("expected no forced failures, got %v", failed)
	}
	if len(completed) != 3 {
		t.Errorf("expected all 3 jobs to complete before shutdown, got %v", completed)
	}
}

func TestDrainTimeoutForceFailsStragglers(t *testing.T) {
	client := &fakeWorkerClient{
		pending: []transport.ClaimResponse{
			{Found: true, JobID: "slow-job", LeaseID: "lease-1"},
		},
	}

	cfg := config.WorkerConfig{
		QueueName:         "q",
		Concurrency:       1,
		HeartbeatInterval: time.Second,
		LeaseDuration:     time.Second,
		PollInterval:      10 * time.Millisecond,
		DrainTimeout:      100 * time.Millisecond,
	}
	rt := New(cfg, client)
	rt.Process(func(ctx context.Context, jc *JobContext) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	rt.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after drain timeout")
	}

	_, failed, _, _ := client.snapshot()
	if len(failed) != 1 || failed[0] != "slow-job" {
		t.Errorf("expected slow-job to be force-failed, got %v", failed)
	}
}

func TestLeaseRenewedAtHeartbeatFraction(t *testing.T) {
	client := &fakeWorkerClient{
		pending: []transport.ClaimResponse{
			{Found: true, JobID: "job-1", LeaseID: "lease-1"},
		},
	}

	cfg := config.WorkerConfig{
		QueueName:         "q",
		Concurrency:       1,
		HeartbeatInterval: time.Second,
		LeaseDuration:     100 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		DrainTimeout:      5 * time.Second,
	}
	rt := New(cfg, client, WithHeartbeatFraction(0.5))
	rt.Process(func(ctx context.Context, jc *JobContext) (any, error) {
		time.Sleep(260 * time.Millisecond)
		return nil, nil
	})

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	time.Sleep(300 * time.Millisecond)
	rt.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	client.mu.Lock()
	renewals := len(client.heartbeats)
	client.mu.Unlock()

	// A 260ms job with a 100ms lease renewed every 50ms (0.5 * 100ms) should
	// see roughly 5 renewals; allow slack for scheduling jitter.
	if renewals < 3 || renewals > 7 {
		t.Errorf("expected 3-7 lease renewals, got %d", renewals)
	}
}

func TestJobFailureReportsError(t *testing.T) {
	client := &fakeWorkerClient{
		pending: []transport.ClaimResponse{
			{Found: true, JobID: "bad-job", LeaseID: "lease-1"},
		},
	}

	cfg := config.WorkerConfig{
		QueueName:         "q",
		Concurrency:       1,
		HeartbeatInterval: time.Second,
		LeaseDuration:     time.Second,
		PollInterval:      10 * time.Millisecond,
		DrainTimeout:      5 * time.Second,
	}
	rt := New(cfg, client)
	rt.Process(func(ctx context.Context, jc *JobContext) (any, error) {
		return nil, NonRetryable(context.DeadlineExceeded)
	})

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	time.Sleep(80 * time.Millisecond)
	rt.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	_, failed, _, _ := client.snapshot()
	if len(failed) != 1 || failed[0] != "bad-job" {
		t.Errorf("expected bad-job to be reported failed, got %v", failed)
	}
}
