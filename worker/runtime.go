package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	spooled "github.com/spooled/spooled-sdk-go"
	"github.com/spooled/spooled-sdk-go/config"
	"github.com/spooled/spooled-sdk-go/metrics"
	"github.com/spooled/spooled-sdk-go/transport"
)

// Runtime claims jobs from a queue, dispatches them to a registered handler
// with bounded concurrency, and keeps their leases alive until they finish.
type Runtime struct {
	cfg config.WorkerConfig
	rpc transport.WorkerServiceClient

	hostname          string
	workerType        string
	version           string
	metadata          map[string]string
	heartbeatFraction float64
	onProgress        func(jobID string, percent int, note string)

	log     *slog.Logger
	metrics *metrics.Recorder

	handler HandlerFunc

	mu        sync.Mutex
	listeners map[Event][]func(Payload)
	active    map[string]context.CancelFunc

	workerID string
	inFlight atomic.Int32
	draining atomic.Bool
	degraded atomic.Bool

	tasksWG  sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithHostname sets the hostname reported at registration.
func WithHostname(h string) Option { return func(r *Runtime) { r.hostname = h } }

// WithWorkerType sets the worker type reported at registration.
func WithWorkerType(t string) Option { return func(r *Runtime) { r.workerType = t } }

// WithVersion sets the worker build version reported at registration.
func WithVersion(v string) Option { return func(r *Runtime) { r.version = v } }

// WithMetadata attaches free-form metadata reported at registration.
func WithMetadata(m map[string]string) Option { return func(r *Runtime) { r.metadata = m } }

// WithHeartbeatFraction overrides the fraction of leaseDuration at which a
// job's lease is renewed. Default 0.5 (renew at 15s for a 30s lease).
func WithHeartbeatFraction(f float64) Option {
	return func(r *Runtime) { r.heartbeatFraction = f }
}

// WithProgressReporter registers a sink for JobContext.Progress calls.
func WithProgressReporter(fn func(jobID string, percent int, note string)) Option {
	return func(r *Runtime) { r.onProgress = fn }
}

// WithLogger attaches a logger for runtime diagnostics. Without this option
// slog.Default() is used. Job-level outcomes are still delivered primarily
// through On(Event...) listeners; this logger covers runtime-internal
// conditions a host wouldn't otherwise see (registration/deregistration
// failures, force-fail on drain timeout).
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.log = logger }
}

// WithMetrics attaches a cardinality-protected recorder that tracks
// claimed/completed/failed job counts, labeled by queue name.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(r *Runtime) { r.metrics = rec }
}

// New creates a Runtime. Register a handler with Process before calling
// Start.
func New(cfg config.WorkerConfig, rpc transport.WorkerServiceClient, opts ...Option) *Runtime {
	spooled.AssertVersionChecked()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	r := &Runtime{
		cfg:               cfg,
		rpc:               rpc,
		heartbeatFraction: 0.5,
		log:               slog.Default(),
		listeners:         make(map[Event][]func(Payload)),
		active:            make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Process registers the handler run for each claimed job.
func (r *Runtime) Process(h HandlerFunc) { r.handler = h }

// On subscribes cb to every occurrence of e.
func (r *Runtime) On(e Event, cb func(Payload)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[e] = append(r.listeners[e], cb)
}

func (r *Runtime) emit(e Event, p Payload) {
	r.mu.Lock()
	cbs := append([]func(Payload){}, r.listeners[e]...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(p)
	}
}

// Start registers the worker, then blocks running the claim and heartbeat
// loops until Stop is called or ctx is cancelled. On either signal it stops
// claiming new work, waits up to cfg.DrainTimeout for in-flight jobs to
// finish (force-failing any that don't), deregisters, and returns.
func (r *Runtime) Start(ctx context.Context) error {
	if r.handler == nil {
		return errors.New("worker: no handler registered, call Process before Start")
	}
	r.stopCh = make(chan struct{})

	resp, err := r.rpc.RegisterWorker(ctx, transport.RegisterWorkerRequest{
		QueueNames: []string{r.cfg.QueueName},
		Hostname:   r.hostname,
		Version:    r.version,
	})
	if err != nil {
		r.log.Error("worker: registration failed", "error", err, "queue", r.cfg.QueueName)
		return fmt.Errorf("worker: registration failed: %w", err)
	}
	r.workerID = resp.WorkerID
	r.emit(EventStarted, Payload{"workerId": r.workerID})

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	g, gCtx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return r.claimLoop(gCtx) })
	g.Go(func() error { return r.heartbeatLoop(gCtx) })

	select {
	case <-ctx.Done():
	case <-r.stopCh:
	}
	r.draining.Store(true)

	drained := make(chan struct{})
	go func() {
		r.tasksWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(r.cfg.DrainTimeout):
		r.forceFailRemaining()
	}

	cancelLoops()
	loopErr := g.Wait()

	deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.rpc.DeregisterWorker(deregisterCtx, transport.DeregisterWorkerRequest{WorkerID: r.workerID}); err != nil {
		r.log.Warn("worker: deregistration failed", "error", err, "workerId", r.workerID)
		r.emit(EventError, Payload{"error": err.Error(), "phase": "deregister"})
	}
	r.emit(EventStopped, Payload{"workerId": r.workerID})

	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		return loopErr
	}
	return nil
}

// Stop signals the runtime to drain and terminate. Idempotent; safe to call
// more than once or before Start has returned.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		if r.stopCh != nil {
			close(r.stopCh)
		}
	})
}

// forceFailRemaining cancels every still-running job's context and reports
// it failed due to worker shutdown, for jobs that didn't finish within
// DrainTimeout.
func (r *Runtime) forceFailRemaining() {
	r.mu.Lock()
	remaining := make(map[string]context.CancelFunc, len(r.active))
	for id, cancel := range r.active {
		remaining[id] = cancel
	}
	r.mu.Unlock()

	for jobID, cancel := range remaining {
		cancel()
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.rpc.Fail(ctx, transport.FailRequest{JobID: jobID, Reason: "worker shutdown"}); err != nil && !raceTolerated(err) {
			r.log.Warn("worker: force-fail on drain timeout failed", "error", err, "jobId", jobID)
			r.emit(EventError, Payload{"jobId": jobID, "error": err.Error(), "phase": "force-fail"})
		}
		done()
	}
}
