package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	spooled "github.com/spooled/spooled-sdk-go"
	"github.com/spooled/spooled-sdk-go/auth"
	"github.com/spooled/spooled-sdk-go/sdkerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// jsonCodec marshals RPC messages as JSON. The methods below exchange the
// plain Go structs in rpc_types.go rather than generated protobuf messages,
// so this codec is forced per call instead of relying on codegen.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

const (
	methodEnqueue          = "/spooled.transport.v1.QueueService/Enqueue"
	methodGetQueueStats    = "/spooled.transport.v1.QueueService/GetQueueStats"
	methodClaim            = "/spooled.transport.v1.WorkerService/Claim"
	methodComplete         = "/spooled.transport.v1.WorkerService/Complete"
	methodFail             = "/spooled.transport.v1.WorkerService/Fail"
	methodHeartbeat        = "/spooled.transport.v1.WorkerService/Heartbeat"
	methodRegisterWorker   = "/spooled.transport.v1.WorkerService/RegisterWorker"
	methodDeregisterWorker = "/spooled.transport.v1.WorkerService/DeregisterWorker"
	methodWorkerHeartbeat  = "/spooled.transport.v1.WorkerService/WorkerHeartbeat"
)

// RPCClient is the gRPC leg of the SDK transport. The connection is dialed
// lazily on first use so constructing an RPCClient never blocks or fails on
// network reachability; WaitForReady (or any RPC) triggers the real
// connection attempt.
type RPCClient struct {
	target string
	logger *slog.Logger
	authn  *auth.Authenticator

	dialOpts []grpc.DialOption
	dialOnce sync.Once
	dialErr  error
	conn     *grpc.ClientConn
}

// RPCOption configures an RPCClient.
type RPCOption func(*RPCClient)

// WithInsecureTransport disables TLS for the gRPC connection. Intended for
// local development and tests against a plaintext server.
func WithInsecureTransport() RPCOption {
	return func(c *RPCClient) {
		c.dialOpts = append(c.dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

// WithLogger attaches a logger used by the client logging interceptor.
func WithLogger(logger *slog.Logger) RPCOption {
	return func(c *RPCClient) { c.logger = logger }
}

// WithDialOption passes a raw grpc.DialOption through to grpc.NewClient.
// Tests use this to supply a bufconn dialer.
func WithDialOption(opt grpc.DialOption) RPCOption {
	return func(c *RPCClient) { c.dialOpts = append(c.dialOpts, opt) }
}

// WithAuthenticator attaches the "x-api-key" metadata header to every
// outgoing RPC from the configured API key.
func WithAuthenticator(authn *auth.Authenticator) RPCOption {
	return func(c *RPCClient) { c.authn = authn }
}

// NewRPCClient creates an RPCClient targeting the given gRPC address
// ("host:port"). The connection is not established until the first call.
func NewRPCClient(target string, opts ...RPCOption) *RPCClient {
	spooled.AssertVersionChecked()
	c := &RPCClient{
		target: target,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.dialOpts = append(c.dialOpts,
		grpc.WithChainUnaryInterceptor(
			unaryClientAuth(c.authn),
			unaryClientTracing(),
			unaryClientMetrics(),
			unaryClientLogging(c.logger),
		),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	return c
}

// dial establishes the underlying connection exactly once.
func (c *RPCClient) dial() error {
	c.dialOnce.Do(func() {
		c.conn, c.dialErr = grpc.NewClient(c.target, c.dialOpts...)
	})
	return c.dialErr
}

// WaitForReady blocks until the gRPC server reports SERVING on its standard
// health service, ctx is cancelled, or deadline elapses, whichever comes
// first.
func (c *RPCClient) WaitForReady(ctx context.Context, deadline time.Duration) error {
	if err := c.dial(); err != nil {
		return sdkerrors.Network("failed to dial gRPC server").WithCause(err)
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	health := healthpb.NewHealthClient(c.conn)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{})
		if err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		select {
		case <-ctx.Done():
			return sdkerrors.Timeout("gRPC server did not become ready before the deadline")
		case <-ticker.C:
		}
	}
}

// Close releases the underlying connection. Safe to call even if the
// connection was never dialed.
func (c *RPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *RPCClient) invoke(ctx context.Context, method string, req, reply any) error {
	if err := c.dial(); err != nil {
		return sdkerrors.Network("failed to dial gRPC server").WithCause(err)
	}
	err := c.conn.Invoke(ctx, method, req, reply)
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return sdkerrors.Network("rpc call failed").WithCause(err)
	}
	return sdkerrors.FromGRPCCode(st.Code(), st.Message())
}

// Enqueue submits a job to a queue via the QueueService.
func (c *RPCClient) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error) {
	var resp EnqueueResponse
	err := c.invoke(ctx, methodEnqueue, &req, &resp)
	return resp, err
}

// GetQueueStats fetches point-in-time depth/throughput counters for a queue.
func (c *RPCClient) GetQueueStats(ctx context.Context, req GetQueueStatsRequest) (GetQueueStatsResponse, error) {
	var resp GetQueueStatsResponse
	err := c.invoke(ctx, methodGetQueueStats, &req, &resp)
	return resp, err
}

// Claim leases the next available job from a queue for a worker.
func (c *RPCClient) Claim(ctx context.Context, req ClaimRequest) (ClaimResponse, error) {
	var resp ClaimResponse
	err := c.invoke(ctx, methodClaim, &req, &resp)
	return resp, err
}

// Complete reports successful completion of a leased job.
func (c *RPCClient) Complete(ctx context.Context, req CompleteRequest) error {
	var resp struct{}
	return c.invoke(ctx, methodComplete, &req, &resp)
}

// Fail reports a job failure, optionally marking it non-retryable.
func (c *RPCClient) Fail(ctx context.Context, req FailRequest) error {
	var resp struct{}
	return c.invoke(ctx, methodFail, &req, &resp)
}

// Heartbeat renews the lease on a job a worker is still processing.
func (c *RPCClient) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	var resp HeartbeatResponse
	err := c.invoke(ctx, methodHeartbeat, &req, &resp)
	return resp, err
}

// RegisterWorker announces a worker process to the queue service.
func (c *RPCClient) RegisterWorker(ctx context.Context, req RegisterWorkerRequest) (RegisterWorkerResponse, error) {
	var resp RegisterWorkerResponse
	err := c.invoke(ctx, methodRegisterWorker, &req, &resp)
	return resp, err
}

// DeregisterWorker announces a worker's graceful shutdown.
func (c *RPCClient) DeregisterWorker(ctx context.Context, req DeregisterWorkerRequest) error {
	var resp struct{}
	return c.invoke(ctx, methodDeregisterWorker, &req, &resp)
}

// WorkerHeartbeat reports worker-level liveness and current in-flight count.
func (c *RPCClient) WorkerHeartbeat(ctx context.Context, req WorkerHeartbeatRequest) (WorkerHeartbeatResponse, error) {
	var resp WorkerHeartbeatResponse
	err := c.invoke(ctx, methodWorkerHeartbeat, &req, &resp)
	return resp, err
}
