package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	spooled "github.com/spooled/spooled-sdk-go"
	"github.com/spooled/spooled-sdk-go/auth"
	"github.com/spooled/spooled-sdk-go/sdkerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestMain(m *testing.M) {
	spooled.RequireMajor(1)
	m.Run()
}

const bufSize = 1024 * 1024

// fakeWorkerServer answers Claim requests directly, bypassing protobuf
// codegen via a hand-rolled grpc.ServiceDesc that decodes/encodes through the
// same jsonCodec the RPCClient forces on every call.
type fakeWorkerServer struct {
	claimResp ClaimResponse
	claimErr  error

	mu        sync.Mutex
	gotAPIKey string
}

func (s *fakeWorkerServer) claim(ctx context.Context, req ClaimRequest) (*ClaimResponse, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		s.mu.Lock()
		if vals := md.Get("x-api-key"); len(vals) > 0 {
			s.gotAPIKey = vals[0]
		}
		s.mu.Unlock()
	}
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	resp := s.claimResp
	return &resp, nil
}

var fakeWorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: "spooled.transport.v1.WorkerService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Claim",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				var req ClaimRequest
				if err := dec(&req); err != nil {
					return nil, err
				}
				return srv.(*fakeWorkerServer).claim(ctx, req)
			},
		},
	},
}

func startFakeServer(t *testing.T, ws *fakeWorkerServer) (*bufconn.Listener, func()) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	server.RegisterService(&fakeWorkerServiceDesc, ws)
	healthSrv := grpchealth.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthSrv)
	go func() { _ = server.Serve(lis) }()
	return lis, server.Stop
}

func newBufconnRPCClient(lis *bufconn.Listener) *RPCClient {
	return NewRPCClient("passthrough://bufnet",
		WithInsecureTransport(),
		WithDialOption(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
	)
}

func TestRPCClientClaimSuccess(t *testing.T) {
	ws := &fakeWorkerServer{claimResp: ClaimResponse{Found: true, JobID: "job-1", LeaseID: "lease-1"}}
	lis, stop := startFakeServer(t, ws)
	defer stop()

	client := newBufconnRPCClient(lis)
	defer client.Close()

	resp, err := client.Claim(context.Background(), ClaimRequest{QueueName: "emails", WorkerID: "w1", LeaseFor: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.JobID != "job-1" || resp.LeaseID != "lease-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRPCClientClaimTranslatesGRPCError(t *testing.T) {
	ws := &fakeWorkerServer{claimErr: status.Error(codes.NotFound, "queue not found")}
	lis, stop := startFakeServer(t, ws)
	defer stop()

	client := newBufconnRPCClient(lis)
	defer client.Close()

	_, err := client.Claim(context.Background(), ClaimRequest{QueueName: "missing"})
	if err == nil {
		t.Fatal("expected an error")
	}
	svcErr, ok := err.(*sdkerrors.ServiceError)
	if !ok {
		t.Fatalf("expected *sdkerrors.ServiceError, got %T", err)
	}
	if svcErr.Kind != sdkerrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", svcErr.Kind)
	}
}

func TestRPCClientAttachesAPIKeyMetadata(t *testing.T) {
	ws := &fakeWorkerServer{claimResp: ClaimResponse{Found: true, JobID: "job-1", LeaseID: "lease-1"}}
	lis, stop := startFakeServer(t, ws)
	defer stop()

	authn := auth.New(auth.NewCredentials(auth.CredentialSet{APIKey: "secret-key"}))
	client := NewRPCClient("passthrough://bufnet",
		WithInsecureTransport(),
		WithAuthenticator(authn),
		WithDialOption(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
	)
	defer client.Close()

	if _, err := client.Claim(context.Background(), ClaimRequest{QueueName: "emails", WorkerID: "w1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.gotAPIKey != "secret-key" {
		t.Errorf("got x-api-key metadata %q, want %q", ws.gotAPIKey, "secret-key")
	}
}

func TestRPCClientWaitForReady(t *testing.T) {
	ws := &fakeWorkerServer{}
	lis, stop := startFakeServer(t, ws)
	defer stop()

	client := newBufconnRPCClient(lis)
	defer client.Close()

	if err := client.WaitForReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRPCClientWaitForReadyTimesOutWhenUnreachable(t *testing.T) {
	client := NewRPCClient("passthrough://nowhere",
		WithInsecureTransport(),
		WithDialOption(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})),
	)
	defer client.Close()

	err := client.WaitForReady(context.Background(), 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}
