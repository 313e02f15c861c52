package transport

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	otelapi "go.opentelemetry.io/otel"

	"github.com/spooled/spooled-sdk-go/auth"
)

// unaryClientAuth attaches the "x-api-key" metadata header carrying the
// configured API key to every outgoing RPC. A no-op when authn is nil or no
// API key is configured.
func unaryClientAuth(authn *auth.Authenticator) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if authn != nil {
			if key, value, ok := authn.RPCMetadata(); ok {
				ctx = metadata.AppendToOutgoingContext(ctx, key, value)
			}
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// metadataCarrier adapts outgoing gRPC metadata to the OTel TextMapCarrier
// interface so the global propagator can write W3C traceparent headers onto
// an outbound RPC.
type metadataCarrier struct {
	md metadata.MD
}

func (c metadataCarrier) Get(key string) string {
	vals := c.md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (c metadataCarrier) Set(key, value string) { c.md.Set(key, value) }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c.md))
	for k := range c.md {
		keys = append(keys, k)
	}
	return keys
}

// unaryClientLogging logs method, duration and error for every outgoing RPC.
func unaryClientLogging(logger *slog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		attrs := []slog.Attr{
			slog.String("method", method),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "rpc call", attrs...)
		return err
	}
}

// unaryClientMetrics records rpc.client.duration as an OTel histogram with
// method and status code attributes.
func unaryClientMetrics() grpc.UnaryClientInterceptor {
	histogram := otelapi.GetMeterProvider().Meter(tracerName)
	h, _ := histogram.Float64Histogram(
		"rpc.client.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of outgoing gRPC calls."),
	)
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		duration := time.Since(start).Seconds()

		grpcCode := codes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				grpcCode = st.Code()
			}
		}
		if h != nil {
			h.Record(ctx, duration, metric.WithAttributes(
				attribute.String("rpc.method", method),
				attribute.String("rpc.system", "grpc"),
				attribute.Int("rpc.grpc.status_code", int(grpcCode)),
			))
		}
		return err
	}
}

// unaryClientTracing starts a client span around each RPC and injects W3C
// trace context into outgoing metadata so the server side can parent its
// own span under it.
func unaryClientTracing() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		tracer := otelapi.GetTracerProvider().Tracer(tracerName)
		ctx, span := tracer.Start(ctx, method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("rpc.system", "grpc"),
				attribute.String("rpc.method", method),
			),
		)
		defer span.End()

		md, ok := metadata.FromOutgoingContext(ctx)
		if !ok {
			md = metadata.MD{}
		} else {
			md = md.Copy()
		}
		otelapi.GetTextMapPropagator().Inject(ctx, metadataCarrier{md: md})
		ctx = metadata.NewOutgoingContext(ctx, md)

		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			st, _ := status.FromError(err)
			span.SetAttributes(attribute.Int("rpc.grpc.status_code", int(st.Code())))
			span.SetStatus(otelcodes.Error, st.Message())
		} else {
			span.SetAttributes(attribute.Int("rpc.grpc.status_code", int(codes.OK)))
		}
		return err
	}
}
