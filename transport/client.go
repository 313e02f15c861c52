// Package transport implements the resilient HTTP and RPC transports that
// every other SDK component is built on: breaker-gated, retried, authenticated
// calls with case conversion and structured-error translation at the boundary.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	spooled "github.com/spooled/spooled-sdk-go"
	"github.com/spooled/spooled-sdk-go/auth"
	"github.com/spooled/spooled-sdk-go/breaker"
	"github.com/spooled/spooled-sdk-go/casewire"
	"github.com/spooled/spooled-sdk-go/internal/otelutil"
	"github.com/spooled/spooled-sdk-go/retry"
	"github.com/spooled/spooled-sdk-go/sdkerrors"
	"github.com/spooled/spooled-sdk-go/work"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/spooled/spooled-sdk-go/transport"

var getClientDuration = otelutil.LazyHistogram(
	tracerName,
	"http.client.request.duration",
	metric.WithDescription("Duration of HTTP client requests."),
	metric.WithUnit("s"),
)

// pathPrefix is prepended to every path unless RequestFlags.SkipPathPrefix
// is set.
const pathPrefix = "api/v1/"

// cancelBody wraps a response body so a context cancel function fires when
// the body is closed instead of when Do returns, so streamed bodies aren't
// cut off by a premature cancellation.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Client is the resilient HTTP leg of the SDK transport: breaker → retry →
// execute, with auth headers and lowerCamel/lower_snake conversion applied
// at the boundary.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	retry      retry.Policy
	breaker    *breaker.Breaker
	auth       *auth.Authenticator
}

// Option configures a Client.
type Option func(*Client)

// New creates a Client for baseURL with the given options applied.
func New(baseURL string, opts ...Option) *Client {
	spooled.AssertVersionChecked()
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    30 * time.Second,
		retry:      retry.DefaultPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// WithTimeout sets the maximum duration for a single HTTP request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetryPolicy sets the retry policy. Without this option DefaultPolicy
// applies.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// WithBreaker attaches a circuit breaker. Without this option calls are
// never breaker-gated.
func WithBreaker(b *breaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithAuthenticator attaches the authenticator used to resolve headers.
func WithAuthenticator(a *auth.Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, headers http.Header) (casewire.Value, error) {
	return c.Request(ctx, spooled.MethodGet, path, nil, query, headers, spooled.RequestFlags{})
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, path string, body any, headers http.Header) (casewire.Value, error) {
	return c.Request(ctx, spooled.MethodPost, path, body, nil, headers, spooled.RequestFlags{})
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, path string, body any, headers http.Header) (casewire.Value, error) {
	return c.Request(ctx, spooled.MethodPut, path, body, nil, headers, spooled.RequestFlags{})
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body any, headers http.Header) (casewire.Value, error) {
	return c.Request(ctx, spooled.MethodPatch, path, body, nil, headers, spooled.RequestFlags{})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, headers http.Header) (casewire.Value, error) {
	return c.Request(ctx, spooled.MethodDelete, path, nil, nil, headers, spooled.RequestFlags{})
}

// Request is the one generic entry point every convenience method wraps. It
// converts body/query keys to wire form, builds the request, runs it through
// the breaker and retry pipeline, and decodes the response back into caller
// form, translating non-2xx responses into a *sdkerrors.ServiceError.
func (c *Client) Request(ctx context.Context, method spooled.Method, path string, body any, query url.Values, headers http.Header, flags spooled.RequestFlags) (casewire.Value, error) {
	if err := c.breakerAllow(); err != nil {
		return nil, err
	}

	fullPath := path
	if !flags.SkipPathPrefix {
		fullPath = pathPrefix + strings.TrimLeft(path, "/")
	}
	reqURL := c.baseURL + "/" + strings.TrimLeft(fullPath, "/")

	var encodedBody []byte
	if body != nil {
		wireBody := casewire.ToWire(body)
		var err error
		encodedBody, err = json.Marshal(wireBody)
		if err != nil {
			return nil, sdkerrors.Validation("failed to encode request body").WithCause(err)
		}
	}

	var result casewire.Value

	err := c.retry.Run(ctx, func(attempt int) (retry.Outcome, error) {
		resp, netErr := c.doOnce(ctx, method, reqURL, encodedBody, query, headers, flags)
		if netErr != nil {
			return retry.Outcome{Method: string(method), NetErr: netErr, ForceRetry: flags.ForceRetryOnNonIdempotent}, netErr
		}
		defer resp.Body.Close()

		outcome := retry.Outcome{
			Method:     string(method),
			StatusCode: resp.StatusCode,
			ForceRetry: flags.ForceRetryOnNonIdempotent,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

		if resp.StatusCode >= 400 {
			svcErr := sdkerrors.FromHTTPStatus(resp.StatusCode, readBodyForError(resp))
			return outcome, svcErr
		}

		decoded, decodeErr := decodeBody(resp)
		if decodeErr != nil {
			return retry.Outcome{}, sdkerrors.Generic("failed to decode response body", resp.StatusCode).WithCause(decodeErr)
		}
		if valErr := casewire.Validate(decoded); valErr != nil {
			return retry.Outcome{}, valErr
		}
		result = casewire.FromWire(decoded)
		return outcome, nil
	})

	if c.breaker != nil {
		success := err == nil || !breaker.CountsAsFailure(sdkerrors.FromError(err).HTTPCode, nil)
		c.breaker.Record(success)
	}

	if err != nil {
		return nil, sdkerrors.FromError(err)
	}
	return result, nil
}

// RawPost sends body verbatim with no case conversion or JSON re-encoding,
// forcing retry eligibility regardless of method. It exists for signed
// webhook-style forwarding where the exact bytes are part of a signature.
func (c *Client) RawPost(ctx context.Context, path string, body []byte, headers http.Header) (casewire.Value, error) {
	if err := c.breakerAllow(); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var result casewire.Value

	err := c.retry.Run(ctx, func(attempt int) (retry.Outcome, error) {
		resp, netErr := c.doOnce(ctx, spooled.MethodPost, reqURL, body, nil, headers, spooled.RequestFlags{ForceRetryOnNonIdempotent: true})
		if netErr != nil {
			return retry.Outcome{Method: "POST", NetErr: netErr, ForceRetry: true}, netErr
		}
		defer resp.Body.Close()

		outcome := retry.Outcome{Method: "POST", StatusCode: resp.StatusCode, ForceRetry: true, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		if resp.StatusCode >= 400 {
			return outcome, sdkerrors.FromHTTPStatus(resp.StatusCode, readBodyForError(resp))
		}

		decoded, decodeErr := decodeBody(resp)
		if decodeErr != nil {
			return retry.Outcome{}, sdkerrors.Generic("failed to decode response body", resp.StatusCode).WithCause(decodeErr)
		}
		result = decoded
		return outcome, nil
	})

	if c.breaker != nil {
		c.breaker.Record(err == nil || !breaker.CountsAsFailure(sdkerrors.FromError(err).HTTPCode, nil))
	}
	if err != nil {
		return nil, sdkerrors.FromError(err)
	}
	return result, nil
}

// Batch executes multiple requests concurrently with bounded concurrency.
func (c *Client) Batch(ctx context.Context, reqs []BatchRequest, opts ...work.Option) ([]casewire.Value, error) {
	return work.Map(ctx, reqs, func(ctx context.Context, r BatchRequest) (casewire.Value, error) {
		return c.Request(ctx, r.Method, r.Path, r.Body, r.Query, r.Headers, r.Flags)
	}, opts...)
}

// BatchRequest is one item of a Batch call.
type BatchRequest struct {
	Method  spooled.Method
	Path    string
	Body    any
	Query   url.Values
	Headers http.Header
	Flags   spooled.RequestFlags
}

func (c *Client) breakerAllow() error {
	if c.breaker == nil {
		return nil
	}
	if err := c.breaker.Allow(); err != nil {
		snap := c.breaker.Snapshot()
		return sdkerrors.CircuitOpenErr("circuit breaker is open", snap)
	}
	return nil
}

// doOnce performs exactly one physical HTTP attempt with tracing, auth
// headers, and metric recording; it never retries or touches the breaker.
func (c *Client) doOnce(ctx context.Context, method spooled.Method, reqURL string, body []byte, query url.Values, headers http.Header, flags spooled.RequestFlags) (*http.Response, error) {
	start := time.Now()

	if len(query) > 0 {
		keys := make(map[string]any, len(query))
		for k, vs := range query {
			keys[k] = vs
		}
		wireQuery := url.Values{}
		for k, vs := range casewire.ToWire(keys).(map[string]any) {
			for _, v := range vs.([]string) {
				wireQuery.Add(k, v)
			}
		}
		reqURL = reqURL + "?" + wireQuery.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, string(method), reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.auth != nil {
		target := auth.ResourceOrdinary
		if flags.Admin {
			target = auth.ResourceAdmin
		}
		if k, v, ok := c.auth.HeaderFor(target); ok {
			req.Header.Set(k, v)
		}
		if k, v, ok := c.auth.AdminHeader(target); ok {
			req.Header.Set(k, v)
		}
	}

	tracer := otelapi.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, string(method)+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", string(method)),
			attribute.String("server.address", req.URL.Host),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)
	otelapi.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)

	durationAttrs := []attribute.KeyValue{
		attribute.String("http.request.method", string(method)),
		attribute.String("server.address", req.URL.Host),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		durationAttrs = append(durationAttrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
	} else {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.StatusCode >= 400 {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		durationAttrs = append(durationAttrs, attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if h := getClientDuration(); h != nil {
		h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(durationAttrs...))
	}

	return resp, err
}

func decodeBody(resp *http.Response) (casewire.Value, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func readBodyForError(resp *http.Response) string {
	data, _ := io.ReadAll(resp.Body)
	return string(data)
}

// parseRetryAfter parses an RFC 7231 Retry-After header, accepting both the
// delay-seconds form and the HTTP-date form.
func parseRetryAfter(raw string) *time.Duration {
	if raw == "" {
		return nil
	}
	if t, err := http.ParseTime(raw); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	d := time.Duration(n) * time.Second
	return &d
}
