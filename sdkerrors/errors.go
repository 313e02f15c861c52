// Package sdkerrors provides the SDK's unified error taxonomy with dual
// HTTP and gRPC status codes, adapted from a generic ServiceError type into
// the closed set of kinds the Transport Core surfaces.
package sdkerrors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind enumerates the error taxonomy surfaced by the Transport Core.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindNotFound       Kind = "not_found"
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindRateLimit      Kind = "rate_limit"
	KindPlanLimit      Kind = "plan_limit"
	KindCircuitOpen    Kind = "circuit_open"
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindGeneric        Kind = "generic"
)

// ServiceError is the concrete error type returned by every SDK package.
// Fields beyond Kind/Message/HTTPCode/GRPCCode are populated only when
// relevant to the Kind (see the Kind-specific factories below).
type ServiceError struct {
	Kind        Kind
	Message     string
	HTTPCode    int
	GRPCCode    codes.Code
	RequestID   string
	IsRetryable bool

	// Validation
	Details map[string]string
	// Conflict
	ConflictReason string
	// RateLimit
	RetryAfterSeconds int
	// PlanLimit
	Limit    int
	Current  int
	PlanTier string
	// CircuitOpen
	Snapshot any

	cause   error
	typeURI string // custom RFC 9457 type URI, optional
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, supporting errors.Is/As chains.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// GRPCStatus returns a gRPC status for this error, so ServiceError can be
// inspected with status.FromError by RPC-aware callers.
func (e *ServiceError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode, e.Message)
}

// WithDetail adds a single validation detail key-value pair (fluent).
func (e *ServiceError) WithDetail(key, value string) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithDetails adds multiple validation detail key-value pairs at once (fluent).
func (e *ServiceError) WithDetails(details map[string]string) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]string, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithRequestID sets the server-supplied request id (fluent).
func (e *ServiceError) WithRequestID(id string) *ServiceError {
	e.RequestID = id
	return e
}

// WithType sets a custom RFC 9457 type URI, overriding the default (fluent).
func (e *ServiceError) WithType(uri string) *ServiceError {
	e.typeURI = uri
	return e
}

// WithCause sets the underlying error cause for Unwrap chaining (fluent).
func (e *ServiceError) WithCause(err error) *ServiceError {
	e.cause = err
	return e
}

// --- Factory constructors, one per Kind ---

// Authentication creates a 401 / UNAUTHENTICATED error. Never retryable.
func Authentication(msg string) *ServiceError {
	return &ServiceError{Kind: KindAuthentication, Message: msg, HTTPCode: http.StatusUnauthorized, GRPCCode: codes.Unauthenticated}
}

// NotFound creates a 404 / NOT_FOUND error.
func NotFound(msg string) *ServiceError {
	return &ServiceError{Kind: KindNotFound, Message: msg, HTTPCode: http.StatusNotFound, GRPCCode: codes.NotFound}
}

// Validation creates a 400/422 / INVALID_ARGUMENT error carrying a per-field
// detail map.
func Validation(msg string) *ServiceError {
	return &ServiceError{Kind: KindValidation, Message: msg, HTTPCode: http.StatusBadRequest, GRPCCode: codes.InvalidArgument}
}

// Conflict creates a 409 / ABORTED error carrying a conflict reason.
func Conflict(msg, reason string) *ServiceError {
	return &ServiceError{Kind: KindConflict, Message: msg, HTTPCode: http.StatusConflict, GRPCCode: codes.Aborted, ConflictReason: reason}
}

// RateLimit creates a 429 / RESOURCE_EXHAUSTED error carrying the server's
// Retry-After hint in seconds. It is always retryable.
func RateLimit(msg string, retryAfterSeconds int) *ServiceError {
	return &ServiceError{Kind: KindRateLimit, Message: msg, HTTPCode: http.StatusTooManyRequests, GRPCCode: codes.ResourceExhausted, RetryAfterSeconds: retryAfterSeconds, IsRetryable: true}
}

// PlanLimit creates a 403 / PERMISSION_DENIED error carrying the plan's
// limit/current usage/tier.
func PlanLimit(msg string, limit, current int, planTier string) *ServiceError {
	return &ServiceError{Kind: KindPlanLimit, Message: msg, HTTPCode: http.StatusForbidden, GRPCCode: codes.PermissionDenied, Limit: limit, Current: current, PlanTier: planTier}
}

// CircuitOpenErr creates a locally-synthesised error for an open circuit
// breaker, carrying a state snapshot for diagnostics. The breaker itself
// governs when calls resume; callers should not retry this immediately.
func CircuitOpenErr(msg string, snapshot any) *ServiceError {
	return &ServiceError{Kind: KindCircuitOpen, Message: msg, HTTPCode: http.StatusServiceUnavailable, GRPCCode: codes.Unavailable, Snapshot: snapshot}
}

// Network creates a transport-level connectivity error. Retryable.
func Network(msg string) *ServiceError {
	return &ServiceError{Kind: KindNetwork, Message: msg, HTTPCode: http.StatusServiceUnavailable, GRPCCode: codes.Unavailable, IsRetryable: true}
}

// Timeout creates a connect/read timeout error. Retryable.
func Timeout(msg string) *ServiceError {
	return &ServiceError{Kind: KindTimeout, Message: msg, HTTPCode: http.StatusGatewayTimeout, GRPCCode: codes.DeadlineExceeded, IsRetryable: true}
}

// Generic creates an error for any other non-2xx response, preserving the
// original HTTP status code.
func Generic(msg string, httpCode int) *ServiceError {
	return &ServiceError{Kind: KindGeneric, Message: msg, HTTPCode: httpCode, GRPCCode: codes.Unknown}
}

// --- Helpers ---

// FromError converts any error to a ServiceError. If the error is already a
// ServiceError it is returned as-is; otherwise it is wrapped as Generic.
func FromError(err error) *ServiceError {
	if se, ok := err.(*ServiceError); ok {
		return se
	}
	return Generic(err.Error(), http.StatusInternalServerError).WithCause(err)
}

// FromGRPCCode translates a gRPC status code into the SDK's HTTP-shaped
// error taxonomy, so HTTP and RPC callers see the same Kind for the same
// underlying condition.
func FromGRPCCode(code codes.Code, msg string) *ServiceError {
	switch code {
	case codes.NotFound:
		return NotFound(msg)
	case codes.Unauthenticated:
		return Authentication(msg)
	case codes.InvalidArgument:
		return Validation(msg)
	case codes.ResourceExhausted:
		return PlanLimit(msg, 0, 0, "")
	case codes.DeadlineExceeded:
		return Timeout(msg)
	case codes.Unavailable:
		return Network(msg)
	case codes.Aborted, codes.AlreadyExists:
		return Conflict(msg, code.String())
	default:
		return Generic(msg, http.StatusInternalServerError)
	}
}

// httpErrorBody is the shape the service's own error responses use; fields
// are optional and best-effort — a response that doesn't match this shape
// still produces a usable error from the status code and raw body text.
type httpErrorBody struct {
	Message           string            `json:"message"`
	ConflictReason    string            `json:"conflict_reason"`
	RetryAfterSeconds int               `json:"retry_after_seconds"`
	Limit             int               `json:"limit"`
	Current           int               `json:"current"`
	PlanTier          string            `json:"plan_tier"`
	Details           map[string]string `json:"details"`
	RequestID         string            `json:"request_id"`
}

// FromHTTPStatus builds a ServiceError from a non-2xx HTTP response, mapping
// the status code to the closest Kind and best-effort decoding a structured
// body for the kind-specific fields. body may be empty or not JSON at all,
// in which case the raw text becomes the message.
func FromHTTPStatus(statusCode int, body string) *ServiceError {
	var parsed httpErrorBody
	_ = json.Unmarshal([]byte(body), &parsed)

	msg := parsed.Message
	if msg == "" {
		msg = strings.TrimSpace(body)
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	var se *ServiceError
	switch statusCode {
	case http.StatusUnauthorized:
		se = Authentication(msg)
	case http.StatusNotFound:
		se = NotFound(msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		se = Validation(msg).WithDetails(parsed.Details)
	case http.StatusConflict:
		se = Conflict(msg, parsed.ConflictReason)
	case http.StatusTooManyRequests:
		se = RateLimit(msg, parsed.RetryAfterSeconds)
	case http.StatusForbidden:
		se = PlanLimit(msg, parsed.Limit, parsed.Current, parsed.PlanTier)
	case http.StatusGatewayTimeout:
		se = Timeout(msg)
	case http.StatusServiceUnavailable:
		se = Network(msg)
	default:
		se = Generic(msg, statusCode)
	}
	if parsed.RequestID != "" {
		se.WithRequestID(parsed.RequestID)
	}
	return se
}

// Errorf creates a formatted ServiceError using the given factory.
func Errorf(factory func(string) *ServiceError, format string, args ...any) *ServiceError {
	return factory(fmt.Sprintf(format, args...))
}
