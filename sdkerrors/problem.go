package sdkerrors

import "net/http"

const typeBaseURI = "https://docs.spooled.dev/errors/"

var typeURIs = map[Kind]string{
	KindValidation:     typeBaseURI + "validation",
	KindNotFound:       typeBaseURI + "not-found",
	KindAuthentication: typeBaseURI + "unauthorized",
	KindTimeout:        typeBaseURI + "timeout",
	KindRateLimit:      typeBaseURI + "rate-limit",
	KindPlanLimit:      typeBaseURI + "plan-limit",
	KindConflict:       typeBaseURI + "conflict",
	KindCircuitOpen:    typeBaseURI + "circuit-open",
	KindNetwork:        typeBaseURI + "dependency",
	KindGeneric:        typeBaseURI + "internal",
}

var titleMap = map[Kind]string{
	KindValidation:     "Validation Error",
	KindNotFound:       "Not Found",
	KindAuthentication: "Unauthorized",
	KindTimeout:        "Timeout",
	KindRateLimit:      "Rate Limit Exceeded",
	KindPlanLimit:      "Plan Limit Exceeded",
	KindConflict:       "Conflict",
	KindCircuitOpen:    "Circuit Open",
	KindNetwork:        "Dependency Error",
	KindGeneric:        "Internal Error",
}

// ProblemDetail represents an RFC 9457 Problem Details object. It is offered
// as a convenience for hosts that want to surface SDK errors through their
// own HTTP layer; the SDK itself never serves HTTP.
type ProblemDetail struct {
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Status     int               `json:"status"`
	Detail     string            `json:"detail"`
	Instance   string            `json:"instance,omitempty"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// ProblemDetail converts this ServiceError into an RFC 9457 ProblemDetail.
// instance, typically the request path that produced the error, is optional.
func (e *ServiceError) ProblemDetail(instance string) ProblemDetail {
	typeURI, ok := typeURIs[e.Kind]
	if !ok {
		typeURI = typeBaseURI + "unknown"
	}
	if e.typeURI != "" {
		typeURI = e.typeURI
	}
	title, ok := titleMap[e.Kind]
	if !ok {
		title = http.StatusText(e.HTTPCode)
	}
	pd := ProblemDetail{
		Type:     typeURI,
		Title:    title,
		Status:   e.HTTPCode,
		Detail:   e.Message,
		Instance: instance,
	}
	if len(e.Details) > 0 {
		pd.Extensions = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			pd.Extensions[k] = v
		}
	}
	return pd
}
