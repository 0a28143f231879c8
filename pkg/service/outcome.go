package service

import (
	"fmt"
	"net/http"
)

// OutcomeKind tags the result of one delivery attempt. The tagged variant,
// not a bare bool, is what drives the backoff and circuit-breaker state
// machine.
type OutcomeKind int

const (
	// OutcomeSuccess: 2xx response.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable: network error, timeout, 5xx or 429.
	OutcomeRetryable
	// OutcomePermanent: any other 4xx. Retrying cannot help.
	OutcomePermanent
)

// Outcome describes what happened to one outbound POST.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int    // zero when the request never got a response
	Detail     string // response status/body on success, error detail on failure
}

func (o Outcome) Success() bool { return o.Kind == OutcomeSuccess }

// classifyResponse maps an HTTP status to an outcome.
func classifyResponse(statusCode int, body string) Outcome {
	detail := fmt.Sprintf("status=%d body=%s", statusCode, body)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Outcome{Kind: OutcomeSuccess, StatusCode: statusCode, Detail: detail}
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return Outcome{Kind: OutcomeRetryable, StatusCode: statusCode, Detail: detail}
	default:
		return Outcome{Kind: OutcomePermanent, StatusCode: statusCode, Detail: detail}
	}
}

// transportFailure wraps a network or timeout error as a retryable outcome.
func transportFailure(err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Detail: err.Error()}
}
