package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, independent of
// which backend produced it.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverCancelled        FailoverReason = "cancelled"
	FailoverUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether retrying the same request might succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether the error warrants trying a different
// provider or model rather than retrying the same one.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverBilling, FailoverAuth, FailoverModelUnavailable:
		return true
	default:
		return false
	}
}

// Error is a structured error from a provider call, carrying enough
// context for the agent's retry loop and error taxonomy to act on.
type Error struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps cause into a classified *Error for provider/model.
func NewError(providerName, model string, cause error) *Error {
	e := &Error{Provider: providerName, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause == nil {
		return e
	}
	if errors.Is(cause, context.Canceled) {
		e.Reason = FailoverCancelled
		e.Message = cause.Error()
		return e
	}
	e.Message = cause.Error()
	e.Reason = ClassifyError(cause)
	return e
}

func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// ClassifyError inspects an error's text and status for known patterns.
// It is the fallback used when a provider SDK doesn't expose a structured
// status code or error code directly.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	if errors.Is(err, context.Canceled) {
		return FailoverCancelled
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"),
		strings.Contains(errStr, "etimedout"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "econnreset"),
		strings.Contains(errStr, "econnrefused"),
		strings.Contains(errStr, "broken pipe"):
		return FailoverTimeout
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return FailoverRateLimit
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "invalid_api_key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return FailoverAuth
	case strings.Contains(errStr, "billing"),
		strings.Contains(errStr, "payment"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "insufficient"),
		strings.Contains(errStr, "402"):
		return FailoverBilling
	case strings.Contains(errStr, "content_filter"),
		strings.Contains(errStr, "content policy"),
		strings.Contains(errStr, "safety"),
		strings.Contains(errStr, "blocked"):
		return FailoverContentFilter
	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return FailoverServerError
	case strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "model_not_found"),
		strings.Contains(errStr, "does not exist"),
		strings.Contains(errStr, "unavailable"):
		return FailoverModelUnavailable
	default:
		return FailoverUnknown
	}
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key":
		return FailoverAuth
	case "billing_error", "insufficient_quota":
		return FailoverBilling
	case "model_not_found", "model_not_available":
		return FailoverModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailoverContentFilter
	case "server_error", "internal_error":
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}
