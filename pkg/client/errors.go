package client

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrClientClosed is returned for calls made after, or still queued at, Close.
	ErrClientClosed = errors.New("client closed")
)

// ErrorCode classifies a failed call.
type ErrorCode string

const (
	// CodeRequestError is a transport failure where no response was received.
	CodeRequestError ErrorCode = "request_error"

	// CodeRateLimited is an HTTP 429 response.
	CodeRateLimited ErrorCode = "rate_limited"

	// CodeHTTPError is a non-2xx status that is not an API-level failure.
	CodeHTTPError ErrorCode = "http_error"

	// CodePlatformError is a well-formed response with ok=false.
	CodePlatformError ErrorCode = "platform_error"

	// CodeFileUploadError is a failure of the file upload path.
	CodeFileUploadError ErrorCode = "file_upload_error"

	// CodeInvalidRequest is a request that cannot be built or sent.
	CodeInvalidRequest ErrorCode = "invalid_request"
)

// RequestError is a network or transport failure (including per-request
// timeouts). Always retryable.
type RequestError struct {
	Method string
	Err    error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("webapi %s: %s: %v", CodeRequestError, e.Method, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Code returns CodeRequestError.
func (e *RequestError) Code() ErrorCode { return CodeRequestError }

// RateLimitedError is returned when the remote side answered 429 and the
// call could not be retried.
type RateLimitedError struct {
	Method     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("webapi %s: %s: retry after %s", CodeRateLimited, e.Method, e.RetryAfter)
}

// Code returns CodeRateLimited.
func (e *RateLimitedError) Code() ErrorCode { return CodeRateLimited }

// HTTPError is a status-based failure.
type HTTPError struct {
	Method     string
	StatusCode int
	Message    string
	Retryable  bool
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("webapi %s (status %d): %s: %s", CodeHTTPError, e.StatusCode, e.Method, e.Message)
}

// Code returns CodeHTTPError.
func (e *HTTPError) Code() ErrorCode { return CodeHTTPError }

// PlatformError is a semantic rejection of the request by the remote API.
// It is never retried.
type PlatformError struct {
	Method string
	// APIError is the "error" field of the response envelope, e.g. "channel_not_found".
	APIError string
	Response Result
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("webapi %s: %s: %s", CodePlatformError, e.Method, e.APIError)
}

// Code returns CodePlatformError.
func (e *PlatformError) Code() ErrorCode { return CodePlatformError }

// FileUploadError reports a failed file upload. Fatal.
type FileUploadError struct {
	Method string
	Err    error
}

func (e *FileUploadError) Error() string {
	return fmt.Sprintf("webapi %s: %s: %v", CodeFileUploadError, e.Method, e.Err)
}

func (e *FileUploadError) Unwrap() error { return e.Err }

// Code returns CodeFileUploadError.
func (e *FileUploadError) Code() ErrorCode { return CodeFileUploadError }

// InvalidRequestError reports a request that can never be sent as given:
// a malformed method name or params that cannot be encoded. Never retried.
type InvalidRequestError struct {
	Method string
	Err    error
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("webapi %s: %q: %v", CodeInvalidRequest, e.Method, e.Err)
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

// Code returns CodeInvalidRequest.
func (e *InvalidRequestError) Code() ErrorCode { return CodeInvalidRequest }

// coder is implemented by every error of the taxonomy.
type coder interface {
	Code() ErrorCode
}

// CodeOf returns the ErrorCode of err, or "" when err is not part of the
// taxonomy.
func CodeOf(err error) ErrorCode {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// IsRateLimited reports whether err is a RateLimitedError and returns it.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var e *RateLimitedError
	ok := errors.As(err, &e)
	return e, ok
}

// IsPlatformError reports whether err is a PlatformError and returns it.
func IsPlatformError(err error) (*PlatformError, bool) {
	var e *PlatformError
	ok := errors.As(err, &e)
	return e, ok
}

// IsRetryable reports whether the taxonomy considers err transient.
// Rate limits are handled by the rate-limit controller and are not
// reported here.
func IsRetryable(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable
	}
	return false
}
