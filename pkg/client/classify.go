package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sternrassler/slack-webapi-client/pkg/ratelimit"
)

// Outcome is what the transport observed for one HTTP call.
type Outcome struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DefaultRetryableStatus retries 5xx responses.
func DefaultRetryableStatus(status int) bool {
	return status >= 500 && status <= 599
}

// Classify turns a transport outcome into a result or a typed error.
// transportErr is the error returned by the transport when no response was
// received. Detection order: invalid request, request error, rate limit,
// HTTP error, platform error, success.
func Classify(method string, out *Outcome, transportErr error, retryableStatus func(int) bool) (Result, error) {
	var invalid *InvalidRequestError
	if errors.As(transportErr, &invalid) {
		return nil, invalid
	}
	if transportErr != nil || out == nil {
		if transportErr == nil {
			transportErr = errNoResponse
		}
		return nil, &RequestError{Method: method, Err: transportErr}
	}

	if retryableStatus == nil {
		retryableStatus = DefaultRetryableStatus
	}

	if out.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{
			Method:     method,
			RetryAfter: ratelimit.ParseRetryAfter(out.Header),
		}
	}

	body, parsed := parseEnvelope(out.Body)

	if out.StatusCode < 200 || out.StatusCode > 299 {
		// A 4xx carrying an ok=false envelope is the API rejecting the call.
		if parsed && out.StatusCode < 500 && !body.OK() {
			return nil, platformError(method, body)
		}
		return nil, &HTTPError{
			Method:     method,
			StatusCode: out.StatusCode,
			Message:    http.StatusText(out.StatusCode),
			Retryable:  retryableStatus(out.StatusCode),
			Body:       out.Body,
		}
	}

	if !parsed {
		return nil, &HTTPError{
			Method:     method,
			StatusCode: out.StatusCode,
			Message:    "response body is not a JSON object",
			Body:       out.Body,
		}
	}

	if !body.OK() {
		return nil, platformError(method, body)
	}

	return body, nil
}

func platformError(method string, body Result) *PlatformError {
	apiErr, _ := body["error"].(string)
	if apiErr == "" {
		apiErr = "unknown_error"
	}
	return &PlatformError{Method: method, APIError: apiErr, Response: body}
}

// parseEnvelope decodes a JSON object body. Numbers are kept as json.Number.
func parseEnvelope(raw []byte) (Result, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body Result
	if err := dec.Decode(&body); err != nil || body == nil {
		return nil, false
	}
	return body, true
}
