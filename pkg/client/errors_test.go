package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     ErrorCode
		contains string
	}{
		{
			name:     "request error",
			err:      &RequestError{Method: "chat.postMessage", Err: errors.New("connection refused")},
			code:     CodeRequestError,
			contains: "connection refused",
		},
		{
			name:     "rate limited",
			err:      &RateLimitedError{Method: "users.list", RetryAfter: 30 * time.Second},
			code:     CodeRateLimited,
			contains: "retry after 30s",
		},
		{
			name:     "http error",
			err:      &HTTPError{Method: "users.list", StatusCode: 503, Message: "Service Unavailable", Retryable: true},
			code:     CodeHTTPError,
			contains: "status 503",
		},
		{
			name:     "platform error",
			err:      &PlatformError{Method: "conversations.info", APIError: "channel_not_found"},
			code:     CodePlatformError,
			contains: "channel_not_found",
		},
		{
			name:     "invalid request",
			err:      &InvalidRequestError{Method: "chat.post\nMessage", Err: errors.New("bad method")},
			code:     CodeInvalidRequest,
			contains: `"chat.post\nMessage"`,
		},
		{
			name:     "file upload error",
			err:      &FileUploadError{Method: "files.upload", Err: errors.New("too large")},
			code:     CodeFileUploadError,
			contains: "too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want it to contain %q", tt.err.Error(), tt.contains)
			}
			if got := CodeOf(tt.err); got != tt.code {
				t.Errorf("CodeOf() = %q, want %q", got, tt.code)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if got := CodeOf(wrapped); got != tt.code {
				t.Errorf("CodeOf(wrapped) = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestCodeOf_UnknownError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf() = %q, want empty", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"request error", &RequestError{Err: errors.New("eof")}, true},
		{"retryable http error", &HTTPError{StatusCode: 502, Retryable: true}, true},
		{"fatal http error", &HTTPError{StatusCode: 404}, false},
		{"platform error", &PlatformError{APIError: "invalid_auth"}, false},
		{"rate limited", &RateLimitedError{RetryAfter: time.Second}, false},
		{"file upload error", &FileUploadError{Err: errors.New("x")}, false},
		{"invalid request", &InvalidRequestError{Method: "x", Err: errors.New("bad")}, false},
		{"plain error", errors.New("plain"), false},
		{"wrapped request error", fmt.Errorf("ctx: %w", &RequestError{Err: errors.New("eof")}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	err := fmt.Errorf("%w after 2 retries: %w", ErrRetryExhausted, &RateLimitedError{RetryAfter: 5 * time.Second})

	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatal("IsRateLimited() = false, want true")
	}
	if rl.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v, want 5s", rl.RetryAfter)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("expected ErrRetryExhausted in chain")
	}
}

func TestIsPlatformError(t *testing.T) {
	_, ok := IsPlatformError(&HTTPError{StatusCode: 500})
	if ok {
		t.Error("IsPlatformError(HTTPError) = true, want false")
	}

	pe, ok := IsPlatformError(&PlatformError{APIError: "not_in_channel"})
	if !ok || pe.APIError != "not_in_channel" {
		t.Errorf("IsPlatformError() = %v, %v", pe, ok)
	}
}
