package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the root every method name is appended to.
const DefaultBaseURL = "https://slack.com/api/"

// HeaderActingAs carries Request.ActingAs.
const HeaderActingAs = "X-Slack-User"

var errNoResponse = errors.New("no response received")

var methodNamePattern = regexp.MustCompile(`^[A-Za-z0-9._]+$`)

// ValidMethodName reports whether method is a well-formed remote method
// name such as "conversations.list".
func ValidMethodName(method string) bool {
	return methodNamePattern.MatchString(method)
}

// Params are the arguments of a remote method.
type Params map[string]any

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether name is set to a non-nil value.
func (p Params) Has(name string) bool {
	v, ok := p[name]
	return ok && v != nil
}

// Encode renders p as form values. Scalars are written as text, every
// other value as JSON. Nil values are omitted. url.Values.Encode sorts by
// key, which makes the wire form deterministic.
func (p Params) Encode() (url.Values, error) {
	form := url.Values{}
	for k, v := range p {
		if v == nil {
			continue
		}
		s, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode param %q: %w", k, err)
		}
		form.Set(k, s)
	}
	return form, nil
}

func encodeValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(val), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// Request is one invocation of a remote method. It is cloned when admitted
// to the queue and never changed afterwards.
type Request struct {
	Method   string
	Params   Params
	Token    string
	ActingAs string
	// Timeout bounds the transport call only. Zero means no timeout.
	Timeout time.Duration
}

// Validate reports an *InvalidRequestError when r can never be sent.
func (r *Request) Validate() error {
	if !ValidMethodName(r.Method) {
		return &InvalidRequestError{Method: r.Method, Err: errors.New("method name must match [A-Za-z0-9._]+")}
	}
	if _, err := r.Params.Encode(); err != nil {
		return &InvalidRequestError{Method: r.Method, Err: err}
	}
	return nil
}

func (r *Request) clone() *Request {
	c := *r
	c.Params = r.Params.Clone()
	return &c
}

// Transport performs one HTTP call. It returns an error only when no
// response was received; an *InvalidRequestError when the call could not
// even be built.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Outcome, error)
}

// HTTPTransport sends requests as form-encoded POSTs to BaseURL+method.
type HTTPTransport struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	headers    map[string]string
}

// NewHTTPTransport creates the default transport. agent, when non-nil, is
// used as the round tripper unexamined (proxies, custom TLS, pooling).
func NewHTTPTransport(baseURL, userAgent string, headers map[string]string, agent http.RoundTripper) *HTTPTransport {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPTransport{
		httpClient: &http.Client{Transport: agent},
		baseURL:    baseURL,
		userAgent:  userAgent,
		headers:    headers,
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Outcome, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	form, err := req.Params.Encode()
	if err != nil {
		return nil, &InvalidRequestError{Method: req.Method, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+req.Method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &InvalidRequestError{Method: req.Method, Err: fmt.Errorf("create request: %w", err)}
	}

	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.ActingAs != "" {
		httpReq.Header.Set(HeaderActingAs, req.ActingAs)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Outcome{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
