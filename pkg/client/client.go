// Package client provides the Web API client: a concurrency-bounded request
// queue with error classification, retries with backoff, rate-limit pauses
// and transparent cursor pagination.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/slack-webapi-client/pkg/logging"
	"github.com/Sternrassler/slack-webapi-client/pkg/pagination"
	"github.com/Sternrassler/slack-webapi-client/pkg/ratelimit"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultMaxRequestConcurrency bounds in-flight calls when unset.
const DefaultMaxRequestConcurrency = 3

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "slack-webapi-client/0.1.0"

// Client is the Web API client. Every instance owns its queue, pause state
// and retry bookkeeping; instances never interfere with each other.
type Client struct {
	config     Config
	queue      *Queue
	policy     *RetryPolicy
	rateLimits *ratelimit.Controller
	tracker    *ratelimit.Tracker
	methods    *methodTable
	pageConfig pagination.Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Token is the default bearer token. Calls may override it with WithToken.
	Token string

	// BaseURL is the API root; the method name is appended to it.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Headers are extra static headers sent with every request.
	Headers map[string]string

	// MaxRequestConcurrency bounds in-flight calls (default 3).
	MaxRequestConcurrency int

	// Retry governs the retry policy.
	Retry RetryConfig

	// RejectRateLimitedCalls fails rate-limited calls immediately instead
	// of pausing the queue and retrying.
	RejectRateLimitedCalls bool

	// Timeout is the default per-request transport timeout. Zero disables it.
	Timeout time.Duration

	// PageSize is the limit used by auto-pagination.
	PageSize int

	// CursorMethods adds methods to the built-in set of cursor-paginated methods.
	CursorMethods []string

	// RequestsPerSecond paces transport calls client-side. Zero disables pacing.
	RequestsPerSecond float64

	// LogLevel is applied to the default logger. Ignored when Logger is set.
	LogLevel logging.LogLevel

	// Logger replaces the default component logger.
	Logger *zerolog.Logger

	// Agent is the HTTP round tripper (proxy, TLS, pooling), passed through
	// to the default transport unexamined.
	Agent http.RoundTripper

	// Transport replaces the default HTTP transport.
	Transport Transport

	// Redis, when set, receives a mirror of the rate-limit pause state.
	Redis *redis.Client

	// RedisNamespace prefixes the mirrored keys (default "webapi").
	RedisNamespace string
}

// DefaultConfig returns the default configuration for token.
func DefaultConfig(token string) Config {
	return Config{
		Token:                 token,
		BaseURL:               DefaultBaseURL,
		UserAgent:             DefaultUserAgent,
		MaxRequestConcurrency: DefaultMaxRequestConcurrency,
		Retry:                 DefaultRetryConfig(),
		PageSize:              pagination.DefaultPageSize,
		LogLevel:              logging.LevelInfo,
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.MaxRequestConcurrency < 1 {
		result = multierror.Append(result,
			fmt.Errorf("max_request_concurrency must be >= 1 (got %d)", c.MaxRequestConcurrency))
	}
	if c.Transport == nil {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("base_url must be an absolute URL (got %q)", c.BaseURL))
		}
	}
	if c.Retry.Retries < UnlimitedRetries {
		result = multierror.Append(result,
			fmt.Errorf("retry.retries must be >= 0 or UnlimitedRetries (got %d)", c.Retry.Retries))
	}
	if c.Retry.MinDelay < 0 || c.Retry.MaxDelay < 0 {
		result = multierror.Append(result, fmt.Errorf("retry delays must not be negative"))
	}
	if c.PageSize < 1 {
		result = multierror.Append(result, fmt.Errorf("page_size must be >= 1 (got %d)", c.PageSize))
	}
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout must not be negative"))
	}
	if c.RequestsPerSecond < 0 {
		result = multierror.Append(result, fmt.Errorf("requests_per_second must not be negative"))
	}

	return result.ErrorOrNil()
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = logging.NewLogger("webapi-client").Level(logging.ParseLevel(cfg.LogLevel))
	}

	transport := cfg.Transport
	if transport == nil {
		userAgent := cfg.UserAgent
		if userAgent == "" {
			userAgent = DefaultUserAgent
		}
		transport = NewHTTPTransport(cfg.BaseURL, userAgent, cfg.Headers, cfg.Agent)
	}

	var tracker *ratelimit.Tracker
	if cfg.Redis != nil {
		tracker = ratelimit.NewTracker(cfg.Redis, cfg.RedisNamespace, logger)
	}

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	policy := NewRetryPolicy(cfg.Retry)
	rateLimits := ratelimit.NewController(cfg.RejectRateLimitedCalls, tracker, logger)

	c := &Client{
		config:     cfg,
		policy:     policy,
		rateLimits: rateLimits,
		tracker:    tracker,
		methods:    newMethodTable(cfg.CursorMethods),
		pageConfig: pagination.Config{PageSize: cfg.PageSize},
		queue:      NewQueue(cfg.MaxRequestConcurrency, transport, policy, rateLimits, pacer, logger),
		logger:     logger,
	}
	return c, nil
}

// CallOption adjusts a single call.
type CallOption func(*Request)

// WithToken overrides the client's token for one call.
func WithToken(token string) CallOption {
	return func(r *Request) { r.Token = token }
}

// WithActingAs sets the user the call acts on behalf of.
func WithActingAs(userID string) CallOption {
	return func(r *Request) { r.ActingAs = userID }
}

// WithTimeout overrides the per-request transport timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(r *Request) { r.Timeout = d }
}

// Call invokes method and waits for its result. Cursor-paginated methods
// called without "cursor" or "limit" return every page merged.
func (c *Client) Call(ctx context.Context, method string, params Params, opts ...CallOption) (Result, error) {
	return c.CallAsync(ctx, method, params, opts...).Await(ctx)
}

// CallAsync invokes method and returns its deferred result.
func (c *Client) CallAsync(ctx context.Context, method string, params Params, opts ...CallOption) *Pending {
	req := c.newRequest(method, params, opts)
	if err := req.Validate(); err != nil {
		pending := newPending()
		pending.settle(nil, err)
		return pending
	}

	if !pagination.Eligible(c.methods.SupportsCursorPagination(method), req.Params) {
		return c.enqueue(ctx, req)
	}

	aggregator := pagination.NewAggregator(c.pageFetcher(req), c.pageConfig, c.logger)
	pending := newPending()
	go func() {
		merged, err := aggregator.FetchAll(ctx, method, req.Params)
		if err != nil {
			pending.settle(nil, err)
			return
		}
		pending.settle(Result(merged), nil)
	}()
	return pending
}

// CallWithCallback invokes method and calls fn with the outcome on a
// separate goroutine.
func (c *Client) CallWithCallback(ctx context.Context, method string, params Params, fn Callback, opts ...CallOption) {
	c.CallAsync(ctx, method, params, opts...).Then(fn)
}

// OnPause registers h to be told the duration of every rate-limit pause.
func (c *Client) OnPause(h func(time.Duration)) (unsubscribe func()) {
	return c.rateLimits.Subscribe(h)
}

// Stats returns a snapshot of the queue state.
func (c *Client) Stats() QueueStats {
	return c.queue.Stats()
}

// RateLimitState returns the current rate-limit pause state.
func (c *Client) RateLimitState() ratelimit.PauseState {
	return c.rateLimits.State()
}

// Tracker returns the Redis pause-state mirror, or nil when not configured.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// SupportsCursorPagination reports whether method auto-paginates.
func (c *Client) SupportsCursorPagination(method string) bool {
	return c.methods.SupportsCursorPagination(method)
}

// Close fails every queued call with ErrClientClosed and stops all timers.
// Calls already in flight complete normally.
func (c *Client) Close() error {
	c.queue.Close()
	return nil
}

func (c *Client) newRequest(method string, params Params, opts []CallOption) *Request {
	req := &Request{
		Method:  method,
		Params:  params.Clone(),
		Token:   c.config.Token,
		Timeout: c.config.Timeout,
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

func (c *Client) enqueue(ctx context.Context, req *Request) *Pending {
	return c.queue.Enqueue(newJob(ctx, req, c.policy.NewState()))
}

// pageFetcher issues the pages of an auto-paginated call through the
// queue, each with template's token, acting-as user and timeout.
func (c *Client) pageFetcher(template *Request) pagination.FetcherFunc {
	return func(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
		req := *template
		req.Method = method
		req.Params = Params(params)
		result, err := c.enqueue(ctx, &req).Await(ctx)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
