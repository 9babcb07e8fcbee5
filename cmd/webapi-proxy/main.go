// Command webapi-proxy exposes the Web API client over HTTP. Every call
// goes through one shared client, so concurrency limits, retries and
// rate-limit pauses apply across all callers of the proxy.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/slack-webapi-client/pkg/client"
	"github.com/Sternrassler/slack-webapi-client/pkg/logging"
	"github.com/Sternrassler/slack-webapi-client/pkg/metrics"
	"github.com/Sternrassler/slack-webapi-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// proxyConfig holds the proxy settings.
type proxyConfig struct {
	Token             string
	BaseURL           string
	RedisURL          string
	RedisNamespace    string
	Port              string
	LogLevel          string
	LogPretty         bool
	MaxConcurrency    int
	RejectRateLimited bool
	PageSize          int
	RequestTimeout    time.Duration
	CallTimeout       time.Duration
}

// loadConfig reads WEBAPI_* environment variables and, when WEBAPI_CONFIG
// names one, a config file.
func loadConfig() (proxyConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_url", client.DefaultBaseURL)
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_namespace", "webapi")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("max_concurrency", client.DefaultMaxRequestConcurrency)
	v.SetDefault("reject_rate_limited", false)
	v.SetDefault("page_size", 200)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("call_timeout", "5m")

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return proxyConfig{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := proxyConfig{
		Token:             v.GetString("token"),
		BaseURL:           v.GetString("base_url"),
		RedisURL:          v.GetString("redis_url"),
		RedisNamespace:    v.GetString("redis_namespace"),
		Port:              v.GetString("port"),
		LogLevel:          v.GetString("log_level"),
		LogPretty:         v.GetBool("log_pretty"),
		MaxConcurrency:    v.GetInt("max_concurrency"),
		RejectRateLimited: v.GetBool("reject_rate_limited"),
		PageSize:          v.GetInt("page_size"),
		RequestTimeout:    v.GetDuration("request_timeout"),
		CallTimeout:       v.GetDuration("call_timeout"),
	}
	if cfg.Token == "" {
		return cfg, errors.New("WEBAPI_TOKEN is required")
	}
	return cfg, nil
}

// clientConfig maps the proxy settings onto the client configuration.
func (c proxyConfig) clientConfig(redisClient *redis.Client, logger zerolog.Logger) client.Config {
	cfg := client.DefaultConfig(c.Token)
	cfg.BaseURL = c.BaseURL
	cfg.MaxRequestConcurrency = c.MaxConcurrency
	cfg.RejectRateLimitedCalls = c.RejectRateLimited
	cfg.PageSize = c.PageSize
	cfg.Timeout = c.RequestTimeout
	cfg.Redis = redisClient
	cfg.RedisNamespace = c.RedisNamespace
	cfg.Logger = &logger
	return cfg
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("webapi-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("Connected to Redis")
	}

	apiClient, err := client.New(cfg.clientConfig(redisClient, logging.NewLogger("webapi-client")))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Web API client")
	}
	defer apiClient.Close()

	unsubscribe := apiClient.OnPause(func(d time.Duration) {
		logger.Warn().Dur("retry_after", d).Msg("Dispatch paused by rate limit")
	})
	defer unsubscribe()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newServer(apiClient, cfg.CallTimeout, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("base_url", cfg.BaseURL).
		Int("max_concurrency", cfg.MaxConcurrency).
		Msg("Starting Web API proxy")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Web API proxy stopped")
}

// newServer builds the proxy's routes.
func newServer(apiClient *client.Client, callTimeout time.Duration, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ratelimit", rateLimitHandler(apiClient))
	mux.HandleFunc("GET /stats", statsHandler(apiClient))
	mux.HandleFunc("POST /api/{method}", callHandler(apiClient, callTimeout, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// callHandler forwards POST /api/{method} to the client. The body is a JSON
// object of method arguments. A bearer token and X-Slack-User header on the
// incoming request override the proxy's defaults for that call.
func callHandler(apiClient *client.Client, callTimeout time.Duration, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		method := r.PathValue("method")
		if !client.ValidMethodName(method) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid_method", "detail": fmt.Sprintf("method %q must match [A-Za-z0-9._]+", method)})
			return
		}

		params := client.Params{}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid_json", "detail": err.Error()})
			return
		}

		var opts []client.CallOption
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
			opts = append(opts, client.WithToken(token))
		}
		if user := r.Header.Get(client.HeaderActingAs); user != "" {
			opts = append(opts, client.WithActingAs(user))
		}

		ctx := r.Context()
		if callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, callTimeout)
			defer cancel()
		}

		result, err := apiClient.Call(ctx, method, params, opts...)
		if err != nil {
			status, body := errorResponse(err)
			logger.Debug().
				Err(err).
				Str("method", method).
				Int("status", status).
				Msg("Proxied call failed")
			if rl, ok := client.IsRateLimited(err); ok {
				w.Header().Set(ratelimit.HeaderRetryAfter, strconv.Itoa(int(rl.RetryAfter.Seconds()+0.5)))
			}
			writeJSON(w, status, body)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// errorResponse maps a call error to the proxy's status code and body.
// Platform errors pass the remote envelope through unchanged.
func errorResponse(err error) (int, any) {
	if pe, ok := client.IsPlatformError(err); ok && pe.Response != nil {
		return http.StatusOK, pe.Response
	}

	body := map[string]any{"ok": false, "error": string(client.CodeOf(err)), "detail": err.Error()}
	switch {
	case errors.Is(err, client.ErrClientClosed):
		body["error"] = "client_closed"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded) && client.CodeOf(err) == "":
		body["error"] = "call_timeout"
		return http.StatusGatewayTimeout, body
	case client.CodeOf(err) == client.CodeRateLimited:
		return http.StatusTooManyRequests, body
	default:
		return http.StatusBadGateway, body
	}
}

// rateLimitHandler reports the pause state, preferring the Redis mirror.
func rateLimitHandler(apiClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := apiClient.RateLimitState()
		source := "memory"
		if tracker := apiClient.Tracker(); tracker != nil {
			mirrored, err := tracker.GetState(r.Context())
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "redis_unavailable", "detail": err.Error()})
				return
			}
			state = *mirrored
			source = "redis"
		}

		now := time.Now()
		writeJSON(w, http.StatusOK, map[string]any{
			"paused":         state.IsPaused(now),
			"paused_until":   state.PausedUntil,
			"remaining_ms":   state.Remaining(now).Milliseconds(),
			"retry_after_ms": state.RetryAfter.Milliseconds(),
			"last_update":    state.LastUpdate,
			"source":         source,
		})
	}
}

func statsHandler(apiClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := apiClient.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"in_flight":       s.InFlight,
			"pending":         s.Pending,
			"retry_scheduled": s.RetryScheduled,
			"max_concurrency": s.MaxConcurrency,
			"paused":          s.Paused,
			"paused_until":    s.PausedUntil,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
