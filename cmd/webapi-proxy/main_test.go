package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/slack-webapi-client/internal/testutil"
	"github.com/Sternrassler/slack-webapi-client/pkg/client"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProxy(t *testing.T, api *testutil.MockAPI, mutate func(*proxyConfig)) (*httptest.Server, *client.Client) {
	t.Helper()

	cfg := proxyConfig{
		Token:          "xoxb-proxy",
		BaseURL:        api.URL(),
		MaxConcurrency: 2,
		PageSize:       200,
		RequestTimeout: 5 * time.Second,
		CallTimeout:    10 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	clientCfg := cfg.clientConfig(nil, zerolog.Nop())
	clientCfg.Retry = client.RetryConfig{Retries: 2, MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	apiClient, err := client.New(clientCfg)
	require.NoError(t, err)

	srv := httptest.NewServer(newServer(apiClient, cfg.CallTimeout, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		_ = apiClient.Close()
	})
	return srv, apiClient
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("WEBAPI_TOKEN", "xoxb-env")
	t.Setenv("WEBAPI_PORT", "9090")
	t.Setenv("WEBAPI_MAX_CONCURRENCY", "7")
	t.Setenv("WEBAPI_REJECT_RATE_LIMITED", "true")
	t.Setenv("WEBAPI_REQUEST_TIMEOUT", "2s")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "xoxb-env", cfg.Token)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 7, cfg.MaxConcurrency)
	assert.True(t, cfg.RejectRateLimited)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, client.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 200, cfg.PageSize)
	assert.Equal(t, "webapi", cfg.RedisNamespace)
}

func TestLoadConfig_RequiresToken(t *testing.T) {
	t.Setenv("WEBAPI_TOKEN", "")

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBAPI_TOKEN")
}

func TestCallEndpoint_Success(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetResponse("chat.postMessage", testutil.NewOKResponse(`{"ok":true,"ts":"1700000000.000100"}`))

	srv, _ := newTestProxy(t, api, nil)

	resp, err := http.Post(srv.URL+"/api/chat.postMessage", "application/json",
		strings.NewReader(`{"channel":"C1","text":"hello","unfurl_links":false}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "1700000000.000100", body["ts"])

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "C1", reqs[0].Form["channel"])
	assert.Equal(t, "false", reqs[0].Form["unfurl_links"])
	assert.Equal(t, "Bearer xoxb-proxy", reqs[0].Header.Get("Authorization"))
}

func TestCallEndpoint_ForwardsCallerIdentity(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	srv, _ := newTestProxy(t, api, nil)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/auth.test", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer xoxp-caller")
	req.Header.Set(client.HeaderActingAs, "U99")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer xoxp-caller", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "U99", reqs[0].Header.Get(client.HeaderActingAs))
}

func TestCallEndpoint_Paginates(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetPages("users.list", []map[string]any{
		{"members": []any{"U1"}},
		{"members": []any{"U2"}},
	})

	srv, _ := newTestProxy(t, api, nil)

	resp, err := http.Post(srv.URL+"/api/users.list", "application/json", nil)
	require.NoError(t, err)

	body := decodeBody(t, resp)
	assert.Equal(t, []any{"U1", "U2"}, body["members"])
	assert.Equal(t, 2, api.RequestCount())
}

func TestCallEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name       string
		response   testutil.MockResponse
		reject     bool
		wantStatus int
		wantError  string
	}{
		{
			name:       "platform error passes through",
			response:   testutil.NewPlatformErrorResponse("channel_not_found"),
			wantStatus: http.StatusOK,
			wantError:  "channel_not_found",
		},
		{
			name:       "server error after retries",
			response:   testutil.NewServerErrorResponse(),
			wantStatus: http.StatusBadGateway,
			wantError:  "http_error",
		},
		{
			name:       "rejected rate limit",
			response:   testutil.NewRateLimitResponse("12"),
			reject:     true,
			wantStatus: http.StatusTooManyRequests,
			wantError:  "rate_limited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := testutil.NewMockAPI()
			defer api.Close()
			api.SetResponse("conversations.info", tt.response)

			srv, _ := newTestProxy(t, api, func(cfg *proxyConfig) { cfg.RejectRateLimited = tt.reject })

			resp, err := http.Post(srv.URL+"/api/conversations.info", "application/json", strings.NewReader(`{"channel":"C1"}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.reject {
				assert.Equal(t, "12", resp.Header.Get("Retry-After"))
			}

			body := decodeBody(t, resp)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestCallEndpoint_InvalidJSON(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	srv, _ := newTestProxy(t, api, nil)

	resp, err := http.Post(srv.URL+"/api/chat.postMessage", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "invalid_json", body["error"])
	assert.Equal(t, 0, api.RequestCount())
}

func TestCallEndpoint_MethodNotAllowed(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	srv, _ := newTestProxy(t, api, nil)

	resp, err := http.Get(srv.URL + "/api/auth.test")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimitEndpoint_InMemory(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetSequence("chat.postMessage",
		testutil.NewRateLimitResponse("0.1"),
		testutil.NewOKResponse(`{"ok":true}`),
	)

	srv, _ := newTestProxy(t, api, nil)

	resp, err := http.Post(srv.URL+"/api/chat.postMessage", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ratelimit")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "memory", body["source"])
	assert.Equal(t, float64(100), body["retry_after_ms"])
}

func TestStatsEndpoint(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	srv, _ := newTestProxy(t, api, nil)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(2), body["max_concurrency"])
	assert.Equal(t, false, body["paused"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	srv, _ := newTestProxy(t, api, nil)

	resp, err := http.Post(srv.URL+"/api/auth.test", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `webapi_requests_total{method="auth.test",status="200"}`)
}

func TestCallEndpoint_InvalidMethod(t *testing.T) {
	api := testutil.NewMockAPI()
	defer api.Close()

	srv, _ := newTestProxy(t, api, nil)

	for _, method := range []string{"chat.post%0AMessage", "users.info%3Fuser=U1", "auth%20test", "conversations.list%2Fextra"} {
		t.Run(method, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/"+method, "application/json", nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			body := decodeBody(t, resp)
			assert.Equal(t, "invalid_method", body["error"])
		})
	}
	assert.Equal(t, 0, api.RequestCount())
}
