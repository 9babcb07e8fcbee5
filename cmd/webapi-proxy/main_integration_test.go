//go:build integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/slack-webapi-client/internal/testutil"
	"github.com/Sternrassler/slack-webapi-client/pkg/client"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		redisC.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestRateLimitEndpoint_Redis(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	api := testutil.NewMockAPI()
	defer api.Close()
	api.SetSequence("conversations.history",
		testutil.NewRateLimitResponse("0.5"),
		testutil.NewOKResponse(`{"ok":true,"messages":[]}`),
	)

	cfg := proxyConfig{
		Token:          "xoxb-proxy",
		BaseURL:        api.URL(),
		RedisNamespace: "proxy-test",
		MaxConcurrency: 1,
		PageSize:       200,
		RequestTimeout: 5 * time.Second,
	}
	apiClient, err := client.New(cfg.clientConfig(redisClient, zerolog.Nop()))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer apiClient.Close()

	srv := httptest.NewServer(newServer(apiClient, 0, zerolog.Nop()))
	defer srv.Close()

	pending := apiClient.CallAsync(context.Background(), "conversations.history", client.Params{"channel": "C1"})
	require.Eventually(t, func() bool { return apiClient.Stats().Paused }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/ratelimit")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "redis", body["source"])
	assert.Equal(t, true, body["paused"])
	assert.Equal(t, float64(500), body["retry_after_ms"])

	_, err = pending.Await(context.Background())
	require.NoError(t, err)
}
