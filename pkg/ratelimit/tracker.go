package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Tracker mirrors the pause state of a client into Redis. Dispatch never
// reads it back; it exists so that other processes (dashboards, the proxy's
// /ratelimit endpoint) can see when a client is backing off.
type Tracker struct {
	redis     *redis.Client
	namespace string
	logger    zerolog.Logger
}

// NewTracker creates a tracker writing keys under namespace.
func NewTracker(redisClient *redis.Client, namespace string, logger zerolog.Logger) *Tracker {
	if namespace == "" {
		namespace = "webapi"
	}
	return &Tracker{
		redis:     redisClient,
		namespace: namespace,
		logger:    logger,
	}
}

func (t *Tracker) key(name string) string {
	return t.namespace + ":" + name
}

// Record stores the pause state atomically.
func (t *Tracker) Record(ctx context.Context, state PauseState) error {
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, t.key(RedisKeyPausedUntil), state.PausedUntil.UnixMilli(), 0)
	pipe.Set(ctx, t.key(RedisKeyRetryAfter), state.RetryAfter.Milliseconds(), 0)
	pipe.Set(ctx, t.key(RedisKeyLastUpdate), state.LastUpdate.UnixMilli(), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store pause state in redis: %w", err)
	}

	t.logger.Debug().
		Time("paused_until", state.PausedUntil).
		Dur("retry_after", state.RetryAfter).
		Msg("Pause state mirrored to redis")
	return nil
}

// GetState reads the mirrored pause state. Returns a zero (unpaused) state
// if nothing was recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*PauseState, error) {
	values, err := t.redis.MGet(ctx,
		t.key(RedisKeyPausedUntil),
		t.key(RedisKeyRetryAfter),
		t.key(RedisKeyLastUpdate),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get pause state: %w", err)
	}

	state := &PauseState{}
	if len(values) != 3 || values[0] == nil {
		t.logger.Debug().Msg("No pause state in redis, returning unpaused state")
		return state, nil
	}

	pausedUntil, err := parseMillis(values[0])
	if err != nil {
		return nil, fmt.Errorf("parse paused until: %w", err)
	}
	retryAfter, err := parseMillis(values[1])
	if err != nil {
		return nil, fmt.Errorf("parse retry after: %w", err)
	}
	lastUpdate, err := parseMillis(values[2])
	if err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}

	state.PausedUntil = time.UnixMilli(pausedUntil)
	state.RetryAfter = time.Duration(retryAfter) * time.Millisecond
	state.LastUpdate = time.UnixMilli(lastUpdate)
	return state, nil
}

func parseMillis(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}
