// Package mirror implements the optional Redis side channel that mirrors
// the most recently inserted (key, value, ts) per sensor. It is declared
// in the original C++ sources (RedisClient) but left unwired there; this
// package wires it behind a config flag as a best-effort, non-blocking
// post-insert mirror that can never fail or delay a request.
package mirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sensorpulse/ingest/internal/config"
	"github.com/sensorpulse/ingest/internal/domain"
)

// Mirror wraps a Redis client. New does not check cfg.RedisEnabled; the
// supervisor calls New only when the mirror is enabled and otherwise
// passes a nil writer.Mirror.
type Mirror struct {
	client *redis.Client
	logger *zap.Logger
}

// New dials Redis and returns a Mirror, or an error if the ping fails.
// Callers should treat a dial failure as "run without the mirror" rather
// than a fatal startup error, since it is declared Non-goal-adjacent
// (optional collaborator, not part of the core pipeline).
func New(cfg config.Config, logger *zap.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Mirror{client: client, logger: logger}, nil
}

// Save mirrors one task's rows into a Redis hash keyed "sensor:<id>",
// field <key> holding the value and <key>:ts holding the timestamp,
// matching RedisClient::save_metric in the original implementation.
// Errors are logged and swallowed: the mirror must never fail or block
// the request it is mirroring.
func (m *Mirror) Save(ctx context.Context, task *domain.EnqueuedTask) {
	if len(task.KV) == 0 {
		return
	}

	key := "sensor:" + task.SensorID
	ts := domain.NormalizeTimestamp(task.TS)

	fields := make(map[string]interface{}, len(task.KV)*2)
	for _, kv := range task.KV {
		fields[kv.Key] = strconv.FormatFloat(kv.Value, 'f', -1, 64)
		fields[kv.Key+":ts"] = strconv.FormatInt(ts, 10)
	}

	saveCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := m.client.HSet(saveCtx, key, fields).Err(); err != nil {
		m.logger.Debug("redis mirror write failed, ignoring", zap.Error(err), zap.String("sensor_id", task.SensorID))
	}
}

// Close releases the underlying Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
