package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"transit-simulator/internal/apperr"
	mmetrics "transit-simulator/internal/metrics"
	"transit-simulator/internal/sim"
)

const (
	positionKeyPrefix = "sim:position:"
	PositionChannel   = "sim:positions"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // lifetime of the latest-position key
}

// RedisStore keeps the latest update of each session and publishes every
// update on PositionChannel.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *mmetrics.Collector
	log     zerolog.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig, m *mmetrics.Collector, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis")
	return newRedisStore(client, cfg.TTL, m, logger), nil
}

func newRedisStore(client *redis.Client, ttl time.Duration, m *mmetrics.Collector, logger zerolog.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, metrics: m, log: logger}
}

func positionKey(sessionID string) string { return positionKeyPrefix + sessionID }

func (s *RedisStore) Publish(ctx context.Context, u sim.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	start := time.Now()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, positionKey(u.SessionID), data, s.ttl)
	pipe.Publish(ctx, PositionChannel, data)
	_, err = pipe.Exec(ctx)
	s.metrics.PublishResult("redis", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", u.SessionID, err)
	}
	return nil
}

// Latest returns the most recent update stored for a session.
func (s *RedisStore) Latest(ctx context.Context, sessionID string) (sim.Update, error) {
	data, err := s.client.Get(ctx, positionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return sim.Update{}, fmt.Errorf("position of %s: %w", sessionID, apperr.ErrNotFound)
	}
	if err != nil {
		return sim.Update{}, fmt.Errorf("redis get %s: %w", sessionID, err)
	}
	var u sim.Update
	if err := json.Unmarshal(data, &u); err != nil {
		return sim.Update{}, fmt.Errorf("decode position of %s: %w", sessionID, err)
	}
	return u, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
