package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDedupTTL     = 24 * time.Hour
	defaultRedisTimeout = 5 * time.Second
)

// RedisConfig captures the settings for establishing a Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// ConnectRedis initialises a Redis client and validates it with a ping.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Dedup suppresses redelivered events.
// Key format: bloodlift:dedup:<job_type>:<event_id>
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDedup creates a Dedup. A zero ttl uses 24 hours.
func NewDedup(client *redis.Client, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &Dedup{client: client, ttl: ttl}
}

// Claim marks the event as being processed. It reports false when the
// event was already claimed.
func (d *Dedup) Claim(ctx context.Context, jobType, eventID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(jobType, eventID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so a redelivery is processed again.
func (d *Dedup) Release(ctx context.Context, jobType, eventID string) error {
	return d.client.Del(ctx, d.key(jobType, eventID)).Err()
}

func (d *Dedup) key(jobType, eventID string) string {
	return fmt.Sprintf("bloodlift:dedup:%s:%s", jobType, eventID)
}
