package redis

import (
	"context"
	"fmt"
	"time"

	"agent-payment-gateway/config"
	"agent-payment-gateway/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const pingTimeout = 3 * time.Second

// NewClient creates a Redis client and verifies connectivity. The client is
// closed again when the first ping fails.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr(), err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Msg("Redis connection established")

	return client, nil
}

// HealthCheck reports Redis as "redis" on the health endpoint.
func HealthCheck(client *goredis.Client) ports.HealthChecker {
	return ports.HealthCheckFunc{
		Label: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
