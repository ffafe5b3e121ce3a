package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReferenceGuard implements ports.ReferenceGuard using Redis SET NX.
type ReferenceGuard struct {
	client *goredis.Client
	prefix string
}

// NewReferenceGuard creates a new Redis-backed reference guard.
func NewReferenceGuard(client *goredis.Client) *ReferenceGuard {
	return &ReferenceGuard{
		client: client,
		prefix: "payment_ref:",
	}
}

// Claim binds referenceID to paymentID unless another payment already holds it.
// When it does, the holder's id is returned with claimed=false.
func (g *ReferenceGuard) Claim(ctx context.Context, referenceID, paymentID string, ttl time.Duration) (string, bool, error) {
	key := g.prefix + referenceID

	// A claim can expire between SET NX and GET; try once more in that case.
	for attempt := 0; attempt < 2; attempt++ {
		result, err := g.client.SetArgs(ctx, key, paymentID, goredis.SetArgs{
			Mode: "NX",
			TTL:  ttl,
		}).Result()
		if err == nil && result == "OK" {
			return "", true, nil
		}
		if err != nil && !errors.Is(err, goredis.Nil) {
			return "", false, fmt.Errorf("redis reference claim: %w", err)
		}

		existing, err := g.client.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("redis reference lookup: %w", err)
		}
		return existing, false, nil
	}
	return "", false, fmt.Errorf("redis reference claim: %s kept changing", referenceID)
}

// Release frees a reference so it can be claimed again.
func (g *ReferenceGuard) Release(ctx context.Context, referenceID string) error {
	if err := g.client.Del(ctx, g.prefix+referenceID).Err(); err != nil {
		return fmt.Errorf("redis reference release: %w", err)
	}
	return nil
}
