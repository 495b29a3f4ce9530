package remote

import (
	"context"
	"fmt"

	"dayroll/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// New builds the configured provider wrapped with retries. It returns a nil
// provider for the "none" mode. redisClient may be nil unless the provider
// is redis.
func New(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (Provider, error) {
	var p Provider
	switch cfg.Sync.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		p = NewMemoryProvider()
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis provider requires a redis client")
		}
		p = NewRedisProvider(redisClient, cfg.Redis.Prefix)
	case "sheets":
		sp, err := NewSheetsProvider(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, cfg.Google.RequestsPerSecond)
		if err != nil {
			return nil, err
		}
		p = sp
	default:
		return nil, fmt.Errorf("unknown sync provider %q", cfg.Sync.Provider)
	}

	policy := RetryPolicy{
		MaxRetries:    cfg.Sync.Retry.MaxRetries,
		InitialDelay:  cfg.Sync.Retry.InitialDelay,
		MaxDelay:      cfg.Sync.Retry.MaxDelay,
		BackoffFactor: cfg.Sync.Retry.BackoffFactor,
	}
	return NewRetrying(p, policy, logger), nil
}
