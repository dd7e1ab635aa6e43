package cache

import (
	"fmt"
	"log/slog"

	"trigear/internal/config"
)

// MakeCache builds the cache backend named by cfg.Backend.
func MakeCache(cfg config.CacheConfig) (ListCache, error) {
	switch cfg.Backend {
	case "", "memory":
		slog.Info("Using in-memory cache")
		return NewInMemoryCache(), nil
	case "blob":
		slog.Info("Using Azure Blob Storage for cache", "account", cfg.AccountName, "container", cfg.Container)
		return NewBlobCache(BlobConfig{
			AccountName: cfg.AccountName,
			AccountKey:  cfg.AccountKey,
			Container:   cfg.Container,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
