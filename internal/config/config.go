package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vjranagit/tsgather/pkg/cache"
	"github.com/vjranagit/tsgather/pkg/collector"
)

// Config holds the application configuration
type Config struct {
	Replicas ReplicaConfig `json:"replicas"`
	Query    QueryConfig   `json:"query"`
	Cache    CacheConfig   `json:"cache"`
}

// ReplicaConfig describes the replica set to query.
type ReplicaConfig struct {
	Addrs []string `json:"addrs"`
	Names []string `json:"names"`
}

// QueryConfig holds query execution configuration.
type QueryConfig struct {
	Timeout           time.Duration `json:"timeout"`
	PerReplicaTimeout time.Duration `json:"per_replica_timeout"`
	RequireComplete   bool          `json:"require_complete"`
	CancelOnComplete  bool          `json:"cancel_on_complete"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Enabled          bool          `json:"enabled"`
	Path             string        `json:"path"`
	MemoryEntries    int           `json:"memory_entries"`
	TTL              time.Duration `json:"ttl"`
	CompressionLevel int           `json:"compression_level"`
}

// DefaultConfig returns configuration populated from the environment
func DefaultConfig() *Config {
	addrs := splitList(getEnv("REPLICA_ADDRS", "http://localhost:9090"))
	names := splitList(getEnv("REPLICA_NAMES", ""))
	if len(names) == 0 {
		names = make([]string, len(addrs))
		copy(names, addrs)
	}

	return &Config{
		Replicas: ReplicaConfig{
			Addrs: addrs,
			Names: names,
		},
		Query: QueryConfig{
			Timeout:           time.Duration(getEnvInt("QUERY_TIMEOUT_MS", 10000)) * time.Millisecond,
			PerReplicaTimeout: time.Duration(getEnvInt("REPLICA_TIMEOUT_MS", 2000)) * time.Millisecond,
			RequireComplete:   getEnvBool("REQUIRE_COMPLETE", false),
			CancelOnComplete:  getEnvBool("CANCEL_ON_COMPLETE", true),
		},
		Cache: CacheConfig{
			Enabled:          getEnvBool("CACHE_ENABLED", false),
			Path:             getEnv("CACHE_PATH", "./cache"),
			MemoryEntries:    getEnvInt("CACHE_MEMORY_ENTRIES", 128),
			TTL:              time.Duration(getEnvInt("CACHE_TTL_SECONDS", 300)) * time.Second,
			CompressionLevel: getEnvInt("CACHE_COMPRESSION_LEVEL", 3),
		},
	}
}

// ToCacheConfig converts to cache.Config
func (c *Config) ToCacheConfig() *cache.Config {
	return &cache.Config{
		Path:             c.Cache.Path,
		MemoryEntries:    c.Cache.MemoryEntries,
		TTL:              c.Cache.TTL,
		CompressionLevel: c.Cache.CompressionLevel,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Replicas.Addrs) == 0 {
		return fmt.Errorf("at least one replica address is required")
	}

	if len(c.Replicas.Addrs) > collector.MaxReplicas {
		return fmt.Errorf("replica count %d exceeds limit of %d", len(c.Replicas.Addrs), collector.MaxReplicas)
	}

	if len(c.Replicas.Names) != len(c.Replicas.Addrs) {
		return fmt.Errorf("replica name count %d does not match address count %d",
			len(c.Replicas.Names), len(c.Replicas.Addrs))
	}

	if c.Query.Timeout <= 0 || c.Query.PerReplicaTimeout <= 0 {
		return fmt.Errorf("query timeouts must be positive")
	}

	if c.Cache.Enabled {
		if c.Cache.Path == "" {
			return fmt.Errorf("cache path is required when the cache is enabled")
		}
		if c.Cache.CompressionLevel < 1 || c.Cache.CompressionLevel > 4 {
			return fmt.Errorf("cache compression level must be between 1 and 4")
		}
	}

	return nil
}

// splitList parses a comma-separated environment value
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
