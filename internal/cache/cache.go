// Package cache caches serialized calculation responses keyed by request
// payload. The default backend is in-memory so the service keeps no state
// between restarts; a Redis backend is available for deployments that want
// cache hits across instances.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores serialized responses for identical requests.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Key derives a stable cache key from a raw request payload.
func Key(prefix string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return prefix + ":" + hex.EncodeToString(sum[:])
}
