package detect

import (
	"context"
	"fmt"
	"time"

	"icarus/core"
	"icarus/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduplicator collapses repeated detections of the same source into one
// threat event within a TTL window, backed by redis so the window survives
// restarts and is shared across instances.
type Deduplicator struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *zap.SugaredLogger
}

// NewDeduplicator creates a redis-backed deduplicator
func NewDeduplicator(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *Deduplicator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Deduplicator{
		client:    client,
		ttl:       ttl,
		keyPrefix: "icarus:dedup:",
		logger:    logger,
	}
}

// Seen records the detection's fingerprint and reports whether an
// equivalent detection was already recorded inside the TTL window. Redis
// failures degrade to "not seen" so a broken cache never suppresses a
// threat.
func (d *Deduplicator) Seen(ctx context.Context, event core.DetectionEvent) bool {
	key := d.fingerprint(event)

	fresh, err := d.client.SetNX(ctx, key, event.ID, d.ttl).Result()
	if err != nil {
		d.logger.Warnw("Dedup store unavailable, passing detection through", "error", err)
		return false
	}
	if !fresh {
		metrics.DedupHits.Inc()
	}
	return !fresh
}

func (d *Deduplicator) fingerprint(event core.DetectionEvent) string {
	return fmt.Sprintf("%s%s|%s|%s", d.keyPrefix, event.SourceAddress, event.TargetAddress, event.Decision)
}
