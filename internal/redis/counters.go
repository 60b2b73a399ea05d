package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// segmentCountTTL bounds staleness between recount jobs.
const segmentCountTTL = 24 * time.Hour

// engagementTTL keeps engagement snapshots fresh enough for dashboards.
const engagementTTL = time.Hour

// Counters caches expensive aggregate numbers: segment membership counts
// refreshed by segment_recount jobs and post engagement snapshots refreshed
// by engagement_fetch jobs. The database stays the source of truth; a cache
// miss just means the next job recomputes.
type Counters struct {
	client *Client
	logger *zap.Logger
}

// NewCounters creates the counter cache.
func NewCounters(client *Client, logger *zap.Logger) *Counters {
	return &Counters{client: client, logger: logger}
}

// SetSegmentCount stores a freshly computed segment membership count.
func (c *Counters) SetSegmentCount(ctx context.Context, segmentID string, count int64) error {
	key := fmt.Sprintf("segment:count:%s", segmentID)
	if err := c.client.rdb.Set(ctx, key, count, segmentCountTTL).Err(); err != nil {
		return fmt.Errorf("set segment count: %w", err)
	}
	return nil
}

// SegmentCount reads a cached segment count. The bool reports a cache hit.
func (c *Counters) SegmentCount(ctx context.Context, segmentID string) (int64, bool, error) {
	key := fmt.Sprintf("segment:count:%s", segmentID)
	val, err := c.client.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get segment count: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt segment count for %s: %w", segmentID, err)
	}
	return count, true, nil
}

// SetEngagement stores a post's engagement snapshot as a hash.
func (c *Counters) SetEngagement(ctx context.Context, postID string, likes, comments, shares int64) error {
	key := fmt.Sprintf("engagement:%s", postID)
	pipe := c.client.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"likes":    likes,
		"comments": comments,
		"shares":   shares,
	})
	pipe.Expire(ctx, key, engagementTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set engagement: %w", err)
	}
	return nil
}

// Engagement reads a cached engagement snapshot. The bool reports a hit.
func (c *Counters) Engagement(ctx context.Context, postID string) (likes, comments, shares int64, ok bool, err error) {
	key := fmt.Sprintf("engagement:%s", postID)
	vals, err := c.client.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("get engagement: %w", err)
	}
	if len(vals) == 0 {
		return 0, 0, 0, false, nil
	}
	likes, _ = strconv.ParseInt(vals["likes"], 10, 64)
	comments, _ = strconv.ParseInt(vals["comments"], 10, 64)
	shares, _ = strconv.ParseInt(vals["shares"], 10, 64)
	return likes, comments, shares, true, nil
}
