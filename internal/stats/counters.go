package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dayKeyFormat = "2006-01-02"

// DailyPoint is one day of counters in a time-series report.
type DailyPoint struct {
	Date        string  `json:"date"`
	Touches     int64   `json:"touches"`
	Sessions    int64   `json:"sessions"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// Counters keeps per-client daily counters in Redis. Increments are
// best effort and never fail the calling request; a nil Counters is a
// no-op so callers do not need to guard for a missing Redis.
type Counters struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewCounters(client *redis.Client, logger *zap.Logger) *Counters {
	if client == nil {
		return nil
	}
	return &Counters{
		client: client,
		logger: logger,
		ttl:    90 * 24 * time.Hour,
	}
}

func (c *Counters) key(clientID, metric string, day time.Time) string {
	return fmt.Sprintf("stats:%s:%s:%s", clientID, metric, day.UTC().Format(dayKeyFormat))
}

func (c *Counters) incr(ctx context.Context, key string, by float64) {
	pipe := c.client.Pipeline()
	pipe.IncrByFloat(ctx, key, by)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to increment stats counter", zap.String("key", key), zap.Error(err))
	}
}

func (c *Counters) IncrTouch(ctx context.Context, clientID string, at time.Time) {
	if c == nil {
		return
	}
	c.incr(ctx, c.key(clientID, "touches", at), 1)
}

func (c *Counters) IncrSession(ctx context.Context, clientID string, at time.Time) {
	if c == nil {
		return
	}
	c.incr(ctx, c.key(clientID, "sessions", at), 1)
}

func (c *Counters) IncrConversion(ctx context.Context, clientID string, at time.Time, revenue float64) {
	if c == nil {
		return
	}
	c.incr(ctx, c.key(clientID, "conversions", at), 1)
	if revenue > 0 {
		c.incr(ctx, c.key(clientID, "revenue", at), revenue)
	}
}

// TimeSeries reads the daily counters for every day in [from, to]
// inclusive. Missing keys read as zero.
func (c *Counters) TimeSeries(ctx context.Context, clientID string, from, to time.Time) ([]DailyPoint, error) {
	if c == nil {
		return nil, fmt.Errorf("redis is not configured")
	}

	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)

	var points []DailyPoint
	for day := from; !day.After(to); day = day.Add(24 * time.Hour) {
		keys := []string{
			c.key(clientID, "touches", day),
			c.key(clientID, "sessions", day),
			c.key(clientID, "conversions", day),
			c.key(clientID, "revenue", day),
		}
		vals, err := c.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read stats counters: %w", err)
		}
		points = append(points, DailyPoint{
			Date:        day.Format(dayKeyFormat),
			Touches:     asInt(vals[0]),
			Sessions:    asInt(vals[1]),
			Conversions: asInt(vals[2]),
			Revenue:     asFloat(vals[3]),
		})
	}
	return points, nil
}

func asInt(v interface{}) int64 {
	f := asFloat(v)
	return int64(f)
}

func asFloat(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
