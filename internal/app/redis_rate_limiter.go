package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateDecision is the outcome of one event submission against the limiter.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// EventRateLimiter caps event submissions per submitter over a sliding window.
// Each accepted submission is a member of a Redis sorted set scored by its
// arrival time in milliseconds, so the window slides with every request instead
// of resetting on a fixed boundary. Submissions that are turned away are not
// recorded, so a throttled client regains capacity as its older hits age out.
type EventRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewEventRateLimiter allows perMinute submissions per submitter in any
// rolling minute.
func NewEventRateLimiter(client redis.UniversalClient, prefix string, perMinute int) *EventRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "card_ledger:rate_limit"
	}
	return &EventRateLimiter{
		client: client,
		prefix: prefix,
		limit:  perMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow records a submission by submitter if it fits in the window. Submitter
// is an operator subject or a client address; an empty one is never limited.
func (l *EventRateLimiter) Allow(ctx context.Context, submitter string) (RateDecision, error) {
	submitter = strings.TrimSpace(submitter)
	if l == nil || l.client == nil || l.limit <= 0 || submitter == "" {
		return RateDecision{Allowed: true}, nil
	}

	now := l.now()
	key := l.key(submitter)
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	windowStart := now.Add(-l.window).UnixMilli()

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		count = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.PExpire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return RateDecision{}, fmt.Errorf("event rate limiter: %w", err)
	}

	var oldestMs int64
	if entries := oldest.Val(); len(entries) > 0 {
		oldestMs = int64(entries[0].Score)
	}
	decision := decideRate(count.Val(), oldestMs, now.UnixMilli(), l.limit, l.window)

	if !decision.Allowed {
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			return decision, fmt.Errorf("event rate limiter: %w", err)
		}
	}
	return decision, nil
}

func (l *EventRateLimiter) key(submitter string) string {
	return l.prefix + ":events:" + submitter
}

// decideRate turns the window population (including the current submission)
// into a decision. A refused submission may retry once the oldest hit in the
// window ages out.
func decideRate(count, oldestMs, nowMs int64, limit int, window time.Duration) RateDecision {
	decision := RateDecision{Limit: limit}
	if count <= int64(limit) {
		decision.Allowed = true
		decision.Remaining = limit - int(count)
		return decision
	}

	wait := time.Duration(oldestMs+window.Milliseconds()-nowMs) * time.Millisecond
	if wait < time.Second {
		wait = time.Second
	}
	decision.RetryAfter = wait
	return decision
}
