package counter

import (
	"context"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const webhookOutcomesKey = "billing:webhook:outcomes"

// WebhookCounter keeps per-outcome webhook totals in a Redis hash.
type WebhookCounter struct {
	rdb *redis.Client
}

func NewWebhookCounter(rdb *redis.Client) *WebhookCounter {
	return &WebhookCounter{rdb: rdb}
}

// RecordOutcome increments the counter of one outcome.
func (c *WebhookCounter) RecordOutcome(ctx context.Context, outcome string) error {
	return c.rdb.HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// OutcomeCount is one row of Snapshot.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// Snapshot returns all counters sorted by outcome name.
func (c *WebhookCounter) Snapshot(ctx context.Context) ([]OutcomeCount, error) {
	data, err := c.rdb.HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]OutcomeCount, 0, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out = append(out, OutcomeCount{Outcome: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Outcome < out[j].Outcome })
	return out, nil
}

// Reset drops all counters.
func (c *WebhookCounter) Reset(ctx context.Context) error {
	return c.rdb.Del(ctx, webhookOutcomesKey).Err()
}
