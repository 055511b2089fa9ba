package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"reminderq/internal/domain"
	"reminderq/internal/ports"
)

var (
	_ ports.DeliveryStore = (*Client)(nil)
	_ ports.HealthStore   = (*Client)(nil)
)

// insertScript sets the record key only if absent and indexes it in the
// same step, so a collision never leaves a second record or a dangling index.
var insertScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX") then
  redis.call("ZADD", KEYS[2], ARGV[2], ARGV[2])
  return 1
end
return 0
`)

func (c *Client) ExistsNear(ctx context.Context, taskID string, occ time.Time, tol time.Duration) (bool, error) {
	n, err := c.Rdb.ZCount(ctx, c.indexKey(taskID),
		fmtMillis(occ.Add(-tol).UnixMilli()),
		fmtMillis(occ.Add(tol).UnixMilli()),
	).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) Insert(ctx context.Context, rec domain.DeliveryRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ms := rec.OccurrenceAt.UnixMilli()
	ok, err := insertScript.Run(ctx, c.Rdb,
		[]string{c.recordKey(rec.TaskID, ms), c.indexKey(rec.TaskID)},
		string(b), ms,
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ports.ErrDuplicateRecord
	}
	return nil
}

func (c *Client) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	members, err := c.Rdb.ZRevRangeByScore(ctx, c.indexKey(taskID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, c.key("delivery", taskID, m))
	}
	vals, err := c.Rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.DeliveryRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec domain.DeliveryRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ApplyRun updates the health hash in a MULTI block.
func (c *Client) ApplyRun(ctx context.Context, at time.Time, stats domain.RunStats, status domain.HealthStatus) error {
	key := c.healthKey()
	_, err := c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, "tasks_scanned", int64(stats.Scanned))
		p.HIncrBy(ctx, key, "deliveries_sent", int64(stats.Sent))
		p.HIncrBy(ctx, key, "errors_count", int64(stats.Errors))
		p.HSet(ctx, key,
			"last_run_at", at.UnixMilli(),
			"status", string(status),
			"updated_at", time.Now().UTC().UnixMilli(),
		)
		return nil
	})
	return err
}

func (c *Client) Health(ctx context.Context) (*domain.RunHealth, error) {
	var raw struct {
		LastRunAt      int64  `redis:"last_run_at"`
		TasksScanned   int64  `redis:"tasks_scanned"`
		DeliveriesSent int64  `redis:"deliveries_sent"`
		ErrorsCount    int64  `redis:"errors_count"`
		Status         string `redis:"status"`
		UpdatedAt      int64  `redis:"updated_at"`
	}
	res := c.Rdb.HGetAll(ctx, c.healthKey())
	if err := res.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res.Val()) == 0 {
		return nil, nil
	}
	if err := res.Scan(&raw); err != nil {
		return nil, err
	}
	return &domain.RunHealth{
		LastRunAt:      time.UnixMilli(raw.LastRunAt).UTC(),
		TasksScanned:   raw.TasksScanned,
		DeliveriesSent: raw.DeliveriesSent,
		ErrorsCount:    raw.ErrorsCount,
		Status:         domain.HealthStatus(raw.Status),
		UpdatedAt:      time.UnixMilli(raw.UpdatedAt).UTC(),
	}, nil
}
