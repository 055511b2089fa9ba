package redisq

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"reminderq/internal/ports"
)

var _ ports.Publisher = (*Events)(nil)

// Events appends delivery events to a capped stream.
type Events struct {
	C *Client
}

func NewEvents(c *Client) *Events {
	return &Events{C: c}
}

func (e *Events) Publish(ctx context.Context, ev ports.DeliveryEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.C.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: e.C.Cfg.StreamKey,
		MaxLen: e.C.Cfg.StreamMax,
		Approx: true,
		Values: map[string]interface{}{
			"event":   b,
			"task_id": ev.TaskID,
			"status":  string(ev.Status),
		},
	}).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (e *Events) Close() error { return nil }
