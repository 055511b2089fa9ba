package redisq

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"reminderq/internal/config"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}

func (c *Client) key(parts ...string) string {
	prefix := strings.TrimSuffix(c.Cfg.KeyPrefix, ":")
	if prefix == "" {
		prefix = "reminder"
	}
	return prefix + ":" + strings.Join(parts, ":")
}

// recordKey holds one delivery record; its existence is the uniqueness guard.
func (c *Client) recordKey(taskID string, occMs int64) string {
	return c.key("delivery", taskID, strconv.FormatInt(occMs, 10))
}

// indexKey is a sorted set of occurrence millis per task.
func (c *Client) indexKey(taskID string) string {
	return c.key("deliveries", taskID)
}

func (c *Client) healthKey() string {
	return c.key("health")
}

func fmtMillis(ms int64) string { return strconv.FormatInt(ms, 10) }
