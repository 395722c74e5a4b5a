package redisq

import (
	"context"
	"fmt"
	"jobstream/internal/config"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	scheduledKey = "rq:scheduled"
	failedKey    = "rq:failed"
)

func taskKey(id string) string       { return "rq:task:" + id }
func dependentsKey(id string) string { return "rq:task:" + id + ":dependents" }
func streamKey(queue string) string  { return "rq:queue:" + queue }
func deferredKey(queue string) string {
	return "rq:deferred:" + queue
}

func queueFromStream(stream string) string { return strings.TrimPrefix(stream, "rq:queue:") }

type Client struct {
	Cfg config.Queue
	Rdb *redis.Client
}

func New(cfg config.Redis, qcfg config.Queue) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromRedis(c, qcfg)
}

// NewFromRedis wraps an existing connection.
func NewFromRedis(rdb *redis.Client, qcfg config.Queue) *Client {
	if qcfg.Group == "" {
		qcfg.Group = "workers"
	}
	return &Client{Cfg: qcfg, Rdb: rdb}
}

// Connect → used by API only
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

// Init → used by Worker, ensures the queue streams and their group exist
func (c *Client) Init(ctx context.Context, queues ...string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	for _, q := range queues {
		err := c.Rdb.XGroupCreateMkStream(ctx, streamKey(q), c.Cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group for %s: %w", q, err)
		}

		log.Ctx(ctx).Info().
			Str("stream", streamKey(q)).
			Str("group", c.Cfg.Group).
			Msg("redis stream and consumer group ready")
	}

	return nil
}

func (c *Client) Close() error { return c.Rdb.Close() }

func nowMs() float64 { return float64(time.Now().UnixMilli()) }

func toMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
