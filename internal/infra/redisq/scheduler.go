package redisq

import (
	"context"
	"errors"
	"jobstream/internal/domain"
	"jobstream/internal/ports"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Scheduler = (*Scheduler)(nil)

type Scheduler struct {
	C        *Client
	Interval time.Duration
}

func NewScheduler(c *Client, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{C: c, Interval: interval}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.MoveDue(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to move due tasks")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MoveDue pushes every scheduled task whose run time has passed back onto its
// queue stream and returns how many were moved.
func (s *Scheduler) MoveDue(ctx context.Context) (int, error) {
	ids, err := s.C.Rdb.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmtFloat(nowMs()),
		Offset: 0,
		Count:  128,
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, id := range ids {
		queue, err := s.C.Rdb.HGet(ctx, taskKey(id), "queue").Result()
		if errors.Is(err, redis.Nil) {
			_ = s.C.Rdb.ZRem(ctx, scheduledKey, id).Err()
			continue
		}
		if err != nil {
			return moved, err
		}

		if err := s.C.Rdb.HSet(ctx, taskKey(id), "status", string(domain.StatusQueued)).Err(); err != nil {
			return moved, err
		}
		if err := s.C.push(ctx, queue, id); err != nil {
			return moved, err
		}
		if err := s.C.Rdb.ZRem(ctx, scheduledKey, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
