package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"jobstream/internal/domain"
	"jobstream/internal/ports"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Queue = (*Client)(nil)

func (c *Client) Enqueue(ctx context.Context, req domain.EnqueueRequest) (string, error) {
	if req.Queue == "" || req.Func == "" {
		return "", errors.New("enqueue: queue and func are required")
	}

	args, err := encodeArgs(req.Args)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: encode args: %w", req.Func, err)
	}

	t := domain.Task{
		ID:         req.TaskID,
		Func:       req.Func,
		Args:       args,
		Queue:      req.Queue,
		DependsOn:  req.DependsOn,
		StreamID:   req.StreamID,
		MaxRetries: req.MaxRetries,
		CreatedAt:  time.Now(),
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	if len(t.DependsOn) == 0 {
		t.Status = domain.StatusQueued
		if err := c.SaveState(ctx, t); err != nil {
			return "", err
		}
		if err := c.push(ctx, t.Queue, t.ID); err != nil {
			return "", err
		}
		return t.ID, nil
	}

	t.Status = domain.StatusDeferred
	if err := c.SaveState(ctx, t); err != nil {
		return "", err
	}

	// Register with the dependencies before looking at their state: a
	// dependency finishing concurrently either sees this registration or
	// is seen as finished below.
	_, err = c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, deferredKey(t.Queue), t.ID)
		for _, dep := range t.DependsOn {
			p.SAdd(ctx, dependentsKey(dep), t.ID)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: register dependencies: %w", t.ID, err)
	}

	if err := c.resolve(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// resolve promotes a deferred task whose dependencies all finished, or fails
// it when any of them failed or vanished, even while others are still pending.
func (c *Client) resolve(ctx context.Context, t domain.Task) error {
	pending := false
	for _, dep := range t.DependsOn {
		status, err := c.Rdb.HGet(ctx, taskKey(dep), "status").Result()
		if errors.Is(err, redis.Nil) {
			log.Ctx(ctx).Warn().Str("task_id", t.ID).Str("dependency", dep).Msg("dependency record missing")
			_, err := c.failCascade(ctx, t.ID, fmt.Sprintf("dependency %s not found", dep))
			return err
		}
		if err != nil {
			return err
		}
		switch domain.TaskStatus(status) {
		case domain.StatusFinished:
		case domain.StatusFailed:
			_, err := c.failCascade(ctx, t.ID, fmt.Sprintf("dependency %s failed", dep))
			return err
		default:
			pending = true
		}
	}
	if pending {
		return nil
	}
	return c.promote(ctx, t.ID)
}

// promote moves a deferred task into its queue stream. The promoted flag
// makes the move happen once even when several callers race.
func (c *Client) promote(ctx context.Context, id string) error {
	queue, err := c.Rdb.HGet(ctx, taskKey(id), "queue").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	first, err := c.Rdb.HSetNX(ctx, taskKey(id), "promoted", 1).Result()
	if err != nil || !first {
		return err
	}

	if err := c.Rdb.HSet(ctx, taskKey(id), "status", string(domain.StatusQueued)).Err(); err != nil {
		return err
	}
	_ = c.Rdb.SRem(ctx, deferredKey(queue), id).Err()
	return c.push(ctx, queue, id)
}

func (c *Client) push(ctx context.Context, queue, id string) error {
	err := c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]interface{}{"task_id": id},
	}).Err()
	if err != nil {
		return fmt.Errorf("push %s to %s: %w", id, queue, err)
	}
	return nil
}

func (c *Client) Claim(ctx context.Context, queues []string, consumer string, block time.Duration) ([]ports.Delivery, error) {
	streams := make([]string, 0, 2*len(queues))
	for _, q := range queues {
		streams = append(streams, streamKey(q))
	}
	for range queues {
		streams = append(streams, ">")
	}

	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Cfg.Group,
		Consumer: consumer,
		Streams:  streams,
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []ports.Delivery
	for _, s := range res {
		for _, msg := range s.Messages {
			queue := queueFromStream(s.Stream)
			id, _ := msg.Values["task_id"].(string)

			t, err := c.Get(ctx, id)
			if errors.Is(err, domain.ErrTaskNotFound) {
				log.Ctx(ctx).Warn().Str("queue", queue).Str("task_id", id).Msg("dropping entry for missing task")
				_ = c.Rdb.XAck(ctx, s.Stream, c.Cfg.Group, msg.ID).Err()
				continue
			}
			if err != nil {
				return out, err
			}
			out = append(out, ports.Delivery{Task: *t, Queue: queue, MessageID: msg.ID})
		}
	}
	return out, nil
}

func (c *Client) Ack(ctx context.Context, d *ports.Delivery) error {
	return c.Rdb.XAck(ctx, streamKey(d.Queue), c.Cfg.Group, d.MessageID).Err()
}

func (c *Client) Start(ctx context.Context, d *ports.Delivery) error {
	status, err := c.Rdb.HGet(ctx, taskKey(d.Task.ID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if domain.TaskStatus(status) != domain.StatusQueued {
		return fmt.Errorf("%w: %s is %s", domain.ErrTaskNotRunnable, d.Task.ID, status)
	}

	d.Task.Status = domain.StatusRunning
	d.Task.StartedAt = time.Now()
	return c.Rdb.HSet(ctx, taskKey(d.Task.ID), map[string]any{
		"status":     string(d.Task.Status),
		"started_at": toMs(d.Task.StartedAt),
	}).Err()
}

func (c *Client) Finish(ctx context.Context, d *ports.Delivery, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	d.Task.Status = domain.StatusFinished
	d.Task.Result = result
	d.Task.EndedAt = time.Now()

	_, err := c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, taskKey(d.Task.ID), map[string]any{
			"status":   string(d.Task.Status),
			"result":   string(result),
			"ended_at": toMs(d.Task.EndedAt),
		})
		p.XAck(ctx, streamKey(d.Queue), c.Cfg.Group, d.MessageID)
		if c.Cfg.ResultTTL > 0 {
			p.Expire(ctx, taskKey(d.Task.ID), c.Cfg.ResultTTL)
			p.Expire(ctx, dependentsKey(d.Task.ID), c.Cfg.ResultTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish %s: %w", d.Task.ID, err)
	}

	dependents, err := c.Rdb.SMembers(ctx, dependentsKey(d.Task.ID)).Result()
	if err != nil {
		return fmt.Errorf("finish %s: load dependents: %w", d.Task.ID, err)
	}
	for _, id := range dependents {
		dep, err := c.Get(ctx, id)
		if errors.Is(err, domain.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if dep.Status != domain.StatusDeferred {
			continue
		}
		if err := c.resolve(ctx, *dep); err != nil {
			return fmt.Errorf("finish %s: resolve dependent %s: %w", d.Task.ID, id, err)
		}
	}
	return nil
}

func (c *Client) Fail(ctx context.Context, d *ports.Delivery, reason string) ([]string, error) {
	d.Task.Status = domain.StatusFailed
	d.Task.Error = reason
	if err := c.Ack(ctx, d); err != nil {
		return nil, err
	}
	return c.failCascade(ctx, d.Task.ID, reason)
}

// failCascade marks id failed and walks its dependents breadth first, failing
// every one that has not already reached a terminal state.
func (c *Client) failCascade(ctx context.Context, id, reason string) ([]string, error) {
	if err := c.markFailed(ctx, id, reason); err != nil {
		return nil, err
	}

	var failed []string
	pending := []string{id}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]

		dependents, err := c.Rdb.SMembers(ctx, dependentsKey(cur)).Result()
		if err != nil {
			return failed, err
		}
		for _, depID := range dependents {
			dep, err := c.Get(ctx, depID)
			if errors.Is(err, domain.ErrTaskNotFound) {
				continue
			}
			if err != nil {
				return failed, err
			}
			if dep.Status.Terminal() {
				continue
			}
			if err := c.markFailed(ctx, depID, fmt.Sprintf("dependency %s failed", cur)); err != nil {
				return failed, err
			}
			failed = append(failed, depID)
			pending = append(pending, depID)
		}
	}
	return failed, nil
}

func (c *Client) markFailed(ctx context.Context, id, reason string) error {
	queue, err := c.Rdb.HGet(ctx, taskKey(id), "queue").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	_, err = c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, taskKey(id), map[string]any{
			"status":   string(domain.StatusFailed),
			"error":    reason,
			"ended_at": time.Now().UnixMilli(),
		})
		if queue != "" {
			p.SRem(ctx, deferredKey(queue), id)
		}
		p.ZAdd(ctx, failedKey, redis.Z{Score: nowMs(), Member: id})
		return nil
	})
	return err
}

func (c *Client) Retry(ctx context.Context, d *ports.Delivery, reason string, runAt time.Time) error {
	d.Task.Attempts++
	d.Task.Status = domain.StatusScheduled
	d.Task.Error = reason

	_, err := c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, taskKey(d.Task.ID), map[string]any{
			"status":   string(d.Task.Status),
			"error":    reason,
			"attempts": d.Task.Attempts,
		})
		p.ZAdd(ctx, scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: d.Task.ID})
		p.XAck(ctx, streamKey(d.Queue), c.Cfg.Group, d.MessageID)
		return nil
	})
	return err
}

func (c *Client) SaveState(ctx context.Context, t domain.Task) error {
	deps, _ := json.Marshal(t.DependsOn)
	m := map[string]any{
		"id":          t.ID,
		"func":        t.Func,
		"args":        string(t.Args),
		"queue":       t.Queue,
		"depends_on":  string(deps),
		"stream_id":   t.StreamID,
		"status":      string(t.Status),
		"attempts":    t.Attempts,
		"max_retries": t.MaxRetries,
		"created_at":  toMs(t.CreatedAt),
		"started_at":  toMs(t.StartedAt),
		"ended_at":    toMs(t.EndedAt),
	}
	if len(t.Result) > 0 {
		m["result"] = string(t.Result)
	}
	if t.Error != "" {
		m["error"] = t.Error
	}
	return c.Rdb.HSet(ctx, taskKey(t.ID), m).Err()
}

func (c *Client) Get(ctx context.Context, id string) (*domain.Task, error) {
	h, err := c.Rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}

	t := &domain.Task{
		ID:       id,
		Func:     h["func"],
		Queue:    h["queue"],
		StreamID: h["stream_id"],
		Status:   domain.TaskStatus(h["status"]),
		Error:    h["error"],
	}
	if v := h["args"]; v != "" {
		t.Args = json.RawMessage(v)
	}
	if v := h["result"]; v != "" {
		t.Result = json.RawMessage(v)
	}
	if v := h["depends_on"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("task %s: decode depends_on: %w", id, err)
		}
	}
	t.Attempts, _ = strconv.Atoi(h["attempts"])
	t.MaxRetries, _ = strconv.Atoi(h["max_retries"])
	t.CreatedAt = fromMs(parseInt(h["created_at"]))
	t.StartedAt = fromMs(parseInt(h["started_at"]))
	t.EndedAt = fromMs(parseInt(h["ended_at"]))
	return t, nil
}

// FetchDependencies returns the dependencies of t in declared order.
func (c *Client) FetchDependencies(ctx context.Context, t domain.Task) ([]domain.Task, error) {
	deps := make([]domain.Task, 0, len(t.DependsOn))
	for _, id := range t.DependsOn {
		dep, err := c.Get(ctx, id)
		if errors.Is(err, domain.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDependencyMissing, id)
		}
		if err != nil {
			return nil, err
		}
		if dep.Status != domain.StatusFinished {
			return nil, fmt.Errorf("dependency %s is %s", id, dep.Status)
		}
		deps = append(deps, *dep)
	}
	return deps, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, taskKey(id), dependentsKey(id))
		p.ZRem(ctx, failedKey, id)
		p.ZRem(ctx, scheduledKey, id)
		return nil
	})
	return err
}

// ListFailed returns the most recently failed tasks first.
func (c *Client) ListFailed(ctx context.Context, limit int64) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := c.Rdb.ZRevRange(ctx, failedKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := c.Get(ctx, id)
		if errors.Is(err, domain.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func encodeArgs(v any) (json.RawMessage, error) {
	switch a := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return a, nil
	default:
		return json.Marshal(a)
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
