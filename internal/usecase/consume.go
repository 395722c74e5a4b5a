package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"jobstream/internal/domain"
	"jobstream/internal/metrics"
	"jobstream/internal/ports"
	"jobstream/pkg/backoff"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Consumer struct {
	Q            ports.Queue
	Events       ports.EventStore
	Registry     *Registry
	Queues       []string
	ConsumerName string
	Block        time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c Consumer) Run(ctx context.Context) error {
	block := c.Block
	if block <= 0 {
		block = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ds, err := c.Q.Claim(ctx, c.Queues, c.ConsumerName, block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Ctx(ctx).Error().Err(err).Str("consumer", c.ConsumerName).Msg("claim failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for i := range ds {
			c.Process(ctx, &ds[i])
		}
	}
}

// Process runs one claimed task to a terminal state, or reschedules it when it
// still has retries left.
func (c Consumer) Process(ctx context.Context, d *ports.Delivery) {
	logger := log.Ctx(ctx).With().
		Str("task_id", d.Task.ID).
		Str("func", d.Task.Func).
		Str("queue", d.Queue).
		Str("stream_id", d.Task.EventsID()).
		Logger()
	ctx = logger.WithContext(ctx)

	if err := c.Q.Start(ctx, d); err != nil {
		if errors.Is(err, domain.ErrTaskNotRunnable) || errors.Is(err, domain.ErrTaskNotFound) {
			logger.Warn().Err(err).Msg("skipping entry")
			_ = c.Q.Ack(ctx, d)
			return
		}
		logger.Error().Err(err).Msg("failed to start task")
		return
	}

	metrics.RunningTasks.Inc()
	defer metrics.RunningTasks.Dec()

	start := time.Now()
	result, err := c.invoke(ctx, d)
	metrics.TaskDurationSeconds.WithLabelValues(d.Queue, d.Task.Func).Observe(time.Since(start).Seconds())

	if err == nil {
		var raw json.RawMessage
		raw, err = json.Marshal(result)
		if err != nil {
			err = fmt.Errorf("encode result: %w", err)
		} else if err = c.Q.Finish(ctx, d, raw); err != nil {
			err = fmt.Errorf("record result: %w", err)
		} else {
			metrics.TasksProcessedTotal.WithLabelValues(d.Queue, d.Task.Func, string(domain.StatusFinished)).Inc()
			logger.Info().Dur("took", time.Since(start)).Msg("task finished")
			return
		}
	}

	c.fail(ctx, logger, d, err)
}

func (c Consumer) invoke(ctx context.Context, d *ports.Delivery) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Bytes("stack", debug.Stack()).Interface("panic", r).Msg("task panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	h, err := c.Registry.Lookup(d.Task.Func)
	if err != nil {
		return nil, err
	}
	return h(ctx, NewExecution(&d.Task, c.Q, c.Events))
}

func (c Consumer) fail(ctx context.Context, logger zerolog.Logger, d *ports.Delivery, err error) {
	if d.Task.Attempts < d.Task.MaxRetries && !errors.Is(err, domain.ErrUnknownFunc) {
		delay := backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, d.Task.Attempts+1)
		if rerr := c.Q.Retry(ctx, d, err.Error(), time.Now().Add(delay)); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to schedule retry")
			return
		}
		metrics.TasksProcessedTotal.WithLabelValues(d.Queue, d.Task.Func, "retried").Inc()
		logger.Warn().Err(err).Int("attempt", d.Task.Attempts+1).Dur("delay", delay).Msg("task failed, retrying")
		return
	}

	failed, ferr := c.Q.Fail(ctx, d, err.Error())
	if ferr != nil {
		logger.Error().Err(ferr).Msg("failed to record failure")
		return
	}
	metrics.TasksProcessedTotal.WithLabelValues(d.Queue, d.Task.Func, string(domain.StatusFailed)).Inc()
	metrics.DependentsFailedTotal.Add(float64(len(failed)))
	logger.Error().Err(err).Strs("dependents_failed", failed).Msg("task failed")

	stage := d.Task.Func
	var se *domain.StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	if _, aerr := c.Events.Append(ctx, d.Task.EventsID(), domain.Progress{
		Status: domain.ProgressFailed,
		Stage:  stage,
		Reason: err.Error(),
	}); aerr != nil {
		logger.Error().Err(aerr).Msg("failed to append failure event")
	}
}
