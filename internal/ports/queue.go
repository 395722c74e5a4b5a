package ports

import (
	"context"
	"encoding/json"
	"jobstream/internal/domain"
	"time"
)

// Delivery is a claimed stream entry together with the task it points at.
type Delivery struct {
	Task      domain.Task
	Queue     string
	MessageID string
}

type Queue interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest) (string, error)
	// Claim returns at most one delivery per queue.
	Claim(ctx context.Context, queues []string, consumer string, block time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Start(ctx context.Context, d *Delivery) error
	Finish(ctx context.Context, d *Delivery, result json.RawMessage) error
	// Fail marks the task failed and every transitive dependent failed
	// without running; it returns the ids of the dependents it failed.
	Fail(ctx context.Context, d *Delivery, reason string) ([]string, error)
	Retry(ctx context.Context, d *Delivery, reason string, runAt time.Time) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	FetchDependencies(ctx context.Context, t domain.Task) ([]domain.Task, error)
	Delete(ctx context.Context, id string) error
}

type Scheduler interface {
	// moves due retries from the scheduled ZSET back into their streams
	Run(ctx context.Context) error
}
