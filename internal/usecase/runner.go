package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"jobstream/internal/domain"
	"jobstream/internal/metrics"
	"jobstream/internal/ports"
)

type DependencyFetcher interface {
	FetchDependencies(ctx context.Context, t domain.Task) ([]domain.Task, error)
}

// Execution is the handle a running task uses to reach its own record, the
// results of its dependencies and its progress stream.
type Execution struct {
	task   *domain.Task
	deps   DependencyFetcher
	events ports.EventStore
}

func NewExecution(t *domain.Task, deps DependencyFetcher, events ports.EventStore) *Execution {
	return &Execution{task: t, deps: deps, events: events}
}

func (e *Execution) Task() (*domain.Task, error) {
	if e == nil || e.task == nil {
		return nil, domain.ErrNoActiveTask
	}
	return e.task, nil
}

// Decode unmarshals the task arguments into v.
func (e *Execution) Decode(v any) error {
	t, err := e.Task()
	if err != nil {
		return err
	}
	if len(t.Args) == 0 || string(t.Args) == "null" {
		return nil
	}
	if err := json.Unmarshal(t.Args, v); err != nil {
		return fmt.Errorf("decode args of %s: %w", t.ID, err)
	}
	return nil
}

// Dependencies returns the finished dependency records in declared order.
func (e *Execution) Dependencies(ctx context.Context) ([]domain.Task, error) {
	t, err := e.Task()
	if err != nil {
		return nil, err
	}
	return e.deps.FetchDependencies(ctx, *t)
}

// DependencyResult decodes the result of the first declared dependency into v.
func (e *Execution) DependencyResult(ctx context.Context, v any) error {
	deps, err := e.Dependencies(ctx)
	if err != nil {
		return err
	}
	if len(deps) == 0 {
		return fmt.Errorf("%w: %s has no dependencies", domain.ErrDependencyMissing, e.task.ID)
	}
	if err := json.Unmarshal(deps[0].Result, v); err != nil {
		return fmt.Errorf("decode result of %s: %w", deps[0].ID, err)
	}
	return nil
}

// AppendProgress writes payload to the task's own progress stream. A plain
// string is wrapped as {"progress": msg}.
func (e *Execution) AppendProgress(ctx context.Context, payload any) error {
	return e.AppendProgressTo(ctx, "", payload)
}

func (e *Execution) AppendProgressTo(ctx context.Context, streamID string, payload any) error {
	t, err := e.Task()
	if err != nil {
		return err
	}
	if streamID == "" {
		streamID = t.EventsID()
	}
	if msg, ok := payload.(string); ok {
		payload = domain.Progress{Progress: msg}
	}
	if _, err := e.events.Append(ctx, streamID, payload); err != nil {
		return err
	}
	metrics.ProgressEventsTotal.WithLabelValues(t.Func).Inc()
	return nil
}
