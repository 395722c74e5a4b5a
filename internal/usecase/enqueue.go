package usecase

import (
	"context"
	"jobstream/internal/domain"
	"jobstream/internal/metrics"
	"jobstream/internal/ports"
)

type Enqueuer struct {
	Q ports.Queue
}

func (e Enqueuer) Now(ctx context.Context, req domain.EnqueueRequest) (string, error) {
	id, err := e.Q.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	metrics.TasksEnqueuedTotal.WithLabelValues(req.Queue, req.Func).Inc()
	return id, nil
}

// After records req so that it only becomes runnable once every task in deps
// has finished.
func (e Enqueuer) After(ctx context.Context, req domain.EnqueueRequest, deps ...string) (string, error) {
	req.DependsOn = append(req.DependsOn, deps...)
	return e.Now(ctx, req)
}
