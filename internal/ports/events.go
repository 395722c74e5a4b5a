package ports

import (
	"context"
	"jobstream/internal/domain"
	"time"
)

type EventStore interface {
	Append(ctx context.Context, streamID string, payload any) (string, error)
	// Range returns every entry after afterID ("" or "0" for the beginning).
	Range(ctx context.Context, streamID, afterID string) ([]domain.Event, error)
	// Read blocks up to block for entries after afterID. An empty result means
	// the window elapsed.
	Read(ctx context.Context, streamID, afterID string, block time.Duration, count int64) ([]domain.Event, error)
}
