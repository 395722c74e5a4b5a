package usecase

import (
	"context"
	"iter"
	"jobstream/internal/domain"
	"jobstream/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

// Frame is one unit of a progress subscription: either a stored event or a
// keepalive emitted after a poll window passed without new entries.
type Frame struct {
	Event     domain.Event
	Keepalive bool
}

type Subscriber struct {
	Events     ports.EventStore
	PollWindow time.Duration
	BatchSize  int64
}

// Subscribe replays every event stored after lastID and then tails the stream.
// Nothing is read until the sequence is iterated; iteration ends when ctx is
// done, the consumer stops, or a read fails. Resuming with the last delivered
// id continues without loss or duplication. Entries that are not valid JSON
// are skipped but still advance the cursor.
func (s Subscriber) Subscribe(ctx context.Context, streamID, lastID string) iter.Seq2[Frame, error] {
	window := s.PollWindow
	if window <= 0 {
		window = 15 * time.Second
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = 10
	}

	return func(yield func(Frame, error) bool) {
		logger := log.Ctx(ctx).With().Str("stream_id", streamID).Logger()
		cursor := lastID

		emit := func(events []domain.Event) bool {
			for _, ev := range events {
				cursor = ev.ID
				if !ev.Valid() {
					logger.Warn().Str("event_id", ev.ID).Msg("skipping malformed progress entry")
					continue
				}
				if !yield(Frame{Event: ev}, nil) {
					return false
				}
			}
			return true
		}

		replay, err := s.Events.Range(ctx, streamID, cursor)
		if err != nil {
			yield(Frame{}, err)
			return
		}
		if !emit(replay) {
			return
		}

		for ctx.Err() == nil {
			events, err := s.Events.Read(ctx, streamID, cursor, window, batch)
			if err != nil {
				if ctx.Err() == nil {
					yield(Frame{}, err)
				}
				return
			}
			if len(events) == 0 {
				if !yield(Frame{Keepalive: true}, nil) {
					return
				}
				continue
			}
			if !emit(events) {
				return
			}
		}
	}
}
