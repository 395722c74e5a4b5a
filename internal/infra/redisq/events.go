package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"jobstream/internal/domain"
	"jobstream/internal/ports"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ ports.EventStore = (*EventStore)(nil)

// EventStore keeps job progress in one Redis stream per job. Each entry has a
// single field "data" holding a JSON document.
type EventStore struct {
	Rdb *redis.Client
}

func NewEventStore(rdb *redis.Client) *EventStore {
	return &EventStore{Rdb: rdb}
}

func (s *EventStore) Append(ctx context.Context, streamID string, payload any) (string, error) {
	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("encode progress for %s: %w", streamID, err)
		}
		data = b
	}

	id, err := s.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: domain.EventsKey(streamID),
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append progress to %s: %w", streamID, err)
	}
	return id, nil
}

func (s *EventStore) Range(ctx context.Context, streamID, afterID string) ([]domain.Event, error) {
	start := "-"
	if !fromBeginning(afterID) {
		start = afterID
	}

	msgs, err := s.Rdb.XRange(ctx, domain.EventsKey(streamID), start, "+").Result()
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == afterID {
			continue
		}
		events = append(events, toEvent(m))
	}
	return events, nil
}

func (s *EventStore) Read(ctx context.Context, streamID, afterID string, block time.Duration, count int64) ([]domain.Event, error) {
	if fromBeginning(afterID) {
		afterID = "0-0"
	}

	res, err := s.Rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{domain.EventsKey(streamID), afterID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var events []domain.Event
	for _, st := range res {
		for _, m := range st.Messages {
			events = append(events, toEvent(m))
		}
	}
	return events, nil
}

func toEvent(m redis.XMessage) domain.Event {
	data, _ := m.Values["data"].(string)
	return domain.Event{ID: m.ID, Data: data}
}

// fromBeginning also covers ids Redis would reject, so a bad cursor replays
// the whole stream instead of failing every read.
func fromBeginning(id string) bool {
	return id == "" || id == "0" || id == "0-0" || !domain.ValidEventID(id)
}
