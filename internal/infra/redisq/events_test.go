package redisq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"jobstream/internal/domain"
	"jobstream/internal/testutil"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestEventStore(t *testing.T) *EventStore {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	return NewEventStore(rdb)
}

func TestAppendWritesDataField(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, "job-1", domain.Progress{Progress: "Crawling page"})
	require.NoError(t, err)

	msgs, err := s.Rdb.XRange(ctx, "job:job-1:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)
	require.JSONEq(t, `{"progress":"Crawling page"}`, msgs[0].Values["data"].(string))
}

func TestRangeIsOrderedAndRepeatable(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	var ids []string
	for _, msg := range []string{"one", "two", "three"} {
		id, err := s.Append(ctx, "job-1", domain.Progress{Progress: msg})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	first, err := s.Range(ctx, "job-1", "")
	require.NoError(t, err)
	require.Len(t, first, 3)
	for i, ev := range first {
		require.Equal(t, ids[i], ev.ID)
		if i > 0 {
			require.Less(t, first[i-1].ID, ev.ID)
		}
	}

	second, err := s.Range(ctx, "job-1", "0")
	require.NoError(t, err)
	require.Equal(t, first, second)

	tail, err := s.Range(ctx, "job-1", ids[0])
	require.NoError(t, err)
	require.Equal(t, first[1:], tail)
}

func TestRawPayloadIsStoredVerbatim(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "job-1", json.RawMessage(`{"status":"done"}`))
	require.NoError(t, err)

	events, err := s.Range(ctx, "job-1", "")
	require.NoError(t, err)
	require.Equal(t, `{"status":"done"}`, events[0].Data)
	require.True(t, events[0].Valid())
}

func TestMalformedEntriesAreReturnedInvalid(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "job:job-1:events",
		Values: map[string]interface{}{"data": "not json"},
	}).Err())
	require.NoError(t, s.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "job:job-1:events",
		Values: map[string]interface{}{"other": "x"},
	}).Err())

	events, err := s.Range(ctx, "job-1", "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.False(t, events[0].Valid())
	require.False(t, events[1].Valid())
}

func TestReadReturnsOnlyNewerEntries(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	first, err := s.Append(ctx, "job-1", domain.Progress{Progress: "one"})
	require.NoError(t, err)
	second, err := s.Append(ctx, "job-1", domain.Progress{Progress: "two"})
	require.NoError(t, err)

	events, err := s.Read(ctx, "job-1", first, 10*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, second, events[0].ID)

	events, err = s.Read(ctx, "job-1", second, 10*time.Millisecond, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestReadFromBeginningOnEmptyStream(t *testing.T) {
	s := newTestEventStore(t)

	events, err := s.Read(context.Background(), "job-1", "", 10*time.Millisecond, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestMalformedCursorReadsFromBeginning(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, "job-1", domain.Progress{Progress: "one"})
	require.NoError(t, err)

	events, err := s.Range(ctx, "job-1", "garbage")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, id, events[0].ID)

	events, err = s.Read(ctx, "job-1", "garbage", 10*time.Millisecond, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestNonObjectPayloadIsInvalid(t *testing.T) {
	s := newTestEventStore(t)
	ctx := context.Background()

	for _, data := range []string{`123`, `"x"`} {
		require.NoError(t, s.Rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: "job:job-1:events",
			Values: map[string]interface{}{"data": data},
		}).Err())
	}

	events, err := s.Range(ctx, "job-1", "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		require.False(t, ev.Valid(), ev.Data)
	}
}
