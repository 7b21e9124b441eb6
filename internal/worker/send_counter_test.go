package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCounts struct {
	day, week int
	called    bool
}

func (s *stubCounts) CountMessagesSince(_ context.Context, _, _ string, _, _ time.Time) (int, int, error) {
	s.called = true
	return s.day, s.week, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestSendCounter_RecordAndRead(t *testing.T) {
	client := newTestRedis(t)
	counter := NewSendCounter(client, &stubCounts{})
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	day, week, err := counter.SentCounts(ctx, "org-1", "m-1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, day)
	assert.Equal(t, 0, week)

	for i := 0; i < 3; i++ {
		require.NoError(t, counter.RecordSend(ctx, "org-1", "m-1", now))
	}

	day, week, err = counter.SentCounts(ctx, "org-1", "m-1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, day)
	assert.Equal(t, 3, week)
}

func TestSendCounter_DayRollsOverWithinWeek(t *testing.T) {
	client := newTestRedis(t)
	counter := NewSendCounter(client, &stubCounts{})
	ctx := context.Background()

	// Wednesday and Thursday of the same ISO week.
	wed := time.Date(2026, 4, 1, 22, 0, 0, 0, time.UTC)
	thu := wed.AddDate(0, 0, 1)

	require.NoError(t, counter.RecordSend(ctx, "org-1", "m-1", wed))
	require.NoError(t, counter.RecordSend(ctx, "org-1", "m-1", thu))

	day, week, err := counter.SentCounts(ctx, "org-1", "m-1", thu)
	require.NoError(t, err)
	assert.Equal(t, 1, day)
	assert.Equal(t, 2, week)
}

func TestSendCounter_MembersAreIsolated(t *testing.T) {
	client := newTestRedis(t)
	counter := NewSendCounter(client, &stubCounts{})
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, counter.RecordSend(ctx, "org-1", "m-1", now))

	day, week, err := counter.SentCounts(ctx, "org-1", "m-2", now)
	require.NoError(t, err)
	assert.Equal(t, 0, day)
	assert.Equal(t, 0, week)
}

func TestSendCounter_FallsBackWithoutRedis(t *testing.T) {
	stub := &stubCounts{day: 2, week: 7}
	counter := NewSendCounter(nil, stub)

	day, week, err := counter.SentCounts(context.Background(), "org-1", "m-1", time.Now())
	require.NoError(t, err)
	assert.True(t, stub.called)
	assert.Equal(t, 2, day)
	assert.Equal(t, 7, week)

	// RecordSend is a no-op without Redis.
	assert.NoError(t, counter.RecordSend(context.Background(), "org-1", "m-1", time.Now()))
}

func TestStartOfISOWeek(t *testing.T) {
	// Sunday 2026-04-05 belongs to the week starting Monday 2026-03-30.
	sun := time.Date(2026, 4, 5, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC), startOfISOWeek(sun))

	mon := time.Date(2026, 3, 30, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC), startOfISOWeek(mon))
}
