// Package worker holds the background pieces of the retention engine: the
// per-member send counters backing cap enforcement and the periodic sweep
// loop that drives recalculation without an operator.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageCounts is the persistence fallback for send counting. The messages
// table is the source of truth; Redis is a fast cache in front of it.
type MessageCounts interface {
	// CountMessagesSince returns how many messages were queued for the member
	// at or after each boundary.
	CountMessagesSince(ctx context.Context, orgID, memberID string, dayStart, weekStart time.Time) (day int, week int, err error)
}

// Lua script incrementing the day and week counters atomically, setting TTLs
// on first increment so abandoned keys expire on their own.
const recordSendLuaScript = `
local dayKey = KEYS[1]
local weekKey = KEYS[2]
local dayTTL = tonumber(ARGV[1])
local weekTTL = tonumber(ARGV[2])

local newDay = redis.call("INCR", dayKey)
if newDay == 1 then
    redis.call("EXPIRE", dayKey, dayTTL)
end

local newWeek = redis.call("INCR", weekKey)
if newWeek == 1 then
    redis.call("EXPIRE", weekKey, weekTTL)
end

return {newDay, newWeek}
`

// SendCounter tracks per-member outbound message counts per local day and
// local ISO week. A nil Redis client or a Redis failure degrades to counting
// rows in the message store.
type SendCounter struct {
	redis      *redis.Client
	fallback   MessageCounts
	recordSend *redis.Script
}

// NewSendCounter creates a counter. redisClient may be nil to run purely on
// the fallback store.
func NewSendCounter(redisClient *redis.Client, fallback MessageCounts) *SendCounter {
	return &SendCounter{
		redis:      redisClient,
		fallback:   fallback,
		recordSend: redis.NewScript(recordSendLuaScript),
	}
}

func dayKey(orgID, memberID string, nowLocal time.Time) string {
	return fmt.Sprintf("retention:sendcount:%s:%s:day:%s", orgID, memberID, nowLocal.Format("2006-01-02"))
}

func weekKey(orgID, memberID string, nowLocal time.Time) string {
	year, week := nowLocal.ISOWeek()
	return fmt.Sprintf("retention:sendcount:%s:%s:week:%d-W%02d", orgID, memberID, year, week)
}

// SentCounts returns the member's send counts for the local day and ISO week
// containing nowLocal.
func (c *SendCounter) SentCounts(ctx context.Context, orgID, memberID string, nowLocal time.Time) (int, int, error) {
	if c.redis != nil {
		vals, err := c.redis.MGet(ctx, dayKey(orgID, memberID, nowLocal), weekKey(orgID, memberID, nowLocal)).Result()
		if err == nil && len(vals) == 2 {
			return parseCount(vals[0]), parseCount(vals[1]), nil
		}
		if err != nil {
			log.Printf("[SendCounter] Redis read failed, falling back to store: %v", err)
		}
	}
	return c.fallback.CountMessagesSince(ctx, orgID, memberID, startOfDay(nowLocal), startOfISOWeek(nowLocal))
}

// RecordSend increments both counters atomically. When Redis is unavailable
// this is a no-op; the fallback store counts message rows directly.
func (c *SendCounter) RecordSend(ctx context.Context, orgID, memberID string, nowLocal time.Time) error {
	if c.redis == nil {
		return nil
	}
	keys := []string{dayKey(orgID, memberID, nowLocal), weekKey(orgID, memberID, nowLocal)}
	// Day keys live two days, week keys nine, covering timezone skew.
	err := c.recordSend.Run(ctx, c.redis, keys, 2*24*3600, 9*24*3600).Err()
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}

func parseCount(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n := 0
	fmt.Sscanf(s, "%d", &n)
	return n
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfISOWeek(t time.Time) time.Time {
	day := startOfDay(t)
	wd := int(day.Weekday())
	if wd == 0 {
		wd = 7 // Sunday
	}
	return day.AddDate(0, 0, -(wd - 1))
}
