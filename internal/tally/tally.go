// Package tally keeps live per-class attendance counts in Redis.
package tally

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"classattend/internal/attendance"
	"classattend/internal/queue"
)

// Counts maps a status to the number of records with it.
type Counts map[attendance.Status]int64

// Tally stores counts under attendance:tally:<classID>.
type Tally struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a tally whose keys expire ttl after the last update.
func New(client *redis.Client, ttl time.Duration) *Tally {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Tally{client: client, ttl: ttl}
}

func countsKey(classID string) string   { return "attendance:tally:" + classID }
func statusesKey(classID string) string { return "attendance:tally:" + classID + ":status" }

// recordScript counts a record under its status unless the record was
// already applied. KEYS: counts, statuses. ARGV: record id, status, ttl.
var recordScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[2], ARGV[1], ARGV[2]) == 1 then
	redis.call("HINCRBY", KEYS[1], ARGV[2], 1)
end
redis.call("EXPIRE", KEYS[1], ARGV[3])
redis.call("EXPIRE", KEYS[2], ARGV[3])
return 0
`)

// correctScript moves a record from its last applied status to the new one.
// A correction for an unseen record counts it directly, so a late recorded
// event becomes a no-op.
var correctScript = redis.NewScript(`
local prev = redis.call("HGET", KEYS[2], ARGV[1])
if prev ~= ARGV[2] then
	if prev then
		redis.call("HINCRBY", KEYS[1], prev, -1)
	end
	redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
	redis.call("HINCRBY", KEYS[1], ARGV[2], 1)
end
redis.call("EXPIRE", KEYS[1], ARGV[3])
redis.call("EXPIRE", KEYS[2], ARGV[3])
return 0
`)

// Recorded counts a new record once, even if the event is delivered twice
// or after a correction of the same record.
func (t *Tally) Recorded(ctx context.Context, rec attendance.Record) error {
	err := recordScript.Run(ctx, t.client,
		[]string{countsKey(rec.ClassID), statusesKey(rec.ClassID)},
		rec.ID, string(rec.Status), int64(t.ttl.Seconds())).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("tally: record: %w", err)
	}
	return nil
}

// Corrected moves one record to its corrected status. Redelivery is a no-op.
func (t *Tally) Corrected(ctx context.Context, c attendance.Correction) error {
	rec := c.Record
	err := correctScript.Run(ctx, t.client,
		[]string{countsKey(rec.ClassID), statusesKey(rec.ClassID)},
		rec.ID, string(rec.Status), int64(t.ttl.Seconds())).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("tally: correct: %w", err)
	}
	return nil
}

// Get returns the counts for a class. Unknown classes have no counts.
func (t *Tally) Get(ctx context.Context, classID string) (Counts, error) {
	raw, err := t.client.HGetAll(ctx, countsKey(classID)).Result()
	if err != nil {
		return nil, fmt.Errorf("tally: read: %w", err)
	}
	out := make(Counts, len(raw))
	for status, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[attendance.Status(status)] = n
	}
	return out, nil
}

// Apply updates the tally from a queue message. Unknown types are ignored.
func (t *Tally) Apply(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeAttendanceRecorded:
		var rec attendance.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			return fmt.Errorf("tally: decode record: %w", err)
		}
		return t.Recorded(ctx, rec)
	case queue.TypeAttendanceCorrected:
		var c attendance.Correction
		if err := json.Unmarshal(msg.Body, &c); err != nil {
			return fmt.Errorf("tally: decode correction: %w", err)
		}
		return t.Corrected(ctx, c)
	}
	return nil
}
