package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps task bodies in a hash and their schedule in a sorted set
// scored by due time in milliseconds.
//
//	<prefix>due       ZSET  id -> scheduled_for
//	<prefix>task      HASH  id -> JSON body
//	<prefix>attempts  HASH  id -> claim count
type RedisQueue struct {
	client      redis.UniversalClient
	dueKey      string
	taskKey     string
	attemptsKey string
}

// NewRedisQueue builds a queue under prefix, e.g. "kycflow:tasks:".
func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "kycflow:tasks:"
	}
	return &RedisQueue{
		client:      client,
		dueKey:      prefix + "due",
		taskKey:     prefix + "task",
		attemptsKey: prefix + "attempts",
	}
}

var enqueueScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[2], ARGV[1], ARGV[2]) == 1 then
	redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
	redis.call("HSET", KEYS[3], ARGV[1], 0)
	return 1
end
return 0
`)

// claimScript picks the earliest due id, bumps its attempts and pushes its
// score out by the lease in one step.
var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
local attempts = redis.call("HINCRBY", KEYS[3], id, 1)
redis.call("ZADD", KEYS[1], ARGV[2], id)
return {id, redis.call("HGET", KEYS[2], id), attempts}
`)

var rescheduleScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[2], ARGV[1]) == 1 then
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
end
return 0
`)

type redisTask struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func (q *RedisQueue) keys() []string {
	return []string{q.dueKey, q.taskKey, q.attemptsKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	body, err := json.Marshal(redisTask{ID: t.ID, Kind: t.Kind, Payload: t.Payload, EnqueuedAt: t.EnqueuedAt})
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := enqueueScript.Run(ctx, q.client, q.keys(), t.ID, body, t.ScheduledFor.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, lease time.Duration) (*Task, error) {
	leased := now.Add(lease)
	res, err := claimScript.Run(ctx, q.client, q.keys(), now.UnixMilli(), leased.UnixMilli()).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("claim task: unexpected reply %v", res)
	}
	body, _ := res[1].(string)
	var rt redisTask
	if err := json.Unmarshal([]byte(body), &rt); err != nil {
		return nil, fmt.Errorf("decode task %v: %w", res[0], err)
	}
	attempts, err := toInt(res[2])
	if err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}
	return &Task{
		ID:           rt.ID,
		Kind:         rt.Kind,
		Payload:      rt.Payload,
		ScheduledFor: time.UnixMilli(leased.UnixMilli()).UTC(),
		Attempts:     attempts,
		EnqueuedAt:   rt.EnqueuedAt,
	}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.dueKey, id)
		p.HDel(ctx, q.taskKey, id)
		p.HDel(ctx, q.attemptsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack task %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Reschedule(ctx context.Context, id string, at time.Time) error {
	if err := rescheduleScript.Run(ctx, q.client, q.keys(), id, at.UnixMilli()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reschedule task %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.dueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return int(n), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}
