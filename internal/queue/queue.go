// Package queue provides the Redis-backed work queue between the ingest and
// classify stages. Article IDs travel through it, never article bodies.
package queue

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetterSuffix is appended to the queue key for messages that failed
// processing and should not be retried automatically.
const DeadLetterSuffix = ":failed"

// Queue is a FIFO list of article IDs in Redis.
type Queue struct {
	rdb *redis.Client
	key string
}

// New creates a queue on the given Redis client and list key.
func New(rdb *redis.Client, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

// Push enqueues an article ID.
func (q *Queue) Push(ctx context.Context, articleID int64) error {
	return q.rdb.LPush(ctx, q.key, strconv.FormatInt(articleID, 10)).Err()
}

// Pop blocks up to timeout waiting for the next article ID. Returns
// redis.Nil wrapped when the timeout elapses with an empty queue.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (int64, error) {
	result, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(result[1], 10, 64)
}

// IsEmpty reports whether a Pop error means the queue was empty at timeout
// rather than a transport failure.
func IsEmpty(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Fail moves an article ID onto the dead-letter list for later inspection.
func (q *Queue) Fail(ctx context.Context, articleID int64) error {
	return q.rdb.LPush(ctx, q.key+DeadLetterSuffix, strconv.FormatInt(articleID, 10)).Err()
}

// Len returns the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
