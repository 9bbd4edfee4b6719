package mq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// streams is the subset of Redis Streams commands the queue relies on.
type streams interface {
	Ping(ctx context.Context) error
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	CreateGroup(ctx context.Context, stream, group string) error
	XReadGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]redis.XMessage, error)
	XAck(ctx context.Context, stream, group string, ids ...string) error
	XPendingExt(ctx context.Context, stream, group string, count int64) ([]redis.XPendingExt, error)
	XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error)
	Close() error
}

type redisStreams struct {
	client *redis.Client
}

func newRedisStreams(addr, password string, db int) *redisStreams {
	return &redisStreams{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (r *redisStreams) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisStreams) XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

// CreateGroup creates group reading stream from its beginning. An existing
// group is not an error.
func (r *redisStreams) CreateGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (r *redisStreams) XReadGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		return nil, err
	}
	var messages []redis.XMessage
	for _, s := range res {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (r *redisStreams) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return r.client.XAck(ctx, stream, group, ids...).Err()
}

func (r *redisStreams) XPendingExt(ctx context.Context, stream, group string, count int64) ([]redis.XPendingExt, error) {
	return r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

func (r *redisStreams) XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error) {
	return r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

func (r *redisStreams) Close() error {
	return r.client.Close()
}
