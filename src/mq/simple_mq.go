// Package mq is a durable at-least-once queue on Redis Streams. Each queue
// is one stream read through a consumer group; a message stays pending until
// its handler succeeds, and pending messages idle for longer than
// ClaimMinIdle are claimed again.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/newsrelay/src/enum"
	"github.com/andrewyi/newsrelay/src/util"
)

const (
	PayloadField = "payload"

	defaultGroup        = "newsrelay"
	defaultBlockTimeout = 5 * time.Second
	defaultClaimMinIdle = time.Minute
	defaultBatchSize    = 10
	maxPendingCheck     = 100
)

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Group    string

	ConnectRetries int
	ConnectDelay   time.Duration
	BlockTimeout   time.Duration
	ClaimMinIdle   time.Duration
}

type SimpleQueue struct {
	logger  *log.Logger
	backend streams
	opts    Options

	consumerID string
	sleep      func(context.Context, time.Duration) error
}

// Connect opens the queue, pinging up to ConnectRetries times ConnectDelay
// apart. ErrNotConnected is returned when every attempt failed.
func Connect(ctx context.Context, opts Options, logger *log.Logger) (*SimpleQueue, error) {
	q := newSimpleQueue(newRedisStreams(opts.Addr, opts.Password, opts.DB), opts, logger)
	if err := q.connect(ctx); err != nil {
		_ = q.backend.Close()
		return nil, err
	}
	return q, nil
}

func newSimpleQueue(backend streams, opts Options, logger *log.Logger) *SimpleQueue {
	if opts.Prefix == "" {
		opts.Prefix = defaultGroup
	}
	if opts.Group == "" {
		opts.Group = defaultGroup
	}
	if opts.ConnectRetries <= 0 {
		opts.ConnectRetries = enum.DefaultConnectRetries
	}
	if opts.ConnectDelay <= 0 {
		opts.ConnectDelay = enum.DefaultConnectDelay
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = defaultBlockTimeout
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = defaultClaimMinIdle
	}
	return &SimpleQueue{
		logger:     logger,
		backend:    backend,
		opts:       opts,
		consumerID: uuid.NewString(),
		sleep:      util.SleepContext,
	}
}

func (q *SimpleQueue) connect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= q.opts.ConnectRetries; attempt++ {
		if err = q.backend.Ping(ctx); err == nil {
			q.logger.WithField("addr", q.opts.Addr).Info("connected to queue")
			return nil
		}
		q.logger.WithError(err).WithField("attempt", attempt).Warn("fail to connect to queue")
		if attempt == q.opts.ConnectRetries {
			break
		}
		if serr := q.sleep(ctx, q.opts.ConnectDelay); serr != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrNotConnected, q.opts.ConnectRetries, err)
}

// StreamName is the stream key backing queue.
func (q *SimpleQueue) StreamName(queue string) string {
	return q.opts.Prefix + ":" + queue
}

func (q *SimpleQueue) Publish(ctx context.Context, queue string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", queue, err)
	}
	stream := q.StreamName(queue)
	id, err := q.backend.XAdd(ctx, stream, map[string]interface{}{
		PayloadField: string(data),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	q.logger.WithField("stream", stream).WithField("id", id).Debug("message published")
	return nil
}

// Consume blocks until ctx is cancelled. Read errors are logged and retried;
// only a failure to set up the consumer group is returned.
func (q *SimpleQueue) Consume(ctx context.Context, queue string, handler Handler) error {
	stream := q.StreamName(queue)
	if err := q.backend.CreateGroup(ctx, stream, q.opts.Group); err != nil {
		return err
	}
	logger := q.logger.WithField("stream", stream).WithField("consumer", q.consumerID)
	logger.Info("consuming")

	for ctx.Err() == nil {
		for _, msg := range q.reclaim(ctx, stream) {
			q.dispatch(ctx, stream, msg, handler)
		}

		messages, err := q.backend.XReadGroup(ctx, q.opts.Group, q.consumerID, stream, defaultBatchSize, q.opts.BlockTimeout)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.WithError(err).Error("fail to read from queue")
			_ = q.sleep(ctx, q.opts.BlockTimeout)
			continue
		}
		for _, msg := range messages {
			q.dispatch(ctx, stream, msg, handler)
		}
	}
	return nil
}

// reclaim claims messages that stayed pending longer than ClaimMinIdle,
// whichever consumer they were delivered to.
func (q *SimpleQueue) reclaim(ctx context.Context, stream string) []redis.XMessage {
	pending, err := q.backend.XPendingExt(ctx, stream, q.opts.Group, maxPendingCheck)
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			q.logger.WithError(err).WithField("stream", stream).Warn("fail to list pending messages")
		}
		return nil
	}

	var ids []string
	for _, entry := range pending {
		if entry.Idle >= q.opts.ClaimMinIdle {
			ids = append(ids, entry.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := q.backend.XClaim(ctx, stream, q.opts.Group, q.consumerID, q.opts.ClaimMinIdle, ids...)
	if err != nil {
		q.logger.WithError(err).WithField("stream", stream).Warn("fail to claim pending messages")
		return nil
	}
	return claimed
}

func (q *SimpleQueue) dispatch(ctx context.Context, stream string, msg redis.XMessage, handler Handler) {
	logger := q.logger.WithField("stream", stream).WithField("id", msg.ID)

	payload, ok := msg.Values[PayloadField].(string)
	if !ok {
		// would never succeed, drop it
		logger.WithError(ErrMissingPayload).Error("drop malformed message")
		q.ack(ctx, stream, msg.ID)
		return
	}

	if err := handler(ctx, []byte(payload)); err != nil {
		logger.WithError(err).Error("fail to handle message, left for redelivery")
		return
	}
	q.ack(ctx, stream, msg.ID)
}

func (q *SimpleQueue) ack(ctx context.Context, stream, id string) {
	if err := q.backend.XAck(ctx, stream, q.opts.Group, id); err != nil {
		q.logger.WithError(err).WithField("stream", stream).WithField("id", id).Error("fail to ack message")
	}
}

func (q *SimpleQueue) Close() error {
	return q.backend.Close()
}
