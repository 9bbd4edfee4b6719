package mq

import (
	"context"
	"errors"
)

// Handler processes one message payload. A nil return acknowledges the
// message; an error leaves it pending so it is delivered again.
type Handler func(ctx context.Context, payload []byte) error

type Queue interface {
	// Publish appends message, JSON encoded, to queue.
	Publish(ctx context.Context, queue string, message interface{}) error
	// Consume feeds messages of queue to handler until ctx is cancelled.
	Consume(ctx context.Context, queue string, handler Handler) error
	Close() error
}

var (
	ErrNotConnected   = errors.New("queue not reachable")
	ErrMissingPayload = errors.New("message without payload")
)
