package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pendingEntry struct {
	consumer  string
	delivered time.Time
	count     int64
}

// fakeStreams keeps streams in memory with a single consumer group.
type fakeStreams struct {
	mu       sync.Mutex
	pingErr  error
	pings    int
	seq      int
	messages map[string][]redis.XMessage
	cursor   map[string]int
	pending  map[string]map[string]*pendingEntry
	acked    []string
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		messages: make(map[string][]redis.XMessage),
		cursor:   make(map[string]int),
		pending:  make(map[string]map[string]*pendingEntry),
	}
}

func (f *fakeStreams) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeStreams) XAdd(_ context.Context, stream string, values map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := strconv.Itoa(f.seq) + "-0"
	f.messages[stream] = append(f.messages[stream], redis.XMessage{ID: id, Values: values})
	return id, nil
}

func (f *fakeStreams) CreateGroup(_ context.Context, stream, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending[stream] == nil {
		f.pending[stream] = make(map[string]*pendingEntry)
	}
	return nil
}

func (f *fakeStreams) XReadGroup(ctx context.Context, _, consumer, stream string, count int64, block time.Duration) ([]redis.XMessage, error) {
	f.mu.Lock()
	all := f.messages[stream]
	start := f.cursor[stream]
	if start >= len(all) {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(block):
		}
		return nil, redis.Nil
	}
	end := start + int(count)
	if end > len(all) {
		end = len(all)
	}
	out := append([]redis.XMessage(nil), all[start:end]...)
	f.cursor[stream] = end
	for _, m := range out {
		f.pending[stream][m.ID] = &pendingEntry{consumer: consumer, delivered: time.Now(), count: 1}
	}
	f.mu.Unlock()
	return out, nil
}

func (f *fakeStreams) XAck(_ context.Context, stream, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.pending[stream], id)
		f.acked = append(f.acked, id)
	}
	return nil
}

func (f *fakeStreams) XPendingExt(_ context.Context, stream, _ string, _ int64) ([]redis.XPendingExt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []redis.XPendingExt
	for id, p := range f.pending[stream] {
		out = append(out, redis.XPendingExt{
			ID:         id,
			Consumer:   p.consumer,
			Idle:       time.Since(p.delivered),
			RetryCount: p.count,
		})
	}
	return out, nil
}

func (f *fakeStreams) XClaim(_ context.Context, stream, _, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []redis.XMessage
	for _, id := range ids {
		p, ok := f.pending[stream][id]
		if !ok || time.Since(p.delivered) < minIdle {
			continue
		}
		p.consumer, p.delivered = consumer, time.Now()
		p.count++
		for _, m := range f.messages[stream] {
			if m.ID == id {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (f *fakeStreams) Close() error { return nil }

func (f *fakeStreams) pendingCount(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[stream])
}

func newTestQueue(backend *fakeStreams, opts Options) *SimpleQueue {
	logger := log.New()
	logger.SetOutput(io.Discard)
	q := newSimpleQueue(backend, opts, logger)
	q.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return q
}

func TestConnectRetriesThenFails(t *testing.T) {
	backend := newFakeStreams()
	backend.pingErr = errors.New("connection refused")
	q := newTestQueue(backend, Options{ConnectRetries: 4})

	err := q.connect(context.Background())

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 4, backend.pings)
}

func TestConnectSucceeds(t *testing.T) {
	backend := newFakeStreams()
	q := newTestQueue(backend, Options{})

	require.NoError(t, q.connect(context.Background()))
	assert.Equal(t, 1, backend.pings)
}

func TestPublishWritesJSONPayload(t *testing.T) {
	backend := newFakeStreams()
	q := newTestQueue(backend, Options{Prefix: "test"})

	require.NoError(t, q.Publish(context.Background(), "new_articles", map[string]string{"category_name": "Kraj"}))

	msgs := backend.messages["test:new_articles"]
	require.Len(t, msgs, 1)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values[PayloadField].(string)), &got))
	assert.Equal(t, "Kraj", got["category_name"])
}

func TestConsumeAcksHandledMessages(t *testing.T) {
	backend := newFakeStreams()
	q := newTestQueue(backend, Options{Prefix: "test", BlockTimeout: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(ctx, "jobs", i))
	}

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error)
	go func() {
		done <- q.Consume(ctx, "jobs", func(_ context.Context, payload []byte) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(payload))
			if len(got) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []string{"0", "1", "2"}, got)
	assert.Zero(t, backend.pendingCount("test:jobs"))
}

func TestConsumeRedeliversFailedMessages(t *testing.T) {
	backend := newFakeStreams()
	q := newTestQueue(backend, Options{Prefix: "test", BlockTimeout: 5 * time.Millisecond, ClaimMinIdle: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, "jobs", "flaky"))

	var calls int
	done := make(chan error)
	go func() {
		done <- q.Consume(ctx, "jobs", func(context.Context, []byte) error {
			calls++
			if calls == 1 {
				return errors.New("temporary failure")
			}
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, 2, calls)
	assert.Zero(t, backend.pendingCount("test:jobs"))
}

func TestConsumeDropsMalformedMessages(t *testing.T) {
	backend := newFakeStreams()
	q := newTestQueue(backend, Options{Prefix: "test", BlockTimeout: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = backend.XAdd(ctx, "test:jobs", map[string]interface{}{"other": "x"})
	require.NoError(t, q.Publish(ctx, "jobs", "ok"))

	done := make(chan error)
	var handled []string
	go func() {
		done <- q.Consume(ctx, "jobs", func(_ context.Context, payload []byte) error {
			handled = append(handled, string(payload))
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []string{`"ok"`}, handled)
	assert.Len(t, backend.acked, 2)
}
