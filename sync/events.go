package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/region-cache/types"
)

const eventField = "event"

// DomainEvent is an alias for types.DomainEvent
type DomainEvent = types.DomainEvent

// EventHandler processes one domain event. A returned error leaves the event
// pending so it is delivered again.
type EventHandler func(ctx context.Context, event DomainEvent) error

// StreamBus carries domain events over a Redis stream read through a
// consumer group. Every event is handled by one consumer of the group at
// least once; handlers must be idempotent.
type StreamBus struct {
	client   redis.UniversalClient
	stream   string
	group    string
	consumer string
	block    time.Duration
	batch    int64
	maxLen   int64
	retry    time.Duration
	idle     time.Duration
	onError  func(error)
}

// BusOption configures a StreamBus.
type BusOption func(*StreamBus)

// WithBlock sets how long one read waits for new events.
func WithBlock(d time.Duration) BusOption {
	return func(b *StreamBus) {
		if d > 0 {
			b.block = d
		}
	}
}

// WithBatch sets the maximum number of events fetched per read.
func WithBatch(n int64) BusOption {
	return func(b *StreamBus) {
		if n > 0 {
			b.batch = n
		}
	}
}

// WithMaxLen approximately caps the stream length on publish. 0 disables trimming.
func WithMaxLen(n int64) BusOption {
	return func(b *StreamBus) { b.maxLen = n }
}

// WithRetryInterval sets how long failed events wait before redelivery.
func WithRetryInterval(d time.Duration) BusOption {
	return func(b *StreamBus) {
		if d > 0 {
			b.retry = d
		}
	}
}

// WithClaimIdle sets how long an event may sit unacknowledged with another
// consumer of the group before this consumer claims it. Consumers that die
// with events pending, or restart under a new name, lose them to the group
// this way. 0 disables claiming.
func WithClaimIdle(d time.Duration) BusOption {
	return func(b *StreamBus) { b.idle = d }
}

// WithErrorHandler receives handler and transport errors seen while consuming.
func WithErrorHandler(fn func(error)) BusOption {
	return func(b *StreamBus) { b.onError = fn }
}

// NewStreamBus creates a bus on stream. consumer names this process within
// group. A stable name re-reads its own pending events on restart; under a
// new name they are claimed once idle for the claim idle time.
func NewStreamBus(client redis.UniversalClient, stream, group, consumer string, opts ...BusOption) *StreamBus {
	b := &StreamBus{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    2 * time.Second,
		batch:    64,
		maxLen:   100000,
		retry:    time.Second,
		idle:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends event to the stream.
func (b *StreamBus) Publish(ctx context.Context, event DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{eventField: string(data)},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: publish to %s: %w", types.ErrRemoteUnavailable, b.stream, err)
	}
	return nil
}

// EnsureGroup creates the consumer group, and the stream, if missing. A new
// group starts at the beginning of the stream.
func (b *StreamBus) EnsureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group %s: %w", types.ErrRemoteUnavailable, b.group, err)
	}
	return nil
}

// Consume delivers events to handler until ctx is done. It first re-reads
// events this consumer received but never acknowledged. Events whose handler
// fails stay pending and are retried after the retry interval. Events left
// pending by any consumer for longer than the claim idle time are claimed
// and handled here. Events that cannot be parsed are acknowledged and
// reported.
func (b *StreamBus) Consume(ctx context.Context, handler EventHandler) error {
	if err := b.EnsureGroup(ctx); err != nil {
		return err
	}

	cursor := "0"
	retryPending := false
	var lastPass, lastClaim time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}
		if cursor == "" && b.idle > 0 && time.Since(lastClaim) >= b.idle/2 {
			lastClaim = time.Now()
			failed, err := b.claim(ctx, handler)
			if failed {
				retryPending = true
			}
			if err != nil && ctx.Err() == nil {
				b.report(err)
			}
		}
		if cursor == "" && retryPending && time.Since(lastPass) >= b.retry {
			cursor, retryPending = "0", false
		}

		id := ">"
		block := b.block
		if cursor != "" {
			id = cursor
			block = -1
		} else {
			if retryPending && b.retry < block {
				block = b.retry
			}
			if b.idle/2 >= time.Millisecond && b.idle/2 < block {
				block = b.idle / 2
			}
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  []string{b.stream, id},
			Count:    b.batch,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			b.report(fmt.Errorf("%w: read %s: %w", types.ErrRemoteUnavailable, b.stream, err))
			if !sleep(ctx, b.retry) {
				return nil
			}
			continue
		}

		var messages []redis.XMessage
		for _, s := range streams {
			messages = append(messages, s.Messages...)
		}
		if cursor != "" && len(messages) == 0 {
			cursor = ""
			lastPass = time.Now()
			continue
		}

		for _, msg := range messages {
			if cursor != "" {
				cursor = msg.ID
			}
			if !b.process(ctx, msg, handler) {
				retryPending = true
			}
		}
	}
}

// process handles and acknowledges msg. It reports false when msg stays
// pending.
func (b *StreamBus) process(ctx context.Context, msg redis.XMessage, handler EventHandler) bool {
	if err := b.handle(ctx, msg, handler); err != nil {
		b.report(err)
		return false
	}
	if err := b.client.XAck(ctx, b.stream, b.group, msg.ID).Err(); err != nil {
		b.report(fmt.Errorf("%w: ack %s: %w", types.ErrRemoteUnavailable, msg.ID, err))
		return false
	}
	return true
}

// claim moves events idle for at least the claim idle time to this consumer
// and handles them. failed reports whether any of them stays pending.
func (b *StreamBus) claim(ctx context.Context, handler EventHandler) (failed bool, err error) {
	start := "0-0"
	for ctx.Err() == nil {
		messages, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.stream,
			Group:    b.group,
			Consumer: b.consumer,
			MinIdle:  b.idle,
			Start:    start,
			Count:    b.batch,
		}).Result()
		if err != nil {
			return failed, fmt.Errorf("%w: claim on %s: %w", types.ErrRemoteUnavailable, b.stream, err)
		}
		for _, msg := range messages {
			if !b.process(ctx, msg, handler) {
				failed = true
			}
		}
		if next == "" || next == "0-0" {
			return failed, nil
		}
		start = next
	}
	return failed, nil
}

func (b *StreamBus) handle(ctx context.Context, msg redis.XMessage, handler EventHandler) error {
	raw, _ := msg.Values[eventField].(string)
	var event DomainEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		b.report(fmt.Errorf("sync: dropping malformed event %s: %w", msg.ID, err))
		return nil
	}
	if err := handler(ctx, event); err != nil {
		return fmt.Errorf("sync: handle event %s (%s): %w", msg.ID, event.MutationKind, err)
	}
	return nil
}

func (b *StreamBus) report(err error) {
	if b.onError != nil {
		b.onError(err)
	}
}

// Close is a no-op; the client belongs to the caller.
func (b *StreamBus) Close() error { return nil }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
