package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/huykn/region-cache/types"
)

// InvalidationEvent is an alias for types.InvalidationEvent
type InvalidationEvent = types.InvalidationEvent

// InvalidationHandler receives notices published by other processes.
type InvalidationHandler func(event InvalidationEvent)

var (
	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("sync: synchronizer closed")

	errNoRegion = errors.New("sync: notice without region")
)

// PubSubSynchronizer fans local-tier eviction notices out to peer processes
// over a Redis pub/sub channel. Delivery is best effort: a notice published
// while a peer is disconnected is lost, and that peer's local tier stays
// stale until its TTL lapses.
type PubSubSynchronizer struct {
	client  redis.UniversalClient
	channel string
	podID   string
	buffer  int
	onError func(error)

	handlers atomic.Pointer[[]InvalidationHandler]

	mu     sync.Mutex
	pubsub *redis.PubSub
	stop   context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NoticeOption configures a PubSubSynchronizer.
type NoticeOption func(*PubSubSynchronizer)

// WithNoticeBuffer sets how many received notices may queue before the
// listener applies back pressure.
func WithNoticeBuffer(n int) NoticeOption {
	return func(ps *PubSubSynchronizer) {
		if n > 0 {
			ps.buffer = n
		}
	}
}

// WithNoticeErrors receives notices that could not be decoded.
func WithNoticeErrors(fn func(error)) NoticeOption {
	return func(ps *PubSubSynchronizer) { ps.onError = fn }
}

// NewPubSubSynchronizer creates a synchronizer for podID on channel. Notices
// sent by podID itself are never handed to its handlers.
func NewPubSubSynchronizer(client redis.UniversalClient, channel, podID string, opts ...NoticeOption) *PubSubSynchronizer {
	ps := &PubSubSynchronizer{
		client:  client,
		channel: channel,
		podID:   podID,
		buffer:  256,
	}
	for _, opt := range opts {
		opt(ps)
	}
	ps.handlers.Store(&[]InvalidationHandler{})
	return ps
}

// Subscribe joins the channel and starts the listener. It returns once the
// server has confirmed the subscription. Calling it again is a no-op.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	switch {
	case ps.closed:
		return ErrClosed
	case ps.pubsub != nil:
		return nil
	}

	pubsub := ps.client.Subscribe(ctx, ps.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("%w: subscribe %s: %w", types.ErrRemoteUnavailable, ps.channel, err)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	ps.pubsub, ps.stop = pubsub, stop
	ps.wg.Add(1)
	go ps.listen(listenCtx, pubsub.Channel(redis.WithChannelSize(ps.buffer)))
	return nil
}

// Publish sends event to every peer. An empty Sender is filled with this
// process's pod id.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	if event.Region == "" {
		return errNoRegion
	}
	if event.Sender == "" {
		event.Sender = ps.podID
	}
	data, err := encodeNotice(event)
	if err != nil {
		return err
	}
	if err := ps.client.Publish(ctx, ps.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", types.ErrRemoteUnavailable, ps.channel, err)
	}
	return nil
}

// OnInvalidate adds a handler. Handlers run on the listener goroutine in
// registration order.
func (ps *PubSubSynchronizer) OnInvalidate(handler func(event InvalidationEvent)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	cur := *ps.handlers.Load()
	next := make([]InvalidationHandler, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, handler)
	ps.handlers.Store(&next)
}

// Close leaves the channel and waits for the listener to return.
func (ps *PubSubSynchronizer) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	pubsub, stop := ps.pubsub, ps.stop
	ps.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	stop()
	err := pubsub.Close()
	ps.wg.Wait()
	return err
}

func (ps *PubSubSynchronizer) listen(ctx context.Context, ch <-chan *redis.Message) {
	defer ps.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			event, err := decodeNotice(msg.Payload)
			if err != nil {
				if ps.onError != nil {
					ps.onError(fmt.Errorf("sync: dropped notice on %s: %w", ps.channel, err))
				}
				continue
			}
			if event.Sender == ps.podID {
				continue
			}
			for _, h := range *ps.handlers.Load() {
				h(event)
			}
		}
	}
}

func encodeNotice(event InvalidationEvent) ([]byte, error) {
	return msgpack.Marshal(&event)
}

func decodeNotice(payload string) (InvalidationEvent, error) {
	var event InvalidationEvent
	if err := msgpack.Unmarshal([]byte(payload), &event); err != nil {
		return InvalidationEvent{}, err
	}
	if event.Region == "" {
		return InvalidationEvent{}, errNoRegion
	}
	return event, nil
}
