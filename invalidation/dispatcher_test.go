package invalidation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huykn/region-cache/cache"
	cachesync "github.com/huykn/region-cache/sync"
	"github.com/huykn/region-cache/types"
)

type fakeEvictor struct {
	mu      sync.Mutex
	evicted []Resolved
	fail    map[Resolved]error
}

func (f *fakeEvictor) Evict(ctx context.Context, region, key string) error {
	return f.record(Resolved{Region: region, Key: key})
}

func (f *fakeEvictor) Clear(ctx context.Context, region string) error {
	return f.record(Resolved{Region: region, Key: wholeRegion})
}

func (f *fakeEvictor) record(r Resolved) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[r]; err != nil {
		return err
	}
	f.evicted = append(f.evicted, r)
	return nil
}

func (f *fakeEvictor) all() []Resolved {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Resolved(nil), f.evicted...)
}

type fakeBus struct {
	mu        sync.Mutex
	published []types.DomainEvent
	err       error
}

func (b *fakeBus) Publish(ctx context.Context, event types.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, event)
	return nil
}

func (b *fakeBus) Consume(ctx context.Context, handler cachesync.EventHandler) error {
	b.mu.Lock()
	events := append([]types.DomainEvent(nil), b.published...)
	b.mu.Unlock()
	for _, e := range events {
		if err := handler(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func TestOnMutationActorSyncAffectedPublished(t *testing.T) {
	ev := &fakeEvictor{}
	bus := &fakeBus{}
	d := NewDispatcher(DefaultMap(), ev, WithBus(bus), WithSender("pod-1"))
	ctx := context.Background()

	err := d.OnMutation(ctx, Mutation{Kind: FriendRequestAccepted, Actor: "42", Affected: []string{"7", "7", ""}})
	require.NoError(t, err)

	assert.Equal(t, []Resolved{
		{Region: RegionFriends, Key: "42"},
		{Region: RegionFriendRequests, Key: "to-42"},
	}, ev.all())

	require.Len(t, bus.published, 1)
	event := bus.published[0]
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, string(FriendRequestAccepted), event.MutationKind)
	assert.Equal(t, []string{"7"}, event.AffectedIdentities)
	assert.Equal(t, []string{"42"}, event.Params[ParamActor])
	assert.Equal(t, "pod-1", event.Sender)

	require.NoError(t, d.Consume(ctx))
	assert.Contains(t, ev.all(), Resolved{Region: RegionFriends, Key: "7"})
	assert.Contains(t, ev.all(), Resolved{Region: RegionFriendRequests, Key: "from-7"})
}

func TestOnMutationWithoutBusAppliesInline(t *testing.T) {
	ev := &fakeEvictor{}
	d := NewDispatcher(DefaultMap(), ev)

	err := d.OnMutation(context.Background(), Mutation{Kind: FriendRemoved, Actor: "1", Affected: []string{"2"}})
	require.NoError(t, err)
	assert.Equal(t, []Resolved{
		{Region: RegionFriends, Key: "1"},
		{Region: RegionFriends, Key: "2"},
	}, ev.all())

	assert.ErrorIs(t, d.Consume(context.Background()), ErrNoBus)
}

func TestOnMutationAttemptsEveryTarget(t *testing.T) {
	down := errors.New("down")
	ev := &fakeEvictor{fail: map[Resolved]error{
		{Region: RegionFriends, Key: "42"}: down,
	}}
	bus := &fakeBus{}
	d := NewDispatcher(DefaultMap(), ev, WithBus(bus))

	err := d.OnMutation(context.Background(), Mutation{Kind: FriendRequestAccepted, Actor: "42", Affected: []string{"7"}})
	require.Error(t, err)

	var evErr *EvictionError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, FriendRequestAccepted, evErr.Kind)
	assert.Equal(t, []Resolved{{Region: RegionFriends, Key: "42"}}, evErr.Failed)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "friends/42")

	assert.Equal(t, []Resolved{{Region: RegionFriendRequests, Key: "to-42"}}, ev.all())
	assert.Len(t, bus.published, 1, "affected identities are still notified")
}

func TestOnMutationPublishFailure(t *testing.T) {
	ev := &fakeEvictor{}
	unavailable := errors.Join(types.ErrRemoteUnavailable, errors.New("xadd"))
	d := NewDispatcher(DefaultMap(), ev, WithBus(&fakeBus{err: unavailable}))

	err := d.OnMutation(context.Background(), Mutation{Kind: FriendRemoved, Actor: "1", Affected: []string{"2"}})
	assert.ErrorIs(t, err, types.ErrRemoteUnavailable)
	assert.Equal(t, []Resolved{{Region: RegionFriends, Key: "1"}}, ev.all())
}

func TestOnMutationValidatesBeforeEvicting(t *testing.T) {
	ev := &fakeEvictor{}
	bus := &fakeBus{}
	d := NewDispatcher(DefaultMap(), ev, WithBus(bus))
	ctx := context.Background()

	err := d.OnMutation(ctx, Mutation{Kind: "Unknown", Actor: "1"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	// chatId is required by the actor target.
	err = d.OnMutation(ctx, Mutation{Kind: MessagePosted, Actor: "1", Affected: []string{"2"}})
	assert.ErrorIs(t, err, ErrMissingParam)

	m := MustMap(Rule{Kind: "K", Targets: []Target{
		ActorTarget("a", "{actor}"),
		AffectedTarget("b", "{identity}-{extra}"),
	}})
	err = NewDispatcher(m, ev, WithBus(bus)).OnMutation(ctx, Mutation{Kind: "K", Actor: "1", Affected: []string{"2"}})
	assert.ErrorIs(t, err, ErrMissingParam)

	assert.Empty(t, ev.all())
	assert.Empty(t, bus.published)
}

func TestOnMutationWithoutAffected(t *testing.T) {
	ev := &fakeEvictor{}
	bus := &fakeBus{}
	d := NewDispatcher(DefaultMap(), ev, WithBus(bus))

	require.NoError(t, d.OnMutation(context.Background(), Mutation{Kind: NotificationRead, Actor: "5"}))
	assert.Len(t, ev.all(), 2)
	assert.Empty(t, bus.published)
}

func TestHandleEvent(t *testing.T) {
	ev := &fakeEvictor{}
	d := NewDispatcher(DefaultMap(), ev)
	ctx := context.Background()

	event := types.DomainEvent{
		ID:                 "e1",
		MutationKind:       string(MessagePosted),
		AffectedIdentities: []string{"2", "3"},
		Params:             map[string][]string{ParamActor: {"1"}, ParamChatID: {"c1"}},
	}
	require.NoError(t, d.HandleEvent(ctx, event))
	require.NoError(t, d.HandleEvent(ctx, event))

	assert.Equal(t, []Resolved{
		{Region: RegionChats, Key: "2"},
		{Region: RegionUnreadCount, Key: "2"},
		{Region: RegionChats, Key: "3"},
		{Region: RegionUnreadCount, Key: "3"},
	}, ev.all()[:4])
	assert.Len(t, ev.all(), 8)

	// Unknown kinds are dropped so they do not stay pending forever.
	require.NoError(t, d.HandleEvent(ctx, types.DomainEvent{MutationKind: "Gone", AffectedIdentities: []string{"1"}}))
}

func TestHandleEventReturnsEvictionErrors(t *testing.T) {
	down := errors.New("down")
	ev := &fakeEvictor{fail: map[Resolved]error{{Region: RegionFriends, Key: "2"}: down}}
	d := NewDispatcher(DefaultMap(), ev)

	err := d.HandleEvent(context.Background(), types.DomainEvent{
		MutationKind:       string(FriendRemoved),
		AffectedIdentities: []string{"2", "3"},
		Params:             map[string][]string{ParamActor: {"1"}},
	})
	assert.ErrorIs(t, err, down)
	assert.Equal(t, []Resolved{{Region: RegionFriends, Key: "3"}}, ev.all())
}

func TestWholeRegionTargetClears(t *testing.T) {
	ev := &fakeEvictor{}
	m := MustMap(Rule{Kind: "Reset", Targets: []Target{ActorTarget("feed", "*")}})
	d := NewDispatcher(m, ev)

	require.NoError(t, d.OnMutation(context.Background(), Mutation{Kind: "Reset"}))
	assert.Equal(t, []Resolved{{Region: "feed", Key: "*"}}, ev.all())
	assert.True(t, ev.all()[0].Whole())
}

// Scenario A end to end: two processes share Redis; the actor's process
// evicts its own entry in the request and the consumer evicts the other one.
func TestScenarioAAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newProcess := func(pod string) (*cache.Registry, *Dispatcher) {
		opts := cache.DefaultOptions()
		opts.PodID = pod
		opts.RedisAddr = mr.Addr()
		reg, err := cache.New(opts)
		require.NoError(t, err)
		t.Cleanup(func() { _ = reg.Close() })

		bus := cachesync.NewStreamBus(reg.RedisClient(), opts.EventStream, opts.EventGroup, pod,
			cachesync.WithBlock(50*time.Millisecond))
		return reg, NewDispatcher(DefaultMap(), reg, WithBus(bus), WithSender(pod))
	}

	regA, dispA := newProcess("pod-a")
	regB, dispB := newProcess("pod-b")

	friends := regA.MustRegion(RegionFriends)
	require.NoError(t, friends.Put(ctx, "42", []any{"bob", "carol"}))
	require.NoError(t, friends.Put(ctx, "7", []any{"alice"}))

	v, found, err := friends.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []any{"bob", "carol"}, v)

	consumeCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- dispB.Consume(consumeCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, dispA.OnMutation(ctx, Mutation{
		Kind:     FriendRequestAccepted,
		Actor:    "42",
		Affected: []string{"7"},
	}))

	_, found, err = friends.Get(ctx, "42")
	require.NoError(t, err)
	assert.False(t, found, "actor entry must be gone when OnMutation returns")

	require.Eventually(t, func() bool {
		_, found, err := regB.MustRegion(RegionFriends).GetBypassLocal(ctx, "7")
		return err == nil && !found
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, found, _ := friends.Get(ctx, "7")
		return !found
	}, 3*time.Second, 10*time.Millisecond, "peer eviction notice reaches the actor's process")
}
