package invalidation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/huykn/region-cache/cache"
	cachesync "github.com/huykn/region-cache/sync"
	"github.com/huykn/region-cache/types"
)

// ErrNoBus is returned by Consume on a dispatcher built without a bus.
var ErrNoBus = errors.New("invalidation: no event bus")

// Evictor evicts cache entries. *cache.Registry implements it.
type Evictor interface {
	Evict(ctx context.Context, region, key string) error
	Clear(ctx context.Context, region string) error
}

// Bus carries domain events to the consumers of every process.
// *sync.StreamBus implements it.
type Bus interface {
	Publish(ctx context.Context, event types.DomainEvent) error
	Consume(ctx context.Context, handler cachesync.EventHandler) error
}

// Mutation describes a committed domain mutation.
type Mutation struct {
	Kind     Kind
	Actor    string
	Affected []string
	Params   map[string][]string
}

// EvictionError lists the entries a dispatch failed to evict.
type EvictionError struct {
	Kind   Kind
	Failed []Resolved
	Errs   []error
}

func (e *EvictionError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		parts[i] = fmt.Sprintf("%s: %v", r, e.Errs[i])
	}
	return fmt.Sprintf("invalidation: %s: %d eviction(s) failed: %s", e.Kind, len(e.Failed), strings.Join(parts, "; "))
}

func (e *EvictionError) Unwrap() []error { return e.Errs }

// Dispatcher applies a Map. Both the synchronous path and the event consumer
// evict through the same Evictor.
type Dispatcher struct {
	rules   *Map
	evictor Evictor
	bus     Bus
	sender  string
	logger  cache.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBus publishes affected-scope work as domain events on bus. Without a
// bus, affected targets are evicted inline by OnMutation.
func WithBus(bus Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithSender stamps published events with the given process id.
func WithSender(id string) Option {
	return func(d *Dispatcher) { d.sender = id }
}

// WithLogger sets the logger.
func WithLogger(l cache.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a Dispatcher of rules over evictor.
func NewDispatcher(rules *Map, evictor Evictor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rules:   rules,
		evictor: evictor,
		logger:  cache.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Map returns the rules the dispatcher applies.
func (d *Dispatcher) Map() *Map { return d.rules }

// OnMutation evicts the actor's entries for m and then hands the affected
// identities to the bus. It is called after the mutation is persisted. Every
// target is attempted; failures are returned as an *EvictionError. A publish
// failure is returned wrapped with types.ErrRemoteUnavailable. Params are
// checked against every target before anything is evicted.
func (d *Dispatcher) OnMutation(ctx context.Context, m Mutation) error {
	params := make(map[string][]string, len(m.Params)+1)
	for k, v := range m.Params {
		params[k] = v
	}
	if m.Actor != "" {
		params[ParamActor] = []string{m.Actor}
	}

	targets, err := d.rules.Resolve(m.Kind, params)
	if err != nil {
		return err
	}
	affected := uniq(m.Affected)
	if len(affected) > 0 {
		if _, err := d.rules.ResolveFor(m.Kind, affected[0], params); err != nil {
			return err
		}
	}

	evictErr := d.apply(ctx, m.Kind, targets)
	if len(affected) == 0 {
		return evictErr
	}

	event := types.DomainEvent{
		ID:                 uuid.NewString(),
		MutationKind:       string(m.Kind),
		AffectedIdentities: affected,
		Params:             params,
		Sender:             d.sender,
	}
	if d.bus == nil {
		return errors.Join(evictErr, d.HandleEvent(ctx, event))
	}
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logger.Error("Invalidation: failed to publish event", "kind", m.Kind, "id", event.ID, "error", err)
		return errors.Join(evictErr, err)
	}
	return evictErr
}

// HandleEvent evicts the affected-scope targets of event for each affected
// identity. Re-handling an event is harmless. Events of unknown kinds are
// logged and dropped.
func (d *Dispatcher) HandleEvent(ctx context.Context, event types.DomainEvent) error {
	kind := Kind(event.MutationKind)
	var errs []error
	for _, identity := range event.AffectedIdentities {
		if identity == "" {
			continue
		}
		targets, err := d.rules.ResolveFor(kind, identity, event.Params)
		if errors.Is(err, ErrUnknownKind) {
			d.logger.Warn("Invalidation: dropping event of unknown kind", "kind", kind, "id", event.ID)
			return nil
		}
		if err != nil {
			d.logger.Warn("Invalidation: dropping unresolvable event", "kind", kind, "id", event.ID, "error", err)
			return nil
		}
		if err := d.apply(ctx, kind, targets); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Consume runs the bus consumer until ctx is done.
func (d *Dispatcher) Consume(ctx context.Context) error {
	if d.bus == nil {
		return ErrNoBus
	}
	return d.bus.Consume(ctx, d.HandleEvent)
}

func (d *Dispatcher) apply(ctx context.Context, kind Kind, targets []Resolved) error {
	var evErr *EvictionError
	for _, t := range targets {
		var err error
		if t.Whole() {
			err = d.evictor.Clear(ctx, t.Region)
		} else {
			err = d.evictor.Evict(ctx, t.Region, t.Key)
		}
		if err == nil {
			continue
		}
		if evErr == nil {
			evErr = &EvictionError{Kind: kind}
		}
		evErr.Failed = append(evErr.Failed, t)
		evErr.Errs = append(evErr.Errs, err)
		d.logger.Warn("Invalidation: eviction failed", "kind", kind, "region", t.Region, "key", t.Key, "error", err)
	}
	if evErr == nil {
		return nil
	}
	return evErr
}

func uniq(ids []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
