// Package invalidation maps domain mutations to the cache entries they make
// stale and evicts them, synchronously for the acting identity and through
// domain events for every other affected identity.
package invalidation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownKind is returned for a mutation kind with no rule.
	ErrUnknownKind = errors.New("invalidation: unknown mutation kind")

	// ErrMissingParam is returned when a key template names a parameter the
	// mutation does not carry.
	ErrMissingParam = errors.New("invalidation: missing parameter")
)

// Reserved parameter names.
const (
	// ParamActor is bound to the identity that performed the mutation.
	ParamActor = "actor"

	// ParamIdentity is bound to one affected identity while affected-scope
	// targets are resolved.
	ParamIdentity = "identity"
)

// Kind names a domain mutation.
type Kind string

// Scope says whose cached views a Target belongs to.
type Scope int

const (
	// Actor targets are evicted synchronously in the mutating request.
	Actor Scope = iota
	// Affected targets are evicted asynchronously once per affected identity.
	Affected
)

func (s Scope) String() string {
	switch s {
	case Actor:
		return "actor"
	case Affected:
		return "affected"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// Target is one (region, key template) pair of a rule.
type Target struct {
	Region string
	Key    KeyTemplate
	Scope  Scope
}

// Rule lists the targets a mutation kind makes stale.
type Rule struct {
	Kind    Kind
	Targets []Target
}

// Resolved is a concrete cache entry to evict. Key "*" means the whole region.
type Resolved struct {
	Region string
	Key    string
}

// Whole reports whether r names the whole region.
func (r Resolved) Whole() bool { return r.Key == wholeRegion }

func (r Resolved) String() string { return r.Region + "/" + r.Key }

// Map is an immutable table from mutation kind to targets.
type Map struct {
	rules map[Kind][]Target
}

// ActorTarget builds an actor-scope target. It panics on a bad key template.
func ActorTarget(region, key string) Target {
	return Target{Region: region, Key: MustKey(key), Scope: Actor}
}

// AffectedTarget builds an affected-scope target. It panics on a bad key
// template.
func AffectedTarget(region, key string) Target {
	return Target{Region: region, Key: MustKey(key), Scope: Affected}
}

// NewMap builds a Map. Rules for the same kind are merged in order. Actor
// targets may not reference ParamIdentity.
func NewMap(rules ...Rule) (*Map, error) {
	m := &Map{rules: make(map[Kind][]Target, len(rules))}
	for _, rule := range rules {
		if rule.Kind == "" {
			return nil, fmt.Errorf("invalidation: rule without kind")
		}
		for _, t := range rule.Targets {
			if t.Region == "" || strings.Contains(t.Region, ":") {
				return nil, fmt.Errorf("invalidation: %s: invalid region %q", rule.Kind, t.Region)
			}
			if t.Key.String() == "" {
				return nil, fmt.Errorf("invalidation: %s: region %s has no key", rule.Kind, t.Region)
			}
			if t.Scope == Actor {
				for _, p := range t.Key.Params() {
					if p == ParamIdentity {
						return nil, fmt.Errorf("invalidation: %s: actor target %s/%s references {%s}",
							rule.Kind, t.Region, t.Key, ParamIdentity)
					}
				}
			}
		}
		m.rules[rule.Kind] = append(m.rules[rule.Kind], rule.Targets...)
	}
	return m, nil
}

// MustMap is like NewMap but panics on error.
func MustMap(rules ...Rule) *Map {
	m, err := NewMap(rules...)
	if err != nil {
		panic(err)
	}
	return m
}

// Kinds returns every kind with a rule, sorted.
func (m *Map) Kinds() []Kind {
	kinds := make([]Kind, 0, len(m.rules))
	for k := range m.rules {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Targets returns a copy of the targets of kind.
func (m *Map) Targets(kind Kind) ([]Target, bool) {
	t, ok := m.rules[kind]
	if !ok {
		return nil, false
	}
	return append([]Target(nil), t...), true
}

// Resolve expands the actor-scope targets of kind against params. The
// result keeps rule order with duplicates removed.
func (m *Map) Resolve(kind Kind, params map[string][]string) ([]Resolved, error) {
	return m.resolve(kind, Actor, params)
}

// ResolveFor expands the affected-scope targets of kind for one affected
// identity, bound to ParamIdentity.
func (m *Map) ResolveFor(kind Kind, identity string, params map[string][]string) ([]Resolved, error) {
	bound := make(map[string][]string, len(params)+1)
	for k, v := range params {
		bound[k] = v
	}
	bound[ParamIdentity] = []string{identity}
	return m.resolve(kind, Affected, bound)
}

func (m *Map) resolve(kind Kind, scope Scope, params map[string][]string) ([]Resolved, error) {
	targets, ok := m.rules[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	var out []Resolved
	seen := make(map[Resolved]struct{})
	for _, t := range targets {
		if t.Scope != scope {
			continue
		}
		keys, err := t.Key.Expand(params)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", kind, t.Region, err)
		}
		for _, key := range keys {
			r := Resolved{Region: t.Region, Key: key}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}

// Regions returns every region some rule targets, sorted.
func (m *Map) Regions() []string {
	set := make(map[string]struct{})
	for _, targets := range m.rules {
		for _, t := range targets {
			set[t.Region] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Audit returns the regions among regions that no rule ever evicts. Entries
// cached in such a region only leave it through TTL expiry.
func (m *Map) Audit(regions []string) []string {
	covered := make(map[string]struct{})
	for _, r := range m.Regions() {
		covered[r] = struct{}{}
	}
	var missing []string
	for _, r := range regions {
		if _, ok := covered[r]; !ok {
			missing = append(missing, r)
		}
	}
	sort.Strings(missing)
	return missing
}
