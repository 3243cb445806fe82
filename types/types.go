package types

// Action identifies what a synchronization event asks peers to do.
type Action string

// Action values carried by InvalidationEvent.
const (
	Set        Action = "set"
	Invalidate Action = "invalidate"
	Delete     Action = "delete"
	Clear      Action = "clear"
)

// InvalidationEvent represents a cache synchronization event.
// Peers receiving it drop the named key (or the whole region for Clear) from
// their local tier. The remote tier has already been updated by the sender.
type InvalidationEvent struct {
	Region string `json:"region" msgpack:"r"`
	Key    string `json:"key,omitempty" msgpack:"k,omitempty"`
	Sender string `json:"sender" msgpack:"s"`
	Action Action `json:"action" msgpack:"a"` // "set", "invalidate", "delete", or "clear"
}

// DomainEvent is published after a mutation commits so that cache entries
// owned by identities other than the actor are invalidated asynchronously.
type DomainEvent struct {
	ID                 string              `json:"id"`
	MutationKind       string              `json:"mutationKind"`
	AffectedIdentities []string            `json:"affectedIdentities"`
	Params             map[string][]string `json:"params,omitempty"`
	Sender             string              `json:"sender,omitempty"`
}
