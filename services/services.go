// Package services holds the social domain services. Reads go through the
// region cache; writes persist, invalidate through the dispatcher and then
// notify connected users.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/codec"
	"github.com/huykn/region-cache/invalidation"
	"github.com/huykn/region-cache/notify"
)

func init() {
	codec.Register(User{}, FriendRequest{}, Chat{}, Message{}, Notification{})
}

// User is a public profile.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Bio    string `json:"bio,omitempty"`
}

// FriendRequest is a pending request from From to To.
type FriendRequest struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"createdAt"`
}

// Chat is a conversation as listed for one of its members.
type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Members     []string  `json:"members"`
	LastMessage string    `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Message is one chat message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification is an in-app notification.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Invalidator runs the invalidation of a committed mutation.
// *invalidation.Dispatcher implements it.
type Invalidator interface {
	OnMutation(ctx context.Context, m invalidation.Mutation) error
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Registry    *cache.Registry
	Invalidator Invalidator
	Notifier    notify.Notifier
	Logger      cache.Logger
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Registry == nil {
		return d, fmt.Errorf("services: registry is required")
	}
	if d.Invalidator == nil {
		return d, fmt.Errorf("services: invalidator is required")
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Logger == nil {
		d.Logger = cache.NewNoOpLogger()
	}
	return d, nil
}

func (d Deps) regions(names ...string) ([]*cache.Region, error) {
	out := make([]*cache.Region, len(names))
	for i, name := range names {
		r, err := d.Registry.Region(name)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// committed invalidates after a successful write and then notifies. A failed
// invalidation is returned; the write itself is not rolled back.
func (d Deps) committed(ctx context.Context, m invalidation.Mutation, notifyIDs []string, event notify.Event) error {
	if err := d.Invalidator.OnMutation(ctx, m); err != nil {
		return fmt.Errorf("services: %s committed but invalidation failed: %w", m.Kind, err)
	}
	if len(notifyIDs) == 0 {
		return nil
	}
	if err := d.Notifier.Notify(ctx, notifyIDs, event); err != nil {
		d.Logger.Warn("Services: notify failed", "kind", m.Kind, "event", event.Type, "error", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func without(ids []string, drop ...string) []string {
	out := make([]string, 0, len(ids))
next:
	for _, id := range ids {
		for _, d := range drop {
			if id == d {
				continue next
			}
		}
		out = append(out, id)
	}
	return out
}
