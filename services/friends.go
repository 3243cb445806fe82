package services

import (
	"context"

	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/invalidation"
	"github.com/huykn/region-cache/notify"
)

// FriendStore persists friendships and friend requests.
type FriendStore interface {
	Friends(ctx context.Context, userID string) ([]User, error)
	SentRequests(ctx context.Context, userID string) ([]FriendRequest, error)
	ReceivedRequests(ctx context.Context, userID string) ([]FriendRequest, error)
	CreateRequest(ctx context.Context, from, to string) (FriendRequest, error)
	DeleteRequest(ctx context.Context, from, to string) error
	// AcceptRequest removes the request and records the friendship.
	AcceptRequest(ctx context.Context, from, to string) error
	RemoveFriend(ctx context.Context, userID, friendID string) error
}

// FriendService manages friendships.
type FriendService struct {
	deps     Deps
	store    FriendStore
	friends  *cache.Region
	requests *cache.Region
}

// NewFriendService creates a FriendService.
func NewFriendService(deps Deps, store FriendStore) (*FriendService, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	r, err := deps.regions(invalidation.RegionFriends, invalidation.RegionFriendRequests)
	if err != nil {
		return nil, err
	}
	return &FriendService{deps: deps, store: store, friends: r[0], requests: r[1]}, nil
}

// Friends returns the friends of userID.
func (s *FriendService) Friends(ctx context.Context, userID string) ([]User, error) {
	return cache.GetOrLoadTyped(ctx, s.friends, userID, func(ctx context.Context) ([]User, error) {
		users, err := s.store.Friends(ctx, userID)
		return nonNil(users), err
	})
}

// SentRequests returns the pending requests userID sent.
func (s *FriendService) SentRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	return cache.GetOrLoadTyped(ctx, s.requests, "from-"+userID, func(ctx context.Context) ([]FriendRequest, error) {
		reqs, err := s.store.SentRequests(ctx, userID)
		return nonNil(reqs), err
	})
}

// ReceivedRequests returns the pending requests sent to userID.
func (s *FriendService) ReceivedRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	return cache.GetOrLoadTyped(ctx, s.requests, "to-"+userID, func(ctx context.Context) ([]FriendRequest, error) {
		reqs, err := s.store.ReceivedRequests(ctx, userID)
		return nonNil(reqs), err
	})
}

// SendRequest sends a friend request from one user to another.
func (s *FriendService) SendRequest(ctx context.Context, from, to string) (FriendRequest, error) {
	req, err := s.store.CreateRequest(ctx, from, to)
	if err != nil {
		return FriendRequest{}, err
	}
	err = s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.FriendRequestSent, Actor: from, Affected: []string{to}},
		[]string{to}, notify.Event{Type: "friend.request", Payload: req})
	return req, err
}

// CancelRequest withdraws a request from sent to to.
func (s *FriendService) CancelRequest(ctx context.Context, from, to string) error {
	if err := s.store.DeleteRequest(ctx, from, to); err != nil {
		return err
	}
	return s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.FriendRequestCanceled, Actor: from, Affected: []string{to}},
		nil, notify.Event{})
}

// Accept accepts the request from from, acting as userID.
func (s *FriendService) Accept(ctx context.Context, userID, from string) error {
	if err := s.store.AcceptRequest(ctx, from, userID); err != nil {
		return err
	}
	return s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.FriendRequestAccepted, Actor: userID, Affected: []string{from}},
		[]string{from}, notify.Event{Type: "friend.accepted", Payload: map[string]string{"by": userID}})
}

// Decline declines the request from from, acting as userID.
func (s *FriendService) Decline(ctx context.Context, userID, from string) error {
	if err := s.store.DeleteRequest(ctx, from, userID); err != nil {
		return err
	}
	return s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.FriendRequestDeclined, Actor: userID, Affected: []string{from}},
		nil, notify.Event{})
}

// Remove ends the friendship between userID and friendID.
func (s *FriendService) Remove(ctx context.Context, userID, friendID string) error {
	if err := s.store.RemoveFriend(ctx, userID, friendID); err != nil {
		return err
	}
	return s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.FriendRemoved, Actor: userID, Affected: []string{friendID}},
		[]string{friendID}, notify.Event{Type: "friend.removed", Payload: map[string]string{"by": userID}})
}
