package services

import (
	"context"

	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/invalidation"
	"github.com/huykn/region-cache/notify"
)

// NotificationStore persists notifications.
type NotificationStore interface {
	List(ctx context.Context, userID string) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Create(ctx context.Context, userID, kind, body string) (Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// NotificationService manages in-app notifications.
type NotificationService struct {
	deps   Deps
	store  NotificationStore
	list   *cache.Region
	unread *cache.Region
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(deps Deps, store NotificationStore) (*NotificationService, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	r, err := deps.regions(invalidation.RegionNotifications, invalidation.RegionUnreadCount)
	if err != nil {
		return nil, err
	}
	return &NotificationService{deps: deps, store: store, list: r[0], unread: r[1]}, nil
}

// List returns the notifications of userID.
func (s *NotificationService) List(ctx context.Context, userID string) ([]Notification, error) {
	return cache.GetOrLoadTyped(ctx, s.list, userID, func(ctx context.Context) ([]Notification, error) {
		ns, err := s.store.List(ctx, userID)
		return nonNil(ns), err
	})
}

// UnreadCount returns the number of unread notifications of userID.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return cache.GetOrLoadTyped(ctx, s.unread, userID, func(ctx context.Context) (int64, error) {
		return s.store.UnreadCount(ctx, userID)
	})
}

// Create stores a notification for userID on behalf of actor.
func (s *NotificationService) Create(ctx context.Context, actor, userID, kind, body string) (Notification, error) {
	n, err := s.store.Create(ctx, userID, kind, body)
	if err != nil {
		return Notification{}, err
	}
	err = s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.NotificationCreated, Actor: actor, Affected: []string{userID}},
		[]string{userID}, notify.Event{Type: "notification", Payload: n})
	return n, err
}

// MarkRead marks one notification of userID as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	if err := s.store.MarkRead(ctx, userID, notificationID); err != nil {
		return err
	}
	return s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.NotificationRead, Actor: userID},
		nil, notify.Event{})
}
