package services

import (
	"context"

	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/invalidation"
	"github.com/huykn/region-cache/notify"
)

// UserStore persists profiles and answers who can see them.
type UserStore interface {
	Profile(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, u User) error
	FriendIDs(ctx context.Context, userID string) ([]string, error)
	ChatIDs(ctx context.Context, userID string) ([]string, error)
}

// UserService manages profiles.
type UserService struct {
	deps     Deps
	store    UserStore
	profiles *cache.Region
}

// NewUserService creates a UserService.
func NewUserService(deps Deps, store UserStore) (*UserService, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	r, err := deps.regions(invalidation.RegionUserProfile)
	if err != nil {
		return nil, err
	}
	return &UserService{deps: deps, store: store, profiles: r[0]}, nil
}

// Profile returns the profile of userID.
func (s *UserService) Profile(ctx context.Context, userID string) (User, error) {
	return cache.GetOrLoadTyped(ctx, s.profiles, userID, func(ctx context.Context) (User, error) {
		return s.store.Profile(ctx, userID)
	})
}

// UpdateProfile stores u. Friend lists and chat member lists that embed the
// profile are invalidated along with the profile itself.
func (s *UserService) UpdateProfile(ctx context.Context, u User) error {
	friends, err := s.store.FriendIDs(ctx, u.ID)
	if err != nil {
		return err
	}
	chats, err := s.store.ChatIDs(ctx, u.ID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateProfile(ctx, u); err != nil {
		return err
	}
	return s.deps.committed(ctx,
		invalidation.Mutation{
			Kind:     invalidation.ProfileUpdated,
			Actor:    u.ID,
			Affected: friends,
			Params:   map[string][]string{invalidation.ParamChatIDs: chats},
		},
		nil, notify.Event{})
}
