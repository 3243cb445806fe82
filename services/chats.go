package services

import (
	"context"

	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/invalidation"
	"github.com/huykn/region-cache/notify"
)

// ChatStore persists chats, their members and their messages.
type ChatStore interface {
	ChatsOf(ctx context.Context, userID string) ([]Chat, error)
	Members(ctx context.Context, chatID string) ([]User, error)
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
	Messages(ctx context.Context, chatID string) ([]Message, error)
	CreateChat(ctx context.Context, creator, title string, members []string) (Chat, error)
	AddMember(ctx context.Context, chatID, userID string) error
	RemoveMember(ctx context.Context, chatID, userID string) error
	AddMessage(ctx context.Context, chatID, author, body string) (Message, error)
}

// ChatService manages chats.
type ChatService struct {
	deps     Deps
	store    ChatStore
	chats    *cache.Region
	members  *cache.Region
	messages *cache.Region
}

// NewChatService creates a ChatService.
func NewChatService(deps Deps, store ChatStore) (*ChatService, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	r, err := deps.regions(invalidation.RegionChats, invalidation.RegionChatMembers, invalidation.RegionChatMessages)
	if err != nil {
		return nil, err
	}
	return &ChatService{deps: deps, store: store, chats: r[0], members: r[1], messages: r[2]}, nil
}

// ChatsOf returns the chats userID belongs to.
func (s *ChatService) ChatsOf(ctx context.Context, userID string) ([]Chat, error) {
	return cache.GetOrLoadTyped(ctx, s.chats, userID, func(ctx context.Context) ([]Chat, error) {
		chats, err := s.store.ChatsOf(ctx, userID)
		return nonNil(chats), err
	})
}

// Members returns the member profiles of chatID.
func (s *ChatService) Members(ctx context.Context, chatID string) ([]User, error) {
	return cache.GetOrLoadTyped(ctx, s.members, chatID, func(ctx context.Context) ([]User, error) {
		users, err := s.store.Members(ctx, chatID)
		return nonNil(users), err
	})
}

// Messages returns the messages of chatID.
func (s *ChatService) Messages(ctx context.Context, chatID string) ([]Message, error) {
	return cache.GetOrLoadTyped(ctx, s.messages, chatID, func(ctx context.Context) ([]Message, error) {
		msgs, err := s.store.Messages(ctx, chatID)
		return nonNil(msgs), err
	})
}

// Create creates a chat owned by creator with the given members.
func (s *ChatService) Create(ctx context.Context, creator, title string, members []string) (Chat, error) {
	chat, err := s.store.CreateChat(ctx, creator, title, members)
	if err != nil {
		return Chat{}, err
	}
	others := without(chat.Members, creator)
	err = s.deps.committed(ctx,
		invalidation.Mutation{Kind: invalidation.ChatCreated, Actor: creator, Affected: others},
		others, notify.Event{Type: "chat.created", Payload: chat})
	return chat, err
}

// AddMember adds userID to chatID, acting as actor.
func (s *ChatService) AddMember(ctx context.Context, actor, chatID, userID string) error {
	if err := s.store.AddMember(ctx, chatID, userID); err != nil {
		return err
	}
	return s.memberChanged(ctx, invalidation.ChatMemberAdded, actor, chatID, userID, "chat.member_added")
}

// RemoveMember removes userID from chatID, acting as actor.
func (s *ChatService) RemoveMember(ctx context.Context, actor, chatID, userID string) error {
	if err := s.store.RemoveMember(ctx, chatID, userID); err != nil {
		return err
	}
	return s.memberChanged(ctx, invalidation.ChatMemberRemoved, actor, chatID, userID, "chat.member_removed")
}

func (s *ChatService) memberChanged(ctx context.Context, kind invalidation.Kind, actor, chatID, userID, eventType string) error {
	ids, err := s.store.MemberIDs(ctx, chatID)
	if err != nil {
		return err
	}
	affected := without(ids, actor, userID)
	if userID != actor {
		affected = append(affected, userID)
	}
	return s.deps.committed(ctx,
		invalidation.Mutation{
			Kind:     kind,
			Actor:    actor,
			Affected: affected,
			Params:   map[string][]string{invalidation.ParamChatID: {chatID}},
		},
		affected, notify.Event{Type: eventType, Payload: map[string]string{"chatId": chatID, "userId": userID}})
}

// PostMessage posts body to chatID as author.
func (s *ChatService) PostMessage(ctx context.Context, author, chatID, body string) (Message, error) {
	msg, err := s.store.AddMessage(ctx, chatID, author, body)
	if err != nil {
		return Message{}, err
	}
	ids, err := s.store.MemberIDs(ctx, chatID)
	if err != nil {
		return msg, err
	}
	others := without(ids, author)
	err = s.deps.committed(ctx,
		invalidation.Mutation{
			Kind:     invalidation.MessagePosted,
			Actor:    author,
			Affected: others,
			Params:   map[string][]string{invalidation.ParamChatID: {chatID}},
		},
		others, notify.Event{Type: "chat.message", Payload: msg})
	return msg, err
}
