package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/invalidation"
	"github.com/huykn/region-cache/notify"
)

var errNotFound = errors.New("not found")

// memStore is an in-memory implementation of every store interface that
// counts reads per method.
type memStore struct {
	mu        sync.Mutex
	reads     map[string]int
	users     map[string]User
	friends   map[string]map[string]bool
	requests  map[[2]string]FriendRequest
	chats     map[string]*Chat
	messages  map[string][]Message
	notes     map[string][]Notification
	nextID    int
	failWrite error
}

func newMemStore() *memStore {
	return &memStore{
		reads:    map[string]int{},
		users:    map[string]User{},
		friends:  map[string]map[string]bool{},
		requests: map[[2]string]FriendRequest{},
		chats:    map[string]*Chat{},
		messages: map[string][]Message{},
		notes:    map[string][]Notification{},
	}
}

func (m *memStore) read(method string) {
	m.reads[method]++
}

func (m *memStore) readCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[method]
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%d", prefix, m.nextID)
}

// FriendStore

func (m *memStore) Friends(ctx context.Context, userID string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("Friends")
	var out []User
	for id := range m.friends[userID] {
		out = append(out, m.users[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) requestsWhere(match func(FriendRequest) bool) []FriendRequest {
	var out []FriendRequest
	for _, r := range m.requests {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From+out[i].To < out[j].From+out[j].To })
	return out
}

func (m *memStore) SentRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("SentRequests")
	return m.requestsWhere(func(r FriendRequest) bool { return r.From == userID }), nil
}

func (m *memStore) ReceivedRequests(ctx context.Context, userID string) ([]FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("ReceivedRequests")
	return m.requestsWhere(func(r FriendRequest) bool { return r.To == userID }), nil
}

func (m *memStore) CreateRequest(ctx context.Context, from, to string) (FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return FriendRequest{}, m.failWrite
	}
	r := FriendRequest{From: from, To: to, CreatedAt: time.Now().UTC()}
	m.requests[[2]string{from, to}] = r
	return r, nil
}

func (m *memStore) DeleteRequest(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[[2]string{from, to}]; !ok {
		return errNotFound
	}
	delete(m.requests, [2]string{from, to})
	return nil
}

func (m *memStore) befriend(a, b string) {
	if m.friends[a] == nil {
		m.friends[a] = map[string]bool{}
	}
	if m.friends[b] == nil {
		m.friends[b] = map[string]bool{}
	}
	m.friends[a][b] = true
	m.friends[b][a] = true
}

func (m *memStore) AcceptRequest(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[[2]string{from, to}]; !ok {
		return errNotFound
	}
	delete(m.requests, [2]string{from, to})
	m.befriend(from, to)
	return nil
}

func (m *memStore) RemoveFriend(ctx context.Context, userID, friendID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.friends[userID], friendID)
	delete(m.friends[friendID], userID)
	return nil
}

// ChatStore

func (m *memStore) ChatsOf(ctx context.Context, userID string) ([]Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("ChatsOf")
	var out []Chat
	for _, c := range m.chats {
		for _, id := range c.Members {
			if id == userID {
				cp := *c
				cp.Members = append([]string(nil), c.Members...)
				out = append(out, cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Members(ctx context.Context, chatID string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("Members")
	c, ok := m.chats[chatID]
	if !ok {
		return nil, errNotFound
	}
	out := make([]User, 0, len(c.Members))
	for _, id := range c.Members {
		out = append(out, m.users[id])
	}
	return out, nil
}

func (m *memStore) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, errNotFound
	}
	return append([]string(nil), c.Members...), nil
}

func (m *memStore) Messages(ctx context.Context, chatID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("Messages")
	return append([]Message(nil), m.messages[chatID]...), nil
}

func (m *memStore) CreateChat(ctx context.Context, creator, title string, members []string) (Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Chat{ID: m.id("c"), Title: title, Members: append([]string{creator}, members...), UpdatedAt: time.Now().UTC()}
	m.chats[c.ID] = c
	return *c, nil
}

func (m *memStore) AddMember(ctx context.Context, chatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return errNotFound
	}
	c.Members = append(c.Members, userID)
	return nil
}

func (m *memStore) RemoveMember(ctx context.Context, chatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return errNotFound
	}
	c.Members = without(c.Members, userID)
	return nil
}

func (m *memStore) AddMessage(ctx context.Context, chatID, author, body string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return Message{}, errNotFound
	}
	msg := Message{ID: m.id("m"), ChatID: chatID, Author: author, Body: body, CreatedAt: time.Now().UTC()}
	m.messages[chatID] = append(m.messages[chatID], msg)
	c.LastMessage = body
	return msg, nil
}

// NotificationStore

func (m *memStore) List(ctx context.Context, userID string) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("List")
	return append([]Notification(nil), m.notes[userID]...), nil
}

func (m *memStore) UnreadCount(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("UnreadCount")
	var n int64
	for _, note := range m.notes[userID] {
		if !note.Read {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Create(ctx context.Context, userID, kind, body string) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := Notification{ID: m.id("n"), UserID: userID, Kind: kind, Body: body, CreatedAt: time.Now().UTC()}
	m.notes[userID] = append(m.notes[userID], n)
	return n, nil
}

func (m *memStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notes[userID] {
		if n.ID == notificationID {
			m.notes[userID][i].Read = true
			return nil
		}
	}
	return errNotFound
}

// UserStore

func (m *memStore) Profile(ctx context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read("Profile")
	u, ok := m.users[userID]
	if !ok {
		return User{}, errNotFound
	}
	return u, nil
}

func (m *memStore) UpdateProfile(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memStore) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.friends[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) ChatIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.chats {
		for _, id := range c.Members {
			if id == userID {
				out = append(out, c.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

type sentEvent struct {
	users []string
	event notify.Event
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, userIDs []string, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{users: userIDs, event: event})
	return n.err
}

func (n *recordingNotifier) events() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.sent...)
}

type fixture struct {
	store    *memStore
	notifier *recordingNotifier
	deps     Deps
}

// newFixture wires services over a miniredis-backed registry and an inline
// dispatcher of the default rules.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)

	opts := cache.DefaultOptions()
	opts.PodID = "svc-test"
	opts.RedisAddr = mr.Addr()
	reg, err := cache.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	store := newMemStore()
	for _, u := range []User{{ID: "7", Name: "alice"}, {ID: "42", Name: "bob"}, {ID: "9", Name: "carol"}} {
		store.users[u.ID] = u
	}
	n := &recordingNotifier{}
	return &fixture{
		store:    store,
		notifier: n,
		deps: Deps{
			Registry:    reg,
			Invalidator: invalidation.NewDispatcher(invalidation.DefaultMap(), reg),
			Notifier:    n,
		},
	}
}
