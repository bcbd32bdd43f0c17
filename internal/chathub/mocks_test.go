package chathub_test

import (
	"context"
	"sync"
	"time"

	"chatlink/backend/internal/chathub"
	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// testCore bundles the full set of collaborators wired the same way main does.
type testCore struct {
	hub        *chathub.ManagerService
	sessions   *chathub.SessionService
	friends    *chathub.FriendService
	router     *chathub.RouterService
	typing     *chathub.TypingTracker
	dispatcher *chathub.Dispatcher
}

func newTestCore(s storage.Storage, typingTimeout time.Duration) *testCore {
	hub := chathub.NewManagerService(s)
	typing := chathub.NewTypingTracker(hub, typingTimeout)
	sessions := chathub.NewSessionService(hub, s, typing)
	friends := chathub.NewFriendService(hub, s)
	router := chathub.NewRouterService(hub, s)
	return &testCore{
		hub:        hub,
		sessions:   sessions,
		friends:    friends,
		router:     router,
		typing:     typing,
		dispatcher: chathub.NewDispatcher(sessions, friends, router, typing, s),
	}
}

// MockStorage is a testify mock of the storage.Storage interface for tests
// that need precise expectation control.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetOrCreateUser(username string) (*models.User, bool, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.User), args.Bool(1), args.Error(2)
}

func (m *MockStorage) GetUserByID(id string) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) GetUserByUsername(username string) (*models.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStorage) SetPresence(userID string, online bool, lastSeen time.Time) error {
	args := m.Called(userID, online, lastSeen)
	return args.Error(0)
}

func (m *MockStorage) AddPendingRequest(toID, fromID string) error {
	args := m.Called(toID, fromID)
	return args.Error(0)
}

func (m *MockStorage) AcceptFriendship(accepterID, requesterID string) error {
	args := m.Called(accepterID, requesterID)
	return args.Error(0)
}

func (m *MockStorage) ListChatsForUser(userID string) ([]models.ChatView, error) {
	args := m.Called(userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatView), args.Error(1)
}

func (m *MockStorage) ResolveChatView(chatID string) (*models.ChatView, error) {
	args := m.Called(chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatView), args.Error(1)
}

func (m *MockStorage) GetChatByID(id string) (*models.Chat, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chat), args.Error(1)
}

func (m *MockStorage) GetOrCreateChat(participantIDs []string) (*models.Chat, bool, error) {
	args := m.Called(participantIDs)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Chat), args.Bool(1), args.Error(2)
}

func (m *MockStorage) SetLastMessage(chatID, messageID string) error {
	args := m.Called(chatID, messageID)
	return args.Error(0)
}

func (m *MockStorage) SaveMessage(msg *models.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) GetMessageByID(id string) (*models.Message, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStorage) ListMessages(chatID string, limit int) ([]models.Message, error) {
	args := m.Called(chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStorage) AddReaction(r *models.Reaction) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockStorage) MarkRead(messageID, userID string) error {
	args := m.Called(messageID, userID)
	return args.Error(0)
}

func (m *MockStorage) PublishEvent(env models.Envelope) error {
	args := m.Called(env)
	return args.Error(0)
}

func (m *MockStorage) SubscribeEvents(ctx context.Context) (<-chan models.Envelope, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan models.Envelope), args.Error(1)
}

func (m *MockStorage) AddOnlineUser(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) RemoveOnlineUser(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) GetOnlineUsers() ([]string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) ListOnlineUsers() ([]models.User, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

// allowRelay accepts the relay publish that every broadcast performs.
func allowRelay(m *MockStorage) {
	m.On("PublishEvent", mock.AnythingOfType("models.Envelope")).Return(nil).Maybe()
}

func anyTime() interface{} { return mock.AnythingOfType("time.Time") }

// mockClient is a lightweight test double for the Client interface. Events
// pushed by the hub land in RecvChannel.
type mockClient struct {
	connID      string
	userID      string
	RecvChannel chan models.Event

	closeOnce sync.Once
	closed    bool
}

func newMockClient(connID string) *mockClient {
	return &mockClient{
		connID:      connID,
		RecvChannel: make(chan models.Event, 32),
	}
}

func (c *mockClient) GetConnID() string                   { return c.connID }
func (c *mockClient) GetUserID() string                   { return c.userID }
func (c *mockClient) SetUserID(id string)                 { c.userID = id }
func (c *mockClient) GetSendChannel() chan<- models.Event { return c.RecvChannel }
func (c *mockClient) Run()                                {}

// Close marks the client dead without closing RecvChannel, mirroring the
// production client: the hub may still attempt deliveries until the
// connection unregisters.
func (c *mockClient) Close() {
	c.closeOnce.Do(func() {
		c.closed = true
	})
}

// drain empties the receive channel and returns everything seen so far.
func (c *mockClient) drain() []models.Event {
	var events []models.Event
	for {
		select {
		case evt := <-c.RecvChannel:
			events = append(events, evt)
		default:
			return events
		}
	}
}

// eventNames is a convenience for order assertions.
func eventNames(events []models.Event) []string {
	names := make([]string, 0, len(events))
	for _, evt := range events {
		names = append(names, evt.Event)
	}
	return names
}
