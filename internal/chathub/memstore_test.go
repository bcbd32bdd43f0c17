package chathub_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// joinPair registers two connections and joins them as "alice" and "bob",
// draining the resulting events.
func joinPair(t *testing.T, core *testCore) (alice, bob *mockClient) {
	t.Helper()
	alice = newMockClient("conn_alice")
	bob = newMockClient("conn_bob")
	core.hub.Register(alice)
	core.hub.Register(bob)
	if err := core.sessions.Bind(alice, "alice"); err != nil {
		t.Fatalf("alice join failed: %v", err)
	}
	if err := core.sessions.Bind(bob, "bob"); err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	alice.drain()
	bob.drain()
	return alice, bob
}

// makeFriends runs the request/accept flow between two joined clients and
// returns the id of the chat it produced. Events are drained.
func makeFriends(t *testing.T, core *testCore, alice, bob *mockClient) string {
	t.Helper()
	if err := core.friends.SendRequest(alice.GetUserID(), "bob"); err != nil {
		t.Fatalf("friend request failed: %v", err)
	}
	bob.drain()
	if err := core.friends.AcceptRequest(bob.GetUserID(), "alice"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	var chatID string
	for _, evt := range bob.drain() {
		if evt.Event == models.EventNewChat {
			chatID = evt.Data.(models.NewChatPayload).Chat.ID
		}
	}
	alice.drain()
	if chatID == "" {
		t.Fatal("no newChat event after accept")
	}
	return chatID
}

// memStore is an in-memory storage.Storage used for scenario tests where the
// full join/request/accept/send flow runs against real state.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User // by id
	chats    map[string]*models.Chat // by id
	pairKeys map[string]string       // pair key -> chat id
	messages map[string]*models.Message
	msgOrder []string
	online   map[string]bool

	nextReaction uint
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*models.User),
		chats:    make(map[string]*models.Chat),
		pairKeys: make(map[string]string),
		messages: make(map[string]*models.Message),
		online:   make(map[string]bool),
	}
}

func (s *memStore) GetOrCreateUser(username string) (*models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, false, nil
		}
	}
	u := &models.User{
		ID:              uuid.New().String(),
		Username:        username,
		Friends:         pq.StringArray{},
		PendingRequests: pq.StringArray{},
		CreatedAt:       time.Now(),
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, true, nil
}

func (s *memStore) GetUserByID(id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetUserByUsername(username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) SetPresence(userID string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("no such user %s", userID)
	}
	u.IsOnline = online
	if !online {
		u.LastSeen = lastSeen
	}
	return nil
}

func (s *memStore) AddPendingRequest(toID, fromID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.users[toID]
	if !ok {
		return fmt.Errorf("no such user %s", toID)
	}
	if !target.HasPendingFrom(fromID) {
		target.PendingRequests = append(target.PendingRequests, fromID)
	}
	return nil
}

func (s *memStore) AcceptFriendship(accepterID, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	accepter, ok := s.users[accepterID]
	if !ok {
		return fmt.Errorf("no such user %s", accepterID)
	}
	requester, ok := s.users[requesterID]
	if !ok {
		return fmt.Errorf("no such user %s", requesterID)
	}
	accepter.PendingRequests = removeFrom(accepter.PendingRequests, requesterID)
	requester.PendingRequests = removeFrom(requester.PendingRequests, accepterID)
	if !accepter.HasFriend(requesterID) {
		accepter.Friends = append(accepter.Friends, requesterID)
	}
	if !requester.HasFriend(accepterID) {
		requester.Friends = append(requester.Friends, accepterID)
	}
	return nil
}

func removeFrom(ids pq.StringArray, target string) pq.StringArray {
	out := pq.StringArray{}
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (s *memStore) ListChatsForUser(userID string) ([]models.ChatView, error) {
	s.mu.Lock()
	var ids []string
	for id, chat := range s.chats {
		if chat.HasParticipant(userID) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)

	views := make([]models.ChatView, 0, len(ids))
	for _, id := range ids {
		view, err := s.ResolveChatView(id)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (s *memStore) ResolveChatView(chatID string) (*models.ChatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	view := &models.ChatView{ID: chat.ID, CreatedAt: chat.CreatedAt}
	for _, pid := range chat.Participants {
		if u, ok := s.users[pid]; ok {
			view.Participants = append(view.Participants, *u)
		}
	}
	if chat.LastMessageID != nil {
		if msg, ok := s.messages[*chat.LastMessageID]; ok {
			cp := *msg
			view.LastMessage = &cp
		}
	}
	return view, nil
}

func (s *memStore) GetChatByID(id string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, nil
	}
	cp := *chat
	return &cp, nil
}

func (s *memStore) GetOrCreateChat(participantIDs []string) (*models.Chat, bool, error) {
	distinct := make(map[string]struct{})
	for _, id := range participantIDs {
		distinct[id] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil, false, storage.ErrInvalidParticipants
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.PairKeyFor(participantIDs)
	if id, ok := s.pairKeys[key]; ok {
		cp := *s.chats[id]
		return &cp, false, nil
	}
	chat := &models.Chat{
		ID:           uuid.New().String(),
		PairKey:      key,
		Participants: pq.StringArray(participantIDs),
		CreatedAt:    time.Now(),
	}
	s.chats[chat.ID] = chat
	s.pairKeys[key] = chat.ID
	cp := *chat
	return &cp, true, nil
}

func (s *memStore) SetLastMessage(chatID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return fmt.Errorf("no such chat %s", chatID)
	}
	chat.LastMessageID = &messageID
	return nil
}

func (s *memStore) SaveMessage(msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.msgOrder = append(s.msgOrder, msg.ID)
	return nil
}

func (s *memStore) GetMessageByID(id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (s *memStore) ListMessages(chatID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, id := range s.msgOrder {
		if s.messages[id].ChatID == chatID {
			out = append(out, *s.messages[id])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) AddReaction(r *models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[r.MessageID]
	if !ok {
		return fmt.Errorf("no such message %s", r.MessageID)
	}
	s.nextReaction++
	r.ID = s.nextReaction
	r.CreatedAt = time.Now()
	msg.Reactions = append(msg.Reactions, *r)
	return nil
}

func (s *memStore) MarkRead(messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("no such message %s", messageID)
	}
	if !msg.WasReadBy(userID) {
		msg.ReadBy = append(msg.ReadBy, userID)
	}
	return nil
}

func (s *memStore) PublishEvent(env models.Envelope) error { return nil }

func (s *memStore) SubscribeEvents(ctx context.Context) (<-chan models.Envelope, error) {
	ch := make(chan models.Envelope)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *memStore) AddOnlineUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = true
	return nil
}

func (s *memStore) RemoveOnlineUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online, userID)
	return nil
}

func (s *memStore) GetOnlineUsers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.online {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) ListOnlineUsers() ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []models.User
	for _, u := range s.users {
		if u.IsOnline {
			users = append(users, *u)
		}
	}
	return users, nil
}
