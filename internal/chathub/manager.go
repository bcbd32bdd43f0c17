package chathub

import (
	"context"
	"sync"
	"time"

	"chatlink/backend/internal/metrics"
	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ManagerService owns the routing state of the process: which connections
// exist, which user each one is bound to, and which chat each one is
// subscribed to. All of it is a cache over the directory store plus live
// connection state; nothing here is authoritative.
type ManagerService struct {
	mu        sync.RWMutex
	clients   map[string]Client            // connID -> client
	users     map[string]map[string]Client // userID -> connID -> client
	chats     map[string]map[string]Client // chatID -> connID -> client
	connChats map[string]map[string]bool   // connID -> subscribed chat ids

	// instanceID tags relayed envelopes so this instance can skip its own
	// echoes coming back from Redis.
	instanceID string

	Storage storage.Storage
}

func NewManagerService(s storage.Storage) *ManagerService {
	return &ManagerService{
		clients:    make(map[string]Client),
		users:      make(map[string]map[string]Client),
		chats:      make(map[string]map[string]Client),
		connChats:  make(map[string]map[string]bool),
		instanceID: uuid.New().String(),
		Storage:    s,
	}
}

// Register adds an unbound connection. Identity is attached later via Bind,
// once the join event resolves a user.
func (m *ManagerService) Register(c Client) {
	m.mu.Lock()
	m.clients[c.GetConnID()] = c
	m.mu.Unlock()

	metrics.WsConnections.Inc()
	log.Debug().Str("conn_id", c.GetConnID()).Msg("connection registered")
}

// Bind associates a connection with a resolved user and subscribes it to the
// user's chats.
func (m *ManagerService) Bind(c Client, userID string, chatIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A rebind to a different user must not leave the connection in the old
	// user's index, where it would soak up that user's events.
	if prev := c.GetUserID(); prev != "" && prev != userID {
		if conns := m.users[prev]; conns != nil {
			delete(conns, c.GetConnID())
			if len(conns) == 0 {
				delete(m.users, prev)
			}
		}
	}

	c.SetUserID(userID)
	conns := m.users[userID]
	if conns == nil {
		conns = make(map[string]Client)
		m.users[userID] = conns
	}
	conns[c.GetConnID()] = c

	for _, chatID := range chatIDs {
		m.subscribeLocked(c, chatID)
	}
}

// SubscribeUser adds every live connection of userID to the chat's delivery
// set. Called when a chat comes into existence after the user already joined.
func (m *ManagerService) SubscribeUser(userID, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.users[userID] {
		m.subscribeLocked(c, chatID)
	}
}

func (m *ManagerService) subscribeLocked(c Client, chatID string) {
	subs := m.chats[chatID]
	if subs == nil {
		subs = make(map[string]Client)
		m.chats[chatID] = subs
	}
	subs[c.GetConnID()] = c

	chats := m.connChats[c.GetConnID()]
	if chats == nil {
		chats = make(map[string]bool)
		m.connChats[c.GetConnID()] = chats
	}
	chats[chatID] = true
}

// Unregister removes a connection from every index. It returns the bound user
// id ("" if the connection never joined) and whether this was the user's last
// live connection.
func (m *ManagerService) Unregister(c Client) (userID string, last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := c.GetConnID()
	if _, ok := m.clients[connID]; !ok {
		return "", false
	}
	delete(m.clients, connID)
	metrics.WsConnections.Dec()

	for chatID := range m.connChats[connID] {
		delete(m.chats[chatID], connID)
		if len(m.chats[chatID]) == 0 {
			delete(m.chats, chatID)
		}
	}
	delete(m.connChats, connID)

	userID = c.GetUserID()
	if userID == "" {
		return "", false
	}
	conns := m.users[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(m.users, userID)
		return userID, true
	}
	return userID, false
}

// ConnCount returns the number of live connections for a user.
func (m *ManagerService) ConnCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

// BroadcastAll delivers an event to every connection, joined or not, and
// relays it to the other instances. Presence changes use this: the contact
// list shows online status for any user, not only chat partners.
func (m *ManagerService) BroadcastAll(evt models.Event) {
	m.localBroadcastAll(evt)
	m.relay(models.ScopeAll, "", evt)
}

// BroadcastChat delivers an event to every connection subscribed to the chat.
// Delivery is per connection: a user with several connections receives the
// event once on each.
func (m *ManagerService) BroadcastChat(chatID string, evt models.Event) {
	m.localBroadcastChat(chatID, "", evt)
	m.relay(models.ScopeChat, chatID, evt)
}

// BroadcastChatExcept is BroadcastChat minus one connection, used for typing
// signals so the typist does not see their own indicator.
func (m *ManagerService) BroadcastChatExcept(chatID, exceptConnID string, evt models.Event) {
	m.localBroadcastChat(chatID, exceptConnID, evt)
	m.relay(models.ScopeChat, chatID, evt)
}

// SendToUser delivers an event to every connection of one user.
func (m *ManagerService) SendToUser(userID string, evt models.Event) {
	m.localSendToUser(userID, evt)
	m.relay(models.ScopeUser, userID, evt)
}

func (m *ManagerService) localBroadcastAll(evt models.Event) {
	m.mu.RLock()
	slow := deliverAll(m.clients, "", evt)
	m.mu.RUnlock()
	m.dropSlow(slow)
}

func (m *ManagerService) localBroadcastChat(chatID, exceptConnID string, evt models.Event) {
	m.mu.RLock()
	slow := deliverAll(m.chats[chatID], exceptConnID, evt)
	m.mu.RUnlock()
	m.dropSlow(slow)
}

func (m *ManagerService) localSendToUser(userID string, evt models.Event) {
	m.mu.RLock()
	slow := deliverAll(m.users[userID], "", evt)
	m.mu.RUnlock()
	m.dropSlow(slow)
}

// deliverAll pushes evt into each client's send channel without blocking.
// Clients whose buffers are full are returned for disconnection.
func deliverAll(clients map[string]Client, exceptConnID string, evt models.Event) []Client {
	var slow []Client
	for connID, c := range clients {
		if connID == exceptConnID {
			continue
		}
		select {
		case c.GetSendChannel() <- evt:
			metrics.EventsDelivered.Inc()
		default:
			slow = append(slow, c)
		}
	}
	return slow
}

// dropSlow closes clients that could not keep up. The client's send channel
// stays open: the hub may still hold the client in its indexes until the
// read pump exits and unregisters it, and deliveries in that window must
// land in the dead buffer instead of panicking.
func (m *ManagerService) dropSlow(clients []Client) {
	for _, c := range clients {
		log.Warn().Str("conn_id", c.GetConnID()).Msg("dropping slow client")
		c.Close()
	}
}

func (m *ManagerService) relay(scope, targetID string, evt models.Event) {
	env := models.Envelope{
		Origin:   m.instanceID,
		Scope:    scope,
		TargetID: targetID,
		Event:    evt,
	}
	if err := m.Storage.PublishEvent(env); err != nil {
		log.Warn().Err(err).Str("scope", scope).Msg("event relay publish failed")
	}
}

// RunRelay consumes envelopes published by the other instances and replays
// them against local connections. Blocks until ctx is cancelled.
func (m *ManagerService) RunRelay(ctx context.Context) error {
	events, err := m.Storage.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("instance_id", m.instanceID).Msg("event relay started")

	for env := range events {
		if env.Origin == m.instanceID {
			continue
		}
		switch env.Scope {
		case models.ScopeAll:
			m.localBroadcastAll(env.Event)
		case models.ScopeChat:
			m.localBroadcastChat(env.TargetID, "", env.Event)
		case models.ScopeUser:
			m.localSendToUser(env.TargetID, env.Event)
		default:
			log.Warn().Str("scope", env.Scope).Msg("ignoring envelope with unknown scope")
		}
	}
	return nil
}

// RecoverPresence repairs users left flagged online by an unclean shutdown.
// At process start no connection exists yet, so anything marked online in the
// database or the shared online set is stale. Both sources are cleared: the
// two can disagree after a crash between the paired writes.
func (m *ManagerService) RecoverPresence() error {
	stale, err := m.Storage.ListOnlineUsers()
	if err != nil {
		return err
	}
	now := time.Now()
	cleared := make(map[string]bool, len(stale))
	for _, user := range stale {
		if err := m.Storage.SetPresence(user.ID, false, now); err != nil {
			return err
		}
		if err := m.Storage.RemoveOnlineUser(user.ID); err != nil {
			return err
		}
		cleared[user.ID] = true
	}

	ids, err := m.Storage.GetOnlineUsers()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if cleared[id] {
			continue
		}
		if err := m.Storage.SetPresence(id, false, now); err != nil {
			return err
		}
		if err := m.Storage.RemoveOnlineUser(id); err != nil {
			return err
		}
		cleared[id] = true
	}

	if len(cleared) > 0 {
		log.Info().Int("users", len(cleared)).Msg("cleared stale online flags")
	}
	return nil
}
