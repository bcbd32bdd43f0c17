package chathub

import (
	"time"

	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// SessionService is the identity registry: it resolves a connection to a user
// on join and tears the association down on disconnect.
type SessionService struct {
	hub     *ManagerService
	storage storage.Storage
	typing  *TypingTracker

	// usernameLocks serializes join per username so two racing joins with the
	// same unseen name cannot create two user records.
	usernameLocks *keyedMutex
}

func NewSessionService(hub *ManagerService, s storage.Storage, typing *TypingTracker) *SessionService {
	return &SessionService{
		hub:           hub,
		storage:       s,
		typing:        typing,
		usernameLocks: newKeyedMutex(),
	}
}

// Bind looks up or lazily creates the user for username, marks it online,
// associates the connection, and replies with the full initialize payload.
// Every bind also announces the presence change to all connections.
func (s *SessionService) Bind(c Client, username string) error {
	if username == "" {
		return ErrMalformedPayload
	}
	// A bound connection keeps its identity for life. Rebinding would leave
	// the old user's hub index pointing at this connection, so the old user
	// would never flip offline and would receive the new user's traffic.
	if c.GetUserID() != "" {
		return ErrAlreadyJoined
	}

	s.usernameLocks.Lock(username)
	user, created, err := s.storage.GetOrCreateUser(username)
	s.usernameLocks.Unlock(username)
	if err != nil {
		return err
	}

	// Read the chat list before touching presence: a failed join must not
	// leave the user flagged online with no connection bound to it.
	chats, err := s.storage.ListChatsForUser(user.ID)
	if err != nil {
		return err
	}
	chatIDs := make([]string, 0, len(chats))
	for _, chat := range chats {
		chatIDs = append(chatIDs, chat.ID)
	}

	if err := s.storage.SetPresence(user.ID, true, time.Time{}); err != nil {
		return err
	}
	if err := s.storage.AddOnlineUser(user.ID); err != nil {
		if perr := s.storage.SetPresence(user.ID, false, time.Now()); perr != nil {
			log.Error().Err(perr).Str("user_id", user.ID).Msg("failed to roll back presence after join error")
		}
		return err
	}
	user.IsOnline = true

	s.hub.Bind(c, user.ID, chatIDs)

	c.GetSendChannel() <- models.Event{
		Event: models.EventInitialize,
		Data:  models.InitializePayload{User: *user, Chats: chats},
	}
	s.hub.BroadcastAll(models.Event{
		Event: models.EventUserStatus,
		Data:  models.UserStatusPayload{UserID: user.ID, IsOnline: true},
	})

	log.Info().
		Str("user_id", user.ID).
		Str("username", username).
		Bool("created", created).
		Int("chats", len(chats)).
		Msg("user joined")
	return nil
}

// Unbind handles a disconnect. Ephemeral typing state for the connection's
// user is released, and when the last connection goes away the user flips
// offline with lastSeen recorded and a status broadcast.
func (s *SessionService) Unbind(c Client) {
	userID, last := s.hub.Unregister(c)
	if userID == "" {
		return
	}

	if !last {
		log.Debug().Str("user_id", userID).Msg("connection closed, user still online")
		return
	}

	s.typing.ClearUser(userID)

	now := time.Now()
	if err := s.storage.SetPresence(userID, false, now); err != nil {
		// Presence must not stay stuck online; RecoverPresence picks this up
		// on the next start, but log loudly.
		log.Error().Err(err).Str("user_id", userID).Msg("failed to mark user offline")
	}
	if err := s.storage.RemoveOnlineUser(userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to remove user from online set")
	}

	s.hub.BroadcastAll(models.Event{
		Event: models.EventUserStatus,
		Data:  models.UserStatusPayload{UserID: userID, IsOnline: false},
	})
	log.Info().Str("user_id", userID).Msg("user went offline")
}
