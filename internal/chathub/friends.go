package chathub

import (
	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// FriendService arbitrates the friend-request state machine. For each
// unordered user pair the relation is exactly one of: none, pending in one
// direction, friends. Transitions are serialized per pair.
type FriendService struct {
	hub     *ManagerService
	storage storage.Storage

	pairLocks *keyedMutex
}

func NewFriendService(hub *ManagerService, s storage.Storage) *FriendService {
	return &FriendService{
		hub:       hub,
		storage:   s,
		pairLocks: newKeyedMutex(),
	}
}

// SendRequest moves the pair from none to pending-from-actor. A request in
// either direction already pending, or an existing friendship, is rejected
// without touching state.
func (f *FriendService) SendRequest(actorID, targetUsername string) error {
	target, err := f.storage.GetUserByUsername(targetUsername)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrUserNotFound
	}
	if target.ID == actorID {
		return ErrSelfRequest
	}

	pairKey := models.PairKeyFor([]string{actorID, target.ID})
	f.pairLocks.Lock(pairKey)
	defer f.pairLocks.Unlock(pairKey)

	actor, err := f.storage.GetUserByID(actorID)
	if err != nil {
		return err
	}
	if actor == nil {
		return ErrUserNotFound
	}
	// Re-read the target under the pair lock; the cheap lookup above only
	// resolved the username.
	target, err = f.storage.GetUserByID(target.ID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrUserNotFound
	}

	if target.HasFriend(actorID) {
		return ErrAlreadyFriends
	}
	if target.HasPendingFrom(actorID) || actor.HasPendingFrom(target.ID) {
		return ErrAlreadyRequested
	}

	if err := f.storage.AddPendingRequest(target.ID, actorID); err != nil {
		return err
	}

	f.hub.SendToUser(target.ID, models.Event{
		Event: models.EventFriendRequest,
		Data:  models.FriendRequestNotice{From: actor.Username},
	})
	log.Info().
		Str("from", actor.Username).
		Str("to", target.Username).
		Msg("friend request sent")
	return nil
}

// AcceptRequest resolves a pending request into a friendship and its chat.
// Serialized per pair: two near-simultaneous accepts produce one friendship
// and one chat, the loser failing with ErrNoSuchRequest.
func (f *FriendService) AcceptRequest(actorID, requesterUsername string) error {
	requester, err := f.storage.GetUserByUsername(requesterUsername)
	if err != nil {
		return err
	}
	if requester == nil {
		return ErrUserNotFound
	}

	pairKey := models.PairKeyFor([]string{actorID, requester.ID})
	f.pairLocks.Lock(pairKey)
	defer f.pairLocks.Unlock(pairKey)

	actor, err := f.storage.GetUserByID(actorID)
	if err != nil {
		return err
	}
	if actor == nil {
		return ErrUserNotFound
	}
	// A withdrawn or never-sent request is tolerated as an error, not a crash.
	if !actor.HasPendingFrom(requester.ID) {
		return ErrNoSuchRequest
	}

	if err := f.storage.AcceptFriendship(actor.ID, requester.ID); err != nil {
		return err
	}

	chat, created, err := f.storage.GetOrCreateChat([]string{actor.ID, requester.ID})
	if err != nil {
		return err
	}
	view, err := f.storage.ResolveChatView(chat.ID)
	if err != nil {
		return err
	}
	if view == nil {
		return ErrChatNotFound
	}

	f.hub.SubscribeUser(actor.ID, chat.ID)
	f.hub.SubscribeUser(requester.ID, chat.ID)

	f.hub.SendToUser(requester.ID, models.Event{
		Event: models.EventFriendRequestAccepted,
		Data:  models.FriendRequestAcceptedPayload{Username: actor.Username, Chat: *view},
	})
	f.hub.SendToUser(actor.ID, models.Event{
		Event: models.EventNewChat,
		Data:  models.NewChatPayload{Chat: *view},
	})

	log.Info().
		Str("accepter", actor.Username).
		Str("requester", requester.Username).
		Str("chat_id", chat.ID).
		Bool("chat_created", created).
		Msg("friend request accepted")
	return nil
}
