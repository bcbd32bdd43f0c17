package chathub

import (
	"strings"

	"chatlink/backend/internal/metrics"
	"chatlink/backend/internal/models"
	"chatlink/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// RouterService accepts messages, reactions, and read receipts, persists them
// through the directory store, and fans the result out to every connection
// subscribed to the chat.
type RouterService struct {
	hub     *ManagerService
	storage storage.Storage

	// chatLocks serializes accept-and-deliver per chat id, which is what
	// gives the per-conversation ordering guarantee.
	chatLocks *keyedMutex
}

func NewRouterService(hub *ManagerService, s storage.Storage) *RouterService {
	return &RouterService{
		hub:       hub,
		storage:   s,
		chatLocks: newKeyedMutex(),
	}
}

// Send validates, persists, and delivers a new message. The returned message
// has the sender resolved.
func (r *RouterService) Send(senderID, chatID, content, msgType string) (*models.MessageView, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !models.ValidMessageType(msgType) {
		return nil, ErrInvalidMessageType
	}

	chat, err := r.storage.GetChatByID(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if !chat.HasParticipant(senderID) {
		return nil, ErrForbidden
	}

	sender, err := r.storage.GetUserByID(senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrUserNotFound
	}

	r.chatLocks.Lock(chatID)
	defer r.chatLocks.Unlock(chatID)

	msg := &models.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
		Type:     msgType,
	}
	if err := r.storage.SaveMessage(msg); err != nil {
		return nil, err
	}
	if err := r.storage.SetLastMessage(chatID, msg.ID); err != nil {
		return nil, err
	}

	view := &models.MessageView{Message: *msg, Sender: *sender}
	r.hub.BroadcastChat(chatID, models.Event{
		Event: models.EventNewMessage,
		Data:  view,
	})
	metrics.MessagesTotal.Inc()
	return view, nil
}

// requireParticipant rejects actors who do not belong to the chat. Reactions
// and read receipts fan out into the chat, so a non-participant must not be
// able to trigger them by guessing a message id.
func (r *RouterService) requireParticipant(userID, chatID string) error {
	chat, err := r.storage.GetChatByID(chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return ErrChatNotFound
	}
	if !chat.HasParticipant(userID) {
		return ErrForbidden
	}
	return nil
}

// AddReaction appends a reaction to an existing message and fans it out to
// the message's chat. Repeated reactions accumulate; the store keeps them in
// append order.
func (r *RouterService) AddReaction(userID, messageID, emoji string) (*models.Reaction, error) {
	if emoji == "" {
		return nil, ErrMalformedPayload
	}
	msg, err := r.storage.GetMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if err := r.requireParticipant(userID, msg.ChatID); err != nil {
		return nil, err
	}

	reaction := &models.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}

	r.chatLocks.Lock(msg.ChatID)
	defer r.chatLocks.Unlock(msg.ChatID)

	if err := r.storage.AddReaction(reaction); err != nil {
		return nil, err
	}

	r.hub.BroadcastChat(msg.ChatID, models.Event{
		Event: models.EventMessageReaction,
		Data:  models.MessageReactionPayload{MessageID: messageID, Reaction: *reaction},
	})
	return reaction, nil
}

// MarkRead records that userID has seen the message. Idempotent: marking a
// message read twice leaves the read set unchanged and is not an error.
func (r *RouterService) MarkRead(userID, messageID string) error {
	msg, err := r.storage.GetMessageByID(messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if err := r.requireParticipant(userID, msg.ChatID); err != nil {
		return err
	}
	if msg.WasReadBy(userID) {
		return nil
	}

	if err := r.storage.MarkRead(messageID, userID); err != nil {
		return err
	}
	r.hub.BroadcastChat(msg.ChatID, models.Event{
		Event: models.EventMessageRead,
		Data:  models.MessageReadPayload{MessageID: messageID, UserID: userID},
	})
	log.Debug().Str("message_id", messageID).Str("user_id", userID).Msg("message marked read")
	return nil
}
