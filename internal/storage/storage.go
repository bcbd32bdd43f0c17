package storage

import (
	"context"
	"errors"
	"time"

	"chatlink/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrInvalidParticipants is returned when a chat is requested for fewer than
// two distinct users.
var ErrInvalidParticipants = errors.New("a chat requires at least two distinct participants")

// Storage is the directory store boundary. Lookups return (nil, nil) when the
// record does not exist; callers decide whether that is an error.
type Storage interface {
	GetOrCreateUser(username string) (*models.User, bool, error)
	GetUserByID(id string) (*models.User, error)
	GetUserByUsername(username string) (*models.User, error)
	SetPresence(userID string, online bool, lastSeen time.Time) error

	AddPendingRequest(toID, fromID string) error
	AcceptFriendship(accepterID, requesterID string) error

	ListChatsForUser(userID string) ([]models.ChatView, error)
	ResolveChatView(chatID string) (*models.ChatView, error)
	GetChatByID(id string) (*models.Chat, error)
	GetOrCreateChat(participantIDs []string) (*models.Chat, bool, error)
	SetLastMessage(chatID, messageID string) error

	SaveMessage(msg *models.Message) error
	GetMessageByID(id string) (*models.Message, error)
	ListMessages(chatID string, limit int) ([]models.Message, error)
	AddReaction(r *models.Reaction) error
	MarkRead(messageID, userID string) error

	PublishEvent(env models.Envelope) error
	SubscribeEvents(ctx context.Context) (<-chan models.Envelope, error)
	AddOnlineUser(userID string) error
	RemoveOnlineUser(userID string) error
	GetOnlineUsers() ([]string, error)
	ListOnlineUsers() ([]models.User, error)
}

// Service implements Storage on PostgreSQL (via GORM) plus Redis for the
// online-user set and cross-instance event relay.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// GetOrCreateUser looks up a user by username and creates the record when it
// is unseen. The second return value reports whether a row was created.
// Uniqueness is enforced by the username index; callers still serialize
// per-username so a racing create does not surface a constraint error.
func (s *Service) GetOrCreateUser(username string) (*models.User, bool, error) {
	var user models.User
	res := s.DB.Where(models.User{Username: username}).
		Attrs(models.User{
			ID:              uuid.New().String(),
			Friends:         pq.StringArray{},
			PendingRequests: pq.StringArray{},
		}).
		FirstOrCreate(&user)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return &user, res.RowsAffected > 0, nil
}

func (s *Service) GetUserByID(id string) (*models.User, error) {
	var user models.User
	err := s.DB.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	err := s.DB.First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetPresence flips the online flag. lastSeen is only recorded on the
// transition to offline.
func (s *Service) SetPresence(userID string, online bool, lastSeen time.Time) error {
	updates := map[string]interface{}{"is_online": online}
	if !online {
		updates["last_seen"] = lastSeen
	}
	return s.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
}

// AddPendingRequest records fromID in toID's inbound pending set.
func (s *Service) AddPendingRequest(toID, fromID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.First(&target, "id = ?", toID).Error; err != nil {
			return err
		}
		if target.HasPendingFrom(fromID) {
			return nil
		}
		target.PendingRequests = append(target.PendingRequests, fromID)
		return tx.Save(&target).Error
	})
}

// AcceptFriendship resolves the pending request between accepter and
// requester: the pending entry is dropped on both sides and each user is added
// to the other's friends set, all in one transaction.
func (s *Service) AcceptFriendship(accepterID, requesterID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var accepter, requester models.User
		if err := tx.First(&accepter, "id = ?", accepterID).Error; err != nil {
			return err
		}
		if err := tx.First(&requester, "id = ?", requesterID).Error; err != nil {
			return err
		}

		accepter.PendingRequests = removeID(accepter.PendingRequests, requesterID)
		requester.PendingRequests = removeID(requester.PendingRequests, accepterID)
		if !accepter.HasFriend(requesterID) {
			accepter.Friends = append(accepter.Friends, requesterID)
		}
		if !requester.HasFriend(accepterID) {
			requester.Friends = append(requester.Friends, accepterID)
		}

		if err := tx.Save(&accepter).Error; err != nil {
			return err
		}
		return tx.Save(&requester).Error
	})
}

func removeID(ids pq.StringArray, target string) pq.StringArray {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ListChatsForUser returns the user's chats ordered by recency, each with
// participants and the last message resolved.
func (s *Service) ListChatsForUser(userID string) ([]models.ChatView, error) {
	var chats []models.Chat
	err := s.DB.Where("? = ANY(participants)", userID).
		Order("updated_at desc").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}

	views := make([]models.ChatView, 0, len(chats))
	for _, chat := range chats {
		view, err := s.resolveChat(&chat)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (s *Service) resolveChat(chat *models.Chat) (*models.ChatView, error) {
	var participants []models.User
	if err := s.DB.Where("id IN ?", []string(chat.Participants)).Find(&participants).Error; err != nil {
		return nil, err
	}

	view := &models.ChatView{
		ID:           chat.ID,
		Participants: participants,
		CreatedAt:    chat.CreatedAt,
	}
	if chat.LastMessageID != nil {
		last, err := s.GetMessageByID(*chat.LastMessageID)
		if err != nil {
			return nil, err
		}
		view.LastMessage = last
	}
	return view, nil
}

func (s *Service) GetChatByID(id string) (*models.Chat, error) {
	var chat models.Chat
	err := s.DB.First(&chat, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetOrCreateChat resolves the chat for the given participant set, creating it
// on first use. The pair key unique index guarantees one chat per pair even
// under concurrent accepts.
func (s *Service) GetOrCreateChat(participantIDs []string) (*models.Chat, bool, error) {
	distinct := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		distinct[id] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil, false, ErrInvalidParticipants
	}

	key := models.PairKeyFor(participantIDs)
	var chat models.Chat
	res := s.DB.Where(models.Chat{PairKey: key}).
		Attrs(models.Chat{
			ID:           uuid.New().String(),
			Participants: pq.StringArray(participantIDs),
		}).
		FirstOrCreate(&chat)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return &chat, res.RowsAffected > 0, nil
}

// ResolveChatView loads the wire representation of an existing chat.
func (s *Service) ResolveChatView(chatID string) (*models.ChatView, error) {
	chat, err := s.GetChatByID(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, nil
	}
	return s.resolveChat(chat)
}

func (s *Service) SetLastMessage(chatID, messageID string) error {
	return s.DB.Model(&models.Chat{}).
		Where("id = ?", chatID).
		Update("last_message_id", messageID).Error
}

func (s *Service) SaveMessage(msg *models.Message) error {
	if err := s.DB.Create(msg).Error; err != nil {
		log.Error().Err(err).Str("chat_id", msg.ChatID).Msg("failed to save message")
		return err
	}
	return nil
}

func (s *Service) GetMessageByID(id string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.Preload("Reactions").First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the chat's most recent messages in ascending order.
func (s *Service) ListMessages(chatID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var msgs []models.Message
	err := s.DB.Preload("Reactions").
		Where("chat_id = ?", chatID).
		Order("created_at desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Service) AddReaction(r *models.Reaction) error {
	return s.DB.Create(r).Error
}

// MarkRead appends userID to the message's read set. Idempotent: a repeated
// call for the same pair is a no-op.
func (s *Service) MarkRead(messageID, userID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.First(&msg, "id = ?", messageID).Error; err != nil {
			return err
		}
		if msg.WasReadBy(userID) {
			return nil
		}
		msg.ReadBy = append(msg.ReadBy, userID)
		return tx.Model(&models.Message{}).
			Where("id = ?", messageID).
			Update("read_by", msg.ReadBy).Error
	})
}
