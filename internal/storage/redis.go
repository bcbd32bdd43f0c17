package storage

import (
	"context"
	"encoding/json"

	"chatlink/backend/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	// eventsChannel carries outbound events between instances.
	eventsChannel = "chatlink:events"
	// onlineUsersKey is the Redis set of currently online user ids. It backs
	// presence recovery after a restart; live connection state stays in memory.
	onlineUsersKey = "chatlink:online_users"
)

// PublishEvent relays an outbound event to the other instances via Redis.
func (s *Service) PublishEvent(env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, eventsChannel, payload).Err()
}

// SubscribeEvents returns a channel of relayed envelopes. The subscription is
// closed when ctx is cancelled.
func (s *Service) SubscribeEvents(ctx context.Context) (<-chan models.Envelope, error) {
	pubsub := s.Redis.Subscribe(ctx, eventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan models.Envelope, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for msg := range pubsub.Channel() {
			var env models.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Err(err).Msg("dropping malformed relay envelope")
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) AddOnlineUser(userID string) error {
	return s.Redis.SAdd(s.Ctx, onlineUsersKey, userID).Err()
}

func (s *Service) RemoveOnlineUser(userID string) error {
	return s.Redis.SRem(s.Ctx, onlineUsersKey, userID).Err()
}

func (s *Service) GetOnlineUsers() ([]string, error) {
	return s.Redis.SMembers(s.Ctx, onlineUsersKey).Result()
}

// ListOnlineUsers reads the users flagged online in the database, used to
// repair presence after an unclean shutdown.
func (s *Service) ListOnlineUsers() ([]models.User, error) {
	var users []models.User
	if err := s.DB.Where("is_online = ?", true).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
