package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Message types accepted on send.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeGif   = "gif"
)

// ValidMessageType reports whether t is one of the accepted message types.
func ValidMessageType(t string) bool {
	return t == MessageTypeText || t == MessageTypeImage || t == MessageTypeGif
}

// Message is a persisted chat message. Immutable after creation except for
// ReadBy appends and attached reactions.
type Message struct {
	ID       string `gorm:"primaryKey" json:"id"`
	ChatID   string `gorm:"index:idx_chat_msg;not null" json:"chatId"`
	SenderID string `gorm:"not null" json:"senderId"`
	Content  string `gorm:"type:text;not null" json:"content"`
	Type     string `gorm:"not null" json:"type"`

	Reactions []Reaction     `gorm:"foreignKey:MessageID" json:"reactions"`
	ReadBy    pq.StringArray `gorm:"type:text[]" json:"readBy"`

	CreatedAt time.Time `json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// WasReadBy reports whether userID is already in the read set.
func (m *Message) WasReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Reaction is an emoji attached to a message. The autoincrement primary key
// preserves append order. Repeated reactions by the same user accumulate.
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID string    `gorm:"index;not null" json:"-"`
	UserID    string    `gorm:"not null" json:"userId"`
	Emoji     string    `gorm:"not null" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageView is the wire representation of a message with the sender resolved.
type MessageView struct {
	Message
	Sender User `json:"sender"`
}
