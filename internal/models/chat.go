package models

import (
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Chat is a two-party conversation. It is created exactly once per accepted
// friend request; the PairKey unique index makes creation idempotent at the
// database level.
type Chat struct {
	ID string `gorm:"primaryKey" json:"id"`
	// PairKey is the sorted participant ids joined with "|". Unique, so a
	// second create for the same pair resolves to the existing row.
	PairKey      string         `gorm:"uniqueIndex;not null" json:"-"`
	Participants pq.StringArray `gorm:"type:text[];not null" json:"participants"`

	LastMessageID *string `gorm:"index" json:"lastMessageId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is bumped on every new message, which gives the
	// ordered-by-recency chat listing for free.
	UpdatedAt time.Time `json:"-"`
}

// PairKeyFor normalizes a participant set into the canonical chat key.
func PairKeyFor(participantIDs []string) string {
	ids := append([]string(nil), participantIDs...)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatView is the wire representation of a chat, with participants and the
// last message resolved to full records.
type ChatView struct {
	ID           string    `json:"id"`
	Participants []User    `json:"participants"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
