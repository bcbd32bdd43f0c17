package chathub

import (
	"sync"
	"time"

	"chatlink/backend/internal/models"
)

// DefaultTypingTimeout matches the client-side debounce: with no refresh or
// explicit stop within this window the indicator expires on its own.
const DefaultTypingTimeout = time.Second

type typingKey struct {
	userID string
	chatID string
}

// typingEntry holds one live indicator. gen identifies the most recent arm of
// the timer: an expiry callback racing with a refresh carries the generation
// it was armed with and yields when it no longer matches.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingTracker holds the ephemeral who-is-typing-where state. Nothing here
// is persisted; the map starts empty at process start and entries live only
// between a typing signal and its stop or expiry.
type TypingTracker struct {
	hub     *ManagerService
	timeout time.Duration

	mu      sync.Mutex
	entries map[typingKey]*typingEntry
	nextGen uint64
}

func NewTypingTracker(hub *ManagerService, timeout time.Duration) *TypingTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingTracker{
		hub:     hub,
		timeout: timeout,
		entries: make(map[typingKey]*typingEntry),
	}
}

// Start begins or refreshes the indicator for (userID, chatID). The first
// signal broadcasts userTyping; refreshes only rearm the expiry timer.
// Indicators for the same user in different chats are independent.
func (t *TypingTracker) Start(userID, chatID, originConnID string) {
	key := typingKey{userID: userID, chatID: chatID}

	t.mu.Lock()
	if entry, ok := t.entries[key]; ok {
		// Rearm under a fresh generation. The old timer's callback may
		// already be in flight; its stale generation makes it a no-op.
		entry.timer.Stop()
		t.nextGen++
		gen := t.nextGen
		entry.gen = gen
		entry.timer = time.AfterFunc(t.timeout, func() { t.expire(key, gen) })
		t.mu.Unlock()
		return
	}
	t.nextGen++
	gen := t.nextGen
	t.entries[key] = &typingEntry{
		gen:   gen,
		timer: time.AfterFunc(t.timeout, func() { t.expire(key, gen) }),
	}
	t.mu.Unlock()

	t.hub.BroadcastChatExcept(chatID, originConnID, models.Event{
		Event: models.EventUserTyping,
		Data:  models.TypingNotice{UserID: userID, ChatID: chatID},
	})
}

// Stop cancels the indicator and broadcasts immediately. A stop without a
// matching start is a no-op.
func (t *TypingTracker) Stop(userID, chatID, originConnID string) {
	key := typingKey{userID: userID, chatID: chatID}

	t.mu.Lock()
	entry, ok := t.entries[key]
	if ok {
		entry.timer.Stop()
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.hub.BroadcastChatExcept(chatID, originConnID, models.Event{
		Event: models.EventUserStoppedTyping,
		Data:  models.TypingNotice{UserID: userID, ChatID: chatID},
	})
}

// expire fires when no refresh or stop arrived in time. gen guards against a
// refresh that landed between the timer firing and this callback running.
func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	t.hub.BroadcastChat(key.chatID, models.Event{
		Event: models.EventUserStoppedTyping,
		Data:  models.TypingNotice{UserID: key.userID, ChatID: key.chatID},
	})
}

// ClearUser releases every indicator held for a user, broadcasting stops for
// the affected chats. Called when the user's last connection goes away.
func (t *TypingTracker) ClearUser(userID string) {
	t.mu.Lock()
	var cleared []typingKey
	for key, entry := range t.entries {
		if key.userID != userID {
			continue
		}
		entry.timer.Stop()
		delete(t.entries, key)
		cleared = append(cleared, key)
	}
	t.mu.Unlock()

	for _, key := range cleared {
		t.hub.BroadcastChat(key.chatID, models.Event{
			Event: models.EventUserStoppedTyping,
			Data:  models.TypingNotice{UserID: key.userID, ChatID: key.chatID},
		})
	}
}

// Active reports whether an indicator is currently held for (userID, chatID).
func (t *TypingTracker) Active(userID, chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{userID: userID, chatID: chatID}]
	return ok
}
