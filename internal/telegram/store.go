package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultConversationTTL bounds how long an unfinished registration is kept.
const DefaultConversationTTL = 30 * time.Minute

// ConversationStore persists registration conversations keyed by chat id.
// Get returns (nil, nil) when the chat has no conversation.
type ConversationStore interface {
	Get(ctx context.Context, chatID int64) (*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
	Delete(ctx context.Context, chatID int64) error
}

// RedisStore keeps conversations in Redis so every instance behind the webhook sees
// the same state.
type RedisStore struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a Redis-backed store. ttl <= 0 uses DefaultConversationTTL.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, prefix: "shr:telegram:conv:"}
}

func (s *RedisStore) key(chatID int64) string {
	return s.prefix + strconv.FormatInt(chatID, 10)
}

// Get implements ConversationStore.
func (s *RedisStore) Get(ctx context.Context, chatID int64) (*Conversation, error) {
	raw, err := s.rdb.Get(ctx, s.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	var c Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &c, nil
}

// Save implements ConversationStore. Every save restarts the TTL.
func (s *RedisStore) Save(ctx context.Context, c *Conversation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(c.ChatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Delete implements ConversationStore.
func (s *RedisStore) Delete(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, s.key(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// MemoryStore is a process-local store for single-instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[int64]memoryEntry
}

type memoryEntry struct {
	conv    Conversation
	expires time.Time
}

// NewMemoryStore creates an in-process store. ttl <= 0 uses DefaultConversationTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, items: make(map[int64]memoryEntry)}
}

// Get implements ConversationStore. Expired entries are dropped on read.
func (s *MemoryStore) Get(_ context.Context, chatID int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[chatID]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.items, chatID)
		return nil, nil
	}
	c := e.conv
	return &c, nil
}

// Save implements ConversationStore.
func (s *MemoryStore) Save(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ChatID] = memoryEntry{conv: *c, expires: s.now().Add(s.ttl)}
	return nil
}

// Delete implements ConversationStore.
func (s *MemoryStore) Delete(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, chatID)
	return nil
}
