package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/internal/orders/ports"
	apperrors "go-fulfillment/pkg/errors"
)

// DefaultSessionTTL keeps a checkout correlation around well past the
// provider's own session expiry
const DefaultSessionTTL = 48 * time.Hour

// RedisSessionLedger stores checkout session correlations in Redis. Each
// entry lives under its own key; a sorted set per record indexes them by
// creation time.
type RedisSessionLedger struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSessionLedger creates a Redis-backed session ledger
func NewRedisSessionLedger(client redis.UniversalClient, ttl time.Duration) *RedisSessionLedger {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionLedger{
		client:    client,
		keyPrefix: "checkout:",
		ttl:       ttl,
	}
}

type sessionDoc struct {
	SessionID   string    `json:"session_id"`
	Provider    string    `json:"provider"`
	Entity      string    `json:"entity"`
	RecordID    uint64    `json:"record_id"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	CancelToken string    `json:"cancel_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (l *RedisSessionLedger) sessionKey(id string) string {
	return l.keyPrefix + "session:" + id
}

func (l *RedisSessionLedger) refKey(ref domain.Ref) string {
	return fmt.Sprintf("%sref:%s:%d", l.keyPrefix, ref.Entity, ref.ID)
}

// Put inserts or replaces an entry and refreshes its TTL
func (l *RedisSessionLedger) Put(ctx context.Context, entry ports.SessionEntry) error {
	body, err := json.Marshal(sessionDoc{
		SessionID: entry.SessionID,
		Provider:  entry.Provider,
		Entity:    string(entry.Ref.Entity),
		RecordID:  entry.Ref.ID,
		Outcome:   string(entry.Outcome),
		Detail:      entry.Detail,
		RedirectURL: entry.RedirectURL,
		CancelToken: entry.CancelToken,
		CreatedAt:   entry.CreatedAt.UTC(),
		UpdatedAt:   entry.UpdatedAt.UTC(),
	})
	if err != nil {
		return apperrors.NewInternal("failed to encode checkout session", err)
	}

	refKey := l.refKey(entry.Ref)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.sessionKey(entry.SessionID), body, l.ttl)
		pipe.ZAdd(ctx, refKey, redis.Z{
			Score:  float64(entry.CreatedAt.UnixNano()),
			Member: entry.SessionID,
		})
		pipe.Expire(ctx, refKey, l.ttl)
		return nil
	})
	if err != nil {
		return apperrors.NewInternal("failed to store checkout session", err)
	}
	return nil
}

// Get returns the entry for a session id
func (l *RedisSessionLedger) Get(ctx context.Context, sessionID string) (*ports.SessionEntry, error) {
	body, err := l.client.Get(ctx, l.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NewNotFound("checkout session", sessionID)
		}
		return nil, apperrors.NewInternal("failed to read checkout session", err)
	}
	return decodeSession(body)
}

// ListByRef returns the sessions opened for a record, newest first.
// Expired entries are skipped.
func (l *RedisSessionLedger) ListByRef(ctx context.Context, ref domain.Ref) ([]ports.SessionEntry, error) {
	ids, err := l.client.ZRevRange(ctx, l.refKey(ref), 0, -1).Result()
	if err != nil {
		return nil, apperrors.NewInternal("failed to list checkout sessions", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.sessionKey(id)
	}
	values, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.NewInternal("failed to read checkout sessions", err)
	}

	entries := make([]ports.SessionEntry, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := decodeSession([]byte(s))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func decodeSession(body []byte) (*ports.SessionEntry, error) {
	var doc sessionDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.NewInternal("corrupt checkout session", err)
	}
	return &ports.SessionEntry{
		SessionID: doc.SessionID,
		Provider:  doc.Provider,
		Ref:       domain.Ref{Entity: domain.EntityKind(doc.Entity), ID: doc.RecordID},
		Outcome:   ports.SessionOutcome(doc.Outcome),
		Detail:      doc.Detail,
		RedirectURL: doc.RedirectURL,
		CancelToken: doc.CancelToken,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

// MemorySessionLedger keeps session correlations in process memory
type MemorySessionLedger struct {
	mu      sync.RWMutex
	entries map[string]ports.SessionEntry
}

// NewMemorySessionLedger creates an empty in-memory ledger
func NewMemorySessionLedger() *MemorySessionLedger {
	return &MemorySessionLedger{entries: make(map[string]ports.SessionEntry)}
}

// Put inserts or replaces an entry
func (l *MemorySessionLedger) Put(ctx context.Context, entry ports.SessionEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.SessionID] = entry
	return nil
}

// Get returns the entry for a session id
func (l *MemorySessionLedger) Get(ctx context.Context, sessionID string) (*ports.SessionEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[sessionID]
	if !ok {
		return nil, apperrors.NewNotFound("checkout session", sessionID)
	}
	return &entry, nil
}

// ListByRef returns the sessions opened for a record, newest first
func (l *MemorySessionLedger) ListByRef(ctx context.Context, ref domain.Ref) ([]ports.SessionEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []ports.SessionEntry
	for _, entry := range l.entries {
		if entry.Ref == ref {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
