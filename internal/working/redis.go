package working

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// RedisStore backs the Working Tier onto a remote Redis instance, for the
// "remote associative cache" deployment shape (spec §2/C3). Keys follow the
// same "working:{namespace}:{conversation_id}" scheme, expired with SET ... EX.
type RedisStore struct {
	client *redis.Client

	ringMu sync.Mutex
	ring   map[string][]ringEntry
}

// NewRedisStore connects to Redis using a redis:// URL.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, false, "working: parse redis URL", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errkind.Wrap(errkind.Unavailable, true, "working: ping redis", err)
	}
	s := &RedisStore{client: client, ring: make(map[string][]ringEntry)}
	if err := s.rebuildRing(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func redisKey(namespace string, id uuid.UUID) string {
	return fmt.Sprintf("working:%s:%s", namespace, id.String())
}

func redisScanPrefix(namespace string) string {
	return fmt.Sprintf("working:%s:*", namespace)
}

func (s *RedisStore) rebuildRing(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, "working:*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var rec model.Conversation
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		s.ring[rec.Namespace] = append(s.ring[rec.Namespace], ringEntry{id: rec.ConversationID, ts: rec.Timestamp.UnixNano()})
	}
	return iter.Err()
}

// StoreRecord writes rec with a 7-day TTL and evicts the oldest entry if the
// namespace's ring would exceed Capacity.
func (s *RedisStore) StoreRecord(ctx context.Context, rec model.Conversation) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("working: marshal record: %w", err)
	}

	s.ringMu.Lock()
	var evict *uuid.UUID
	entries := s.ring[rec.Namespace]
	replaced := false
	for i, e := range entries {
		if e.id == rec.ConversationID {
			entries[i] = ringEntry{id: rec.ConversationID, ts: rec.Timestamp.UnixNano()}
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, ringEntry{id: rec.ConversationID, ts: rec.Timestamp.UnixNano()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })
	if len(entries) > Capacity {
		victim := entries[0].id
		evict = &victim
		entries = entries[1:]
	}
	s.ring[rec.Namespace] = entries
	s.ringMu.Unlock()

	if err := s.client.Set(ctx, redisKey(rec.Namespace, rec.ConversationID), data, TTL).Err(); err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "working: store record", err)
	}
	if evict != nil {
		if err := s.client.Del(ctx, redisKey(rec.Namespace, *evict)).Err(); err != nil && err != redis.Nil {
			return errkind.Wrap(errkind.Unavailable, true, "working: evict record", err)
		}
	}
	return nil
}

func (s *RedisStore) loadNamespace(ctx context.Context, namespace string) ([]model.Conversation, error) {
	var out []model.Conversation
	iter := s.client.Scan(ctx, 0, redisScanPrefix(namespace), 0).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.Unavailable, true, "working: scan namespace", err)
		}
		var rec model.Conversation
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, true, "working: scan namespace", err)
	}
	return out, nil
}

// Search returns the top-k records by cosine similarity to queryVec.
func (s *RedisStore) Search(ctx context.Context, namespace string, queryVec []float32, k int) ([]Scored, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	records, err := s.loadNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return rankBySimilarity(records, queryVec, k), nil
}

// Recent returns up to k most recent records, newest first.
func (s *RedisStore) Recent(ctx context.Context, namespace string, k int) ([]model.Conversation, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	records, err := s.loadNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	if k >= 0 && len(records) > k {
		records = records[:k]
	}
	return records, nil
}

// ListNamespaces returns every namespace with at least one live record.
func (s *RedisStore) ListNamespaces(_ context.Context) ([]string, error) {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()
	out := make([]string, 0, len(s.ring))
	for ns, entries := range s.ring {
		if len(entries) > 0 {
			out = append(out, ns)
		}
	}
	return out, nil
}

// Delete removes a single record.
func (s *RedisStore) Delete(ctx context.Context, namespace string, id uuid.UUID) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	s.ringMu.Lock()
	entries := s.ring[namespace]
	for i, e := range entries {
		if e.id == id {
			s.ring[namespace] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	s.ringMu.Unlock()

	if err := s.client.Del(ctx, redisKey(namespace, id)).Err(); err != nil && err != redis.Nil {
		return errkind.Wrap(errkind.Unavailable, true, "working: delete record", err)
	}
	return nil
}

// Clear empties a namespace's ring.
func (s *RedisStore) Clear(ctx context.Context, namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	s.ringMu.Lock()
	entries := s.ring[namespace]
	delete(s.ring, namespace)
	s.ringMu.Unlock()

	for _, e := range entries {
		if err := s.client.Del(ctx, redisKey(namespace, e.id)).Err(); err != nil && err != redis.Nil {
			return errkind.Wrap(errkind.Unavailable, true, "working: clear namespace", err)
		}
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error { return s.client.Close() }
