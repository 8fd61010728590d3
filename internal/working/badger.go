package working

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
	"github.com/ashita-ai/vesper/internal/model"
)

// BadgerStore is the default local Working Tier backend: an embedded
// key-value store with native per-key TTL, keyed
// "working:{namespace}:{conversation_id}" per spec §6.2.
type BadgerStore struct {
	db *badger.DB

	// ringMu guards ring, the per-namespace eviction order. The durable
	// payload and TTL live in Badger; this index only decides which key
	// to evict when a namespace exceeds Capacity.
	ringMu sync.Mutex
	ring   map[string][]ringEntry
}

type ringEntry struct {
	id uuid.UUID
	ts int64 // UnixNano, for stable ordering
}

// NewBadgerStore opens (or creates) a BadgerDB instance rooted at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, true, "working: open badger store", err)
	}
	s := &BadgerStore{db: db, ring: make(map[string][]ringEntry)}
	if err := s.rebuildRing(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func badgerKey(namespace string, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("working:%s:%s", namespace, id.String()))
}

func badgerPrefix(namespace string) []byte {
	return []byte(fmt.Sprintf("working:%s:", namespace))
}

// rebuildRing scans existing keys on open so the in-memory eviction index
// survives a process restart.
func (s *BadgerStore) rebuildRing() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec model.Conversation
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			s.ring[rec.Namespace] = append(s.ring[rec.Namespace], ringEntry{id: rec.ConversationID, ts: rec.Timestamp.UnixNano()})
		}
		return nil
	})
}

// StoreRecord writes rec with a 7-day TTL and evicts the oldest entry if the
// namespace's ring would exceed Capacity.
func (s *BadgerStore) StoreRecord(_ context.Context, rec model.Conversation) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("working: marshal record: %w", err)
	}

	s.ringMu.Lock()
	defer s.ringMu.Unlock()

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

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(badgerKey(rec.Namespace, rec.ConversationID), data).WithTTL(TTL)
		if err := txn.SetEntry(e); err != nil {
			return err
		}
		if evict != nil {
			if delErr := txn.Delete(badgerKey(rec.Namespace, *evict)); delErr != nil && delErr != badger.ErrKeyNotFound {
				return delErr
			}
		}
		return nil
	})
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "working: store record", err)
	}
	return nil
}

func (s *BadgerStore) loadNamespace(namespace string) ([]model.Conversation, error) {
	var out []model.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerPrefix(namespace)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec model.Conversation
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, true, "working: load namespace", err)
	}
	return out, nil
}

// Search returns the top-k records by cosine similarity to queryVec.
func (s *BadgerStore) Search(_ context.Context, namespace string, queryVec []float32, k int) ([]Scored, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	records, err := s.loadNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return rankBySimilarity(records, queryVec, k), nil
}

// Recent returns up to k most recent records, newest first.
func (s *BadgerStore) Recent(_ context.Context, namespace string, k int) ([]model.Conversation, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	records, err := s.loadNamespace(namespace)
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
func (s *BadgerStore) ListNamespaces(_ context.Context) ([]string, error) {
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
func (s *BadgerStore) Delete(_ context.Context, namespace string, id uuid.UUID) error {
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

	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(badgerKey(namespace, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, true, "working: delete record", err)
	}
	return nil
}

// Clear empties a namespace's ring.
func (s *BadgerStore) Clear(_ context.Context, namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	s.ringMu.Lock()
	delete(s.ring, namespace)
	s.ringMu.Unlock()

	return s.db.DropPrefix(badgerPrefix(namespace))
}

// Close releases the underlying Badger handle.
func (s *BadgerStore) Close() error { return s.db.Close() }
