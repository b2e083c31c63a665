package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// MemoryStore is the in-memory ledger engine. It favors clarity over
// performance and keeps full per-key version history so GetHistory behaves
// like the durable implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]json.RawMessage
	history map[string][]Version
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]json.RawMessage),
		history: make(map[string][]Version),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if val, ok := s.records[key]; ok {
		return clone(val), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) Create(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return sentinel.ErrConflict
	}
	s.commit(ctx, key, value, false)
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(ctx, key, value, false)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn func(current json.RawMessage) (json.RawMessage, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	next, err := fn(clone(current))
	if err != nil {
		return err
	}
	s.commit(ctx, key, next, false)
	return nil
}

func (s *MemoryStore) UpdateBatch(ctx context.Context, key string, fn func(current json.RawMessage) (json.RawMessage, map[string]json.RawMessage, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	next, puts, err := fn(clone(current))
	if err != nil {
		return err
	}
	s.commit(ctx, key, next, false)
	for putKey, value := range puts {
		s.commit(ctx, putKey, value, false)
	}
	return nil
}

func (s *MemoryStore) PutBatch(ctx context.Context, puts map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range puts {
		s.commit(ctx, key, value, false)
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, key)
	s.history[key] = append(s.history[key], Version{
		TxID:      requestcontext.TxID(ctx),
		Timestamp: requestcontext.Now(ctx),
		IsDelete:  true,
	})
	return nil
}

func (s *MemoryStore) Query(_ context.Context, selector map[string]string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.matchingKeys(selector)
	results := make([]json.RawMessage, 0, len(keys))
	for _, key := range keys {
		results = append(results, clone(s.records[key]))
	}
	return results, nil
}

func (s *MemoryStore) QueryPage(_ context.Context, selector map[string]string, pageSize int, bookmark string) ([]json.RawMessage, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.matchingKeys(selector)

	var results []json.RawMessage
	var lastKey string
	for _, key := range keys {
		if bookmark != "" && key <= bookmark {
			continue
		}
		results = append(results, clone(s.records[key]))
		lastKey = key
		if pageSize > 0 && len(results) == pageSize {
			break
		}
	}
	if pageSize <= 0 || len(results) < pageSize {
		return results, "", nil
	}
	return results, lastKey, nil
}

func (s *MemoryStore) History(_ context.Context, key string) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.history[key]
	out := make([]Version, len(versions))
	for i, v := range versions {
		out[i] = Version{TxID: v.TxID, Timestamp: v.Timestamp, IsDelete: v.IsDelete, Value: clone(v.Value)}
	}
	return out, nil
}

// commit writes the record and appends a history version. Callers hold the
// write lock.
func (s *MemoryStore) commit(ctx context.Context, key string, value json.RawMessage, isDelete bool) {
	stored := clone(value)
	s.records[key] = stored
	s.history[key] = append(s.history[key], Version{
		TxID:      requestcontext.TxID(ctx),
		Timestamp: requestcontext.Now(ctx),
		IsDelete:  isDelete,
		Value:     clone(stored),
	})
}

// matchingKeys returns sorted keys whose documents satisfy every selector
// equality predicate. Callers hold at least the read lock.
func (s *MemoryStore) matchingKeys(selector map[string]string) []string {
	var keys []string
	for key, raw := range s.records {
		if matches(raw, selector) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func matches(raw json.RawMessage, selector map[string]string) bool {
	if len(selector) == 0 {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for field, want := range selector {
		got, ok := doc[field]
		if !ok {
			return false
		}
		str, ok := got.(string)
		if !ok || str != want {
			return false
		}
	}
	return true
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
