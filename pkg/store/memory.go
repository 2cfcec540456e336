package store

import (
	"context"
	"sync"

	"github.com/otherjamesbrown/mediaref/pkg/media"
)

type memoryEntry struct {
	reg     *media.Registry
	version int64
}

// MemoryStore keeps registries in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) entry(conversationID string) *memoryEntry {
	e, ok := s.entries[conversationID]
	if !ok {
		e = &memoryEntry{reg: media.NewRegistry()}
		s.entries[conversationID] = e
	}
	return e
}

// Load returns a copy of the conversation's registry.
func (s *MemoryStore) Load(ctx context.Context, conversationID string) (*media.Registry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[conversationID]
	if !ok {
		return media.NewRegistry(), 0, nil
	}
	return e.reg.Clone(), e.version, nil
}

func (s *MemoryStore) Register(ctx context.Context, conversationID string, raws []media.RawMedia, turn int, role media.MessageRole) ([]media.EnhancedMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(conversationID)
	next := e.reg.Clone()
	out, changed, err := registerInto(next, raws, turn, role)
	if err != nil {
		return nil, err
	}
	if changed {
		e.reg = next
		e.version++
	}
	return out, nil
}

func (s *MemoryStore) Apply(ctx context.Context, conversationID string, expectedVersion int64, updates []media.Update) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(conversationID)
	if e.version != expectedVersion {
		return 0, versionConflict(BackendMemory, conversationID, expectedVersion, e.version)
	}
	next := e.reg.Clone()
	if err := next.Apply(updates); err != nil {
		return 0, err
	}
	e.reg = next
	e.version++
	return e.version, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
