package out

import (
	"context"
	"sync"

	collabdomain "livedoc/internal/modules/collab/domain"
)

// MemoryStore keeps snapshots for the life of the process only.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]collabdomain.Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]collabdomain.Document{}}
}

func (s *MemoryStore) Load(_ context.Context, documentID string) (collabdomain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return collabdomain.Document{}, false, nil
	}
	return doc.Clone(), true, nil
}

func (s *MemoryStore) Save(_ context.Context, doc collabdomain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
