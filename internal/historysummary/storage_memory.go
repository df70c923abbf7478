package historysummary

import (
	"context"
	"sync"

	"byok-api/internal/models"
)

// MemoryStorage 进程内存储，重启后丢失
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]map[string]*models.SummaryCacheEntry
}

// NewMemoryStorage 创建内存存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]map[string]*models.SummaryCacheEntry)}
}

func cloneEntry(e *models.SummaryCacheEntry) *models.SummaryCacheEntry {
	cp := *e
	cp.SummarizedTailRequestIDs = append(models.StringList(nil), e.SummarizedTailRequestIDs...)
	cp.SummarizedTailHeadRequestIDs = append(models.StringList(nil), e.SummarizedTailHeadRequestIDs...)
	return &cp
}

// Load 实现 Storage
func (s *MemoryStorage) Load(_ context.Context, conversationID string) ([]*models.SummaryCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := s.entries[conversationID]
	out := make([]*models.SummaryCacheEntry, 0, len(conv))
	for _, e := range conv {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

// Save 实现 Storage
func (s *MemoryStorage) Save(_ context.Context, entry *models.SummaryCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.entries[entry.ConversationID]
	if conv == nil {
		conv = make(map[string]*models.SummaryCacheEntry)
		s.entries[entry.ConversationID] = conv
	}
	conv[entry.BoundaryRequestID] = cloneEntry(entry)
	return nil
}

// DeleteEntry 实现 Storage
func (s *MemoryStorage) DeleteEntry(_ context.Context, conversationID, boundaryRequestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv := s.entries[conversationID]; conv != nil {
		delete(conv, boundaryRequestID)
		if len(conv) == 0 {
			delete(s.entries, conversationID)
		}
	}
	return nil
}

// Delete 实现 Storage
func (s *MemoryStorage) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, conversationID)
	return nil
}

// Clear 实现 Storage
func (s *MemoryStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]map[string]*models.SummaryCacheEntry)
	return nil
}
