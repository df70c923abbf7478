package historysummary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"byok-api/internal/logger"
	"byok-api/internal/models"
)

// conversationFile 单个会话的缓存文件内容
type conversationFile struct {
	ConversationID string                      `json:"conversation_id"`
	Entries        []*models.SummaryCacheEntry `json:"entries"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// fileIndexEntry 内存索引条目，只保存查询所需的元数据
type fileIndexEntry struct {
	FileName  string
	UpdatedAt time.Time
}

// FileStorage 基于 JSON 文件的存储，每个会话一个文件，启动时加载索引到内存
type FileStorage struct {
	dir  string
	ttl  time.Duration
	mu   sync.RWMutex
	stop chan struct{}
	once sync.Once

	// 会话 ID -> 索引条目
	index map[string]*fileIndexEntry
}

// NewFileStorage 创建文件存储；ttl > 0 时后台定期清理过期文件
func NewFileStorage(dir string, ttl time.Duration) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}
	s := &FileStorage{
		dir:   dir,
		ttl:   ttl,
		stop:  make(chan struct{}),
		index: make(map[string]*fileIndexEntry),
	}
	s.loadIndex()
	if ttl > 0 {
		go s.cleanupLoop()
	}
	return s, nil
}

// Close 停止后台清理
func (s *FileStorage) Close() {
	s.once.Do(func() { close(s.stop) })
}

func fileNameFor(conversationID string) string {
	sum := sha256.Sum256([]byte(conversationID))
	return hex.EncodeToString(sum[:])[:32] + ".json"
}

// loadIndex 从磁盘加载所有缓存文件的索引，损坏的文件直接删除
func (s *FileStorage) loadIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logger.Debug("[摘要缓存] 读取缓存目录失败: %v", err)
		return
	}

	loaded, removed := 0, 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		cf, err := readConversationFile(path)
		if err != nil || cf.ConversationID == "" {
			os.Remove(path)
			removed++
			continue
		}
		if s.ttl > 0 && time.Since(cf.UpdatedAt) > s.ttl {
			os.Remove(path)
			removed++
			continue
		}
		s.index[cf.ConversationID] = &fileIndexEntry{FileName: entry.Name(), UpdatedAt: cf.UpdatedAt}
		loaded++
	}

	if loaded > 0 || removed > 0 {
		logger.Info("[摘要缓存] 索引加载完成 - 有效: %d, 清理: %d", loaded, removed)
	}
}

func readConversationFile(path string) (*conversationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf conversationFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

func (s *FileStorage) writeLocked(cf *conversationFile) error {
	fileName := fileNameFor(cf.ConversationID)
	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("序列化缓存失败: %w", err)
	}
	tmp := filepath.Join(s.dir, fileName+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, fileName)); err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	s.index[cf.ConversationID] = &fileIndexEntry{FileName: fileName, UpdatedAt: cf.UpdatedAt}
	return nil
}

func (s *FileStorage) readLocked(conversationID string) (*conversationFile, error) {
	idx, ok := s.index[conversationID]
	if !ok {
		return &conversationFile{ConversationID: conversationID}, nil
	}
	cf, err := readConversationFile(filepath.Join(s.dir, idx.FileName))
	if os.IsNotExist(err) {
		delete(s.index, conversationID)
		return &conversationFile{ConversationID: conversationID}, nil
	}
	return cf, err
}

// Load 实现 Storage
func (s *FileStorage) Load(_ context.Context, conversationID string) ([]*models.SummaryCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[conversationID]
	if !ok {
		return nil, nil
	}
	cf, err := readConversationFile(filepath.Join(s.dir, idx.FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return cf.Entries, nil
}

// Save 实现 Storage
func (s *FileStorage) Save(_ context.Context, entry *models.SummaryCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf, err := s.readLocked(entry.ConversationID)
	if err != nil {
		return err
	}
	replaced := false
	for i, e := range cf.Entries {
		if e.BoundaryRequestID == entry.BoundaryRequestID {
			cf.Entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		cf.Entries = append(cf.Entries, entry)
	}
	cf.UpdatedAt = time.Now()
	return s.writeLocked(cf)
}

// DeleteEntry 实现 Storage
func (s *FileStorage) DeleteEntry(_ context.Context, conversationID, boundaryRequestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[conversationID]; !ok {
		return nil
	}
	cf, err := s.readLocked(conversationID)
	if err != nil {
		return err
	}
	kept := cf.Entries[:0]
	for _, e := range cf.Entries {
		if e.BoundaryRequestID != boundaryRequestID {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return s.removeLocked(conversationID)
	}
	cf.Entries = kept
	return s.writeLocked(cf)
}

func (s *FileStorage) removeLocked(conversationID string) error {
	idx, ok := s.index[conversationID]
	if !ok {
		return nil
	}
	delete(s.index, conversationID)
	if err := os.Remove(filepath.Join(s.dir, idx.FileName)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Delete 实现 Storage
func (s *FileStorage) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(conversationID)
}

// Clear 实现 Storage
func (s *FileStorage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conv := range s.index {
		if err := s.removeLocked(conv); err != nil {
			return err
		}
	}
	return nil
}

// cleanupLoop 每小时清理一次过期缓存
func (s *FileStorage) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *FileStorage) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for conv, idx := range s.index {
		if now.Sub(idx.UpdatedAt) > s.ttl {
			if err := s.removeLocked(conv); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		logger.Debug("[摘要缓存] 清理过期缓存 %d 个", removed)
	}
}
