package historysummary

import (
	"context"
	"sort"

	"byok-api/internal/logger"
	"byok-api/internal/models"
)

// Storage 摘要缓存的持久化后端，由宿主在启动时注入
type Storage interface {
	// Load 返回会话的全部缓存条目，不存在时返回空列表
	Load(ctx context.Context, conversationID string) ([]*models.SummaryCacheEntry, error)
	// Save 按 (conversation_id, boundary_request_id) 覆盖写入
	Save(ctx context.Context, entry *models.SummaryCacheEntry) error
	DeleteEntry(ctx context.Context, conversationID, boundaryRequestID string) error
	Delete(ctx context.Context, conversationID string) error
	Clear(ctx context.Context) error
}

// DefaultMaxEntriesPerConversation 每个会话保留的缓存条目上限
const DefaultMaxEntriesPerConversation = 8

// CacheMetadata 写入缓存时附带的一致性校验信息
type CacheMetadata struct {
	StartRequestID               string
	SummarizedUntilIndex         int
	SummarizedRequestIDsHash     string
	SummarizedTailRequestIDs     []string
	SummarizedTailHeadRequestIDs []string
}

// Cache 带新鲜度校验的摘要缓存
// 存储读取失败一律视为未命中
type Cache struct {
	storage    Storage
	maxEntries int
}

// NewCache 创建缓存，maxEntries <= 0 时使用默认上限
func NewCache(storage Storage, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntriesPerConversation
	}
	return &Cache{storage: storage, maxEntries: maxEntries}
}

func (c *Cache) load(ctx context.Context, conversationID string) []*models.SummaryCacheEntry {
	if c == nil || c.storage == nil || conversationID == "" {
		return nil
	}
	entries, err := c.storage.Load(ctx, conversationID)
	if err != nil {
		logger.Warn("[摘要缓存] 读取失败，按未命中处理: conv=%s err=%v", conversationID, err)
		return nil
	}
	return entries
}

func expired(e *models.SummaryCacheEntry, nowMs, ttlMs int64) bool {
	return ttlMs > 0 && nowMs-e.UpdatedAtMs > ttlMs
}

// GetFresh 查找指定边界的缓存，要求未过期且被摘要部分的请求 ID 哈希与当前一致
func (c *Cache) GetFresh(ctx context.Context, conversationID, boundaryRequestID string, nowMs, ttlMs int64, droppedHead []models.Exchange) *models.SummaryCacheEntry {
	for _, e := range c.load(ctx, conversationID) {
		if e.BoundaryRequestID != boundaryRequestID {
			continue
		}
		if expired(e, nowMs, ttlMs) {
			logger.Debug("[摘要缓存] 条目已过期: conv=%s boundary=%s", conversationID, boundaryRequestID)
			return nil
		}
		if e.SummarizedRequestIDsHash != ComputeRequestIDsHash(droppedHead) {
			logger.Debug("[摘要缓存] 历史已变化，哈希不一致: conv=%s boundary=%s", conversationID, boundaryRequestID)
			return nil
		}
		return e
	}
	return nil
}

// GetFreshState 查找会话中任意仍然有效的摘要，取最近更新的一条
func (c *Cache) GetFreshState(ctx context.Context, conversationID string, nowMs, ttlMs int64, history []models.Exchange) *models.SummaryCacheEntry {
	var best *models.SummaryCacheEntry
	for _, e := range c.load(ctx, conversationID) {
		if expired(e, nowMs, ttlMs) || !stateMatchesHistory(e, history) {
			continue
		}
		if best == nil || e.UpdatedAtMs > best.UpdatedAtMs {
			best = e
		}
	}
	return best
}

// stateMatchesHistory 判断缓存条目是否仍与当前历史一致
// 历史起点未变时按哈希校验被摘要部分；起点已被裁剪时要求至少有一个请求 ID 重叠
func stateMatchesHistory(e *models.SummaryCacheEntry, history []models.Exchange) bool {
	if len(history) == 0 {
		return false
	}
	if HistoryStartRequestID(history) == e.StartRequestID && e.SummarizedUntilIndex <= len(history) {
		return ComputeRequestIDsHash(history[:e.SummarizedUntilIndex]) == e.SummarizedRequestIDsHash
	}

	known := make(map[string]struct{}, len(e.SummarizedTailHeadRequestIDs)+len(e.SummarizedTailRequestIDs))
	for _, id := range e.SummarizedTailHeadRequestIDs {
		known[id] = struct{}{}
	}
	for _, id := range e.SummarizedTailRequestIDs {
		known[id] = struct{}{}
	}
	for i := range history {
		if _, ok := known[history[i].RequestID]; ok && history[i].RequestID != "" {
			return true
		}
	}
	return false
}

// Put 写入缓存并淘汰超出上限的旧条目
func (c *Cache) Put(ctx context.Context, conversationID, boundaryRequestID, summaryText, summarizationRequestID string, nowMs int64, meta CacheMetadata) error {
	if c == nil || c.storage == nil || conversationID == "" {
		return nil
	}
	entry := &models.SummaryCacheEntry{
		ConversationID:               conversationID,
		BoundaryRequestID:            boundaryRequestID,
		SummaryText:                  summaryText,
		SummarizationRequestID:       summarizationRequestID,
		UpdatedAtMs:                  nowMs,
		StartRequestID:               meta.StartRequestID,
		SummarizedUntilIndex:         meta.SummarizedUntilIndex,
		SummarizedRequestIDsHash:     meta.SummarizedRequestIDsHash,
		SummarizedTailRequestIDs:     meta.SummarizedTailRequestIDs,
		SummarizedTailHeadRequestIDs: meta.SummarizedTailHeadRequestIDs,
	}
	if err := c.storage.Save(ctx, entry); err != nil {
		return err
	}
	c.prune(ctx, conversationID)
	return nil
}

func (c *Cache) prune(ctx context.Context, conversationID string) {
	entries := c.load(ctx, conversationID)
	if len(entries) <= c.maxEntries {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAtMs > entries[j].UpdatedAtMs })
	for _, e := range entries[c.maxEntries:] {
		if err := c.storage.DeleteEntry(ctx, conversationID, e.BoundaryRequestID); err != nil {
			logger.Warn("[摘要缓存] 淘汰旧条目失败: conv=%s boundary=%s err=%v", conversationID, e.BoundaryRequestID, err)
		}
	}
}

// Delete 删除会话的全部缓存
func (c *Cache) Delete(ctx context.Context, conversationID string) error {
	if c == nil || c.storage == nil || conversationID == "" {
		return nil
	}
	return c.storage.Delete(ctx, conversationID)
}

// ClearAll 清空所有会话的缓存
func (c *Cache) ClearAll(ctx context.Context) error {
	if c == nil || c.storage == nil {
		return nil
	}
	return c.storage.Clear(ctx)
}

// Entries 返回会话的全部有效条目（按更新时间倒序），用于预览
func (c *Cache) Entries(ctx context.Context, conversationID string) []*models.SummaryCacheEntry {
	entries := c.load(ctx, conversationID)
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAtMs > entries[j].UpdatedAtMs })
	return entries
}
