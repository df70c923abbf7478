package database

import (
	"context"

	"byok-api/internal/historysummary"
	"byok-api/internal/models"

	"gorm.io/gorm/clause"
)

// sqliteWriteRetries SQLite 写入遇到锁时的重试次数
const sqliteWriteRetries = 5

// SummaryCacheStore 基于 GORM 的摘要缓存存储，实现 historysummary.Storage
type SummaryCacheStore struct {
	db *DB
}

var _ historysummary.Storage = (*SummaryCacheStore)(nil)

// NewSummaryCacheStore 创建摘要缓存存储
func NewSummaryCacheStore(db *DB) *SummaryCacheStore {
	return &SummaryCacheStore{db: db}
}

// Load 返回会话的全部缓存条目，按更新时间升序
func (s *SummaryCacheStore) Load(ctx context.Context, conversationID string) ([]*models.SummaryCacheEntry, error) {
	var entries []*models.SummaryCacheEntry
	err := s.db.gorm.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("updated_at_ms ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Save 按 (conversation_id, boundary_request_id) 覆盖写入
func (s *SummaryCacheStore) Save(ctx context.Context, entry *models.SummaryCacheEntry) error {
	return s.db.RetryOnLock(ctx, sqliteWriteRetries, func() error {
		return s.db.gorm.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "boundary_request_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"summary_text",
				"summarization_request_id",
				"updated_at_ms",
				"start_request_id",
				"summarized_until_index",
				"summarized_request_ids_hash",
				"summarized_tail_request_ids",
				"summarized_tail_head_request_ids",
			}),
		}).Create(entry).Error
	})
}

// DeleteEntry 删除单个条目
func (s *SummaryCacheStore) DeleteEntry(ctx context.Context, conversationID, boundaryRequestID string) error {
	return s.db.RetryOnLock(ctx, sqliteWriteRetries, func() error {
		return s.db.gorm.WithContext(ctx).
			Where("conversation_id = ? AND boundary_request_id = ?", conversationID, boundaryRequestID).
			Delete(&models.SummaryCacheEntry{}).Error
	})
}

// Delete 删除会话的全部条目
func (s *SummaryCacheStore) Delete(ctx context.Context, conversationID string) error {
	return s.db.RetryOnLock(ctx, sqliteWriteRetries, func() error {
		return s.db.gorm.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Delete(&models.SummaryCacheEntry{}).Error
	})
}

// Clear 清空全部条目
func (s *SummaryCacheStore) Clear(ctx context.Context) error {
	return s.db.RetryOnLock(ctx, sqliteWriteRetries, func() error {
		return s.db.gorm.WithContext(ctx).
			Where("1 = 1").
			Delete(&models.SummaryCacheEntry{}).Error
	})
}

// CountEntries 全部缓存条目数
func (s *SummaryCacheStore) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.gorm.WithContext(ctx).Model(&models.SummaryCacheEntry{}).Count(&n).Error
	return n, err
}
