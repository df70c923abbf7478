package database

import (
	"context"
	"fmt"

	"byok-api/internal/historysummary"
	"byok-api/internal/logger"
	"byok-api/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS history_summary_cache (
	conversation_id                  VARCHAR(191) NOT NULL,
	boundary_request_id              VARCHAR(191) NOT NULL,
	summary_text                     TEXT NOT NULL DEFAULT '',
	summarization_request_id         VARCHAR(191) NOT NULL DEFAULT '',
	updated_at_ms                    BIGINT NOT NULL DEFAULT 0,
	start_request_id                 VARCHAR(191) NOT NULL DEFAULT '',
	summarized_until_index           INTEGER NOT NULL DEFAULT 0,
	summarized_request_ids_hash      VARCHAR(128) NOT NULL DEFAULT '',
	summarized_tail_request_ids      TEXT NOT NULL DEFAULT '[]',
	summarized_tail_head_request_ids TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (conversation_id, boundary_request_id)
);
CREATE INDEX IF NOT EXISTS idx_history_summary_cache_updated ON history_summary_cache (updated_at_ms);
`

const postgresColumns = `conversation_id, boundary_request_id, summary_text, summarization_request_id, updated_at_ms,
	start_request_id, summarized_until_index, summarized_request_ids_hash,
	summarized_tail_request_ids, summarized_tail_head_request_ids`

// PostgresSummaryStore 基于 pgx 连接池的摘要缓存存储
type PostgresSummaryStore struct {
	pool *pgxpool.Pool
}

var _ historysummary.Storage = (*PostgresSummaryStore)(nil)

// NewPostgresSummaryStore 连接数据库并确保表结构存在
func NewPostgresSummaryStore(ctx context.Context, dsn string) (*PostgresSummaryStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 PostgreSQL 失败: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL 不可用: %w", err)
	}
	s := NewPostgresSummaryStoreFromPool(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("[DB] 使用 PostgreSQL 存储摘要缓存")
	return s, nil
}

// NewPostgresSummaryStoreFromPool 使用已有连接池
func NewPostgresSummaryStoreFromPool(pool *pgxpool.Pool) *PostgresSummaryStore {
	return &PostgresSummaryStore{pool: pool}
}

// Migrate 创建表和索引
func (s *PostgresSummaryStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("创建 history_summary_cache 表失败: %w", err)
	}
	return nil
}

// Close 关闭连接池
func (s *PostgresSummaryStore) Close() {
	s.pool.Close()
}

// Load 返回会话的全部缓存条目，按更新时间升序
func (s *PostgresSummaryStore) Load(ctx context.Context, conversationID string) ([]*models.SummaryCacheEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresColumns+` FROM history_summary_cache WHERE conversation_id = $1 ORDER BY updated_at_ms ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.SummaryCacheEntry
	for rows.Next() {
		e, err := scanSummaryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanSummaryEntry(row pgx.Row) (*models.SummaryCacheEntry, error) {
	var (
		e              models.SummaryCacheEntry
		tailIDs, heads string
	)
	err := row.Scan(
		&e.ConversationID,
		&e.BoundaryRequestID,
		&e.SummaryText,
		&e.SummarizationRequestID,
		&e.UpdatedAtMs,
		&e.StartRequestID,
		&e.SummarizedUntilIndex,
		&e.SummarizedRequestIDsHash,
		&tailIDs,
		&heads,
	)
	if err != nil {
		return nil, err
	}
	if err := e.SummarizedTailRequestIDs.Scan(tailIDs); err != nil {
		return nil, err
	}
	if err := e.SummarizedTailHeadRequestIDs.Scan(heads); err != nil {
		return nil, err
	}
	return &e, nil
}

// Save 按 (conversation_id, boundary_request_id) 覆盖写入
func (s *PostgresSummaryStore) Save(ctx context.Context, e *models.SummaryCacheEntry) error {
	tailIDs, err := e.SummarizedTailRequestIDs.Value()
	if err != nil {
		return err
	}
	heads, err := e.SummarizedTailHeadRequestIDs.Value()
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO history_summary_cache (`+postgresColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (conversation_id, boundary_request_id) DO UPDATE SET
			summary_text = EXCLUDED.summary_text,
			summarization_request_id = EXCLUDED.summarization_request_id,
			updated_at_ms = EXCLUDED.updated_at_ms,
			start_request_id = EXCLUDED.start_request_id,
			summarized_until_index = EXCLUDED.summarized_until_index,
			summarized_request_ids_hash = EXCLUDED.summarized_request_ids_hash,
			summarized_tail_request_ids = EXCLUDED.summarized_tail_request_ids,
			summarized_tail_head_request_ids = EXCLUDED.summarized_tail_head_request_ids`,
		e.ConversationID, e.BoundaryRequestID, e.SummaryText, e.SummarizationRequestID, e.UpdatedAtMs,
		e.StartRequestID, e.SummarizedUntilIndex, e.SummarizedRequestIDsHash, tailIDs, heads,
	)
	return err
}

// DeleteEntry 删除单个条目
func (s *PostgresSummaryStore) DeleteEntry(ctx context.Context, conversationID, boundaryRequestID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM history_summary_cache WHERE conversation_id = $1 AND boundary_request_id = $2`,
		conversationID, boundaryRequestID)
	return err
}

// Delete 删除会话的全部条目
func (s *PostgresSummaryStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM history_summary_cache WHERE conversation_id = $1`, conversationID)
	return err
}

// Clear 清空全部条目
func (s *PostgresSummaryStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM history_summary_cache`)
	return err
}
