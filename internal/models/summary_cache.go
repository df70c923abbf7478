package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList 以 JSON 文本形式落库的字符串列表
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("StringList 不支持的类型: %T", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// SummaryCacheEntry 历史摘要缓存条目
// 以 (conversation_id, boundary_request_id) 为键，保存摘要文本以及校验新鲜度所需的元数据
type SummaryCacheEntry struct {
	ConversationID               string     `gorm:"column:conversation_id;primaryKey;size:191" json:"conversation_id"`
	BoundaryRequestID            string     `gorm:"column:boundary_request_id;primaryKey;size:191" json:"boundary_request_id"`
	SummaryText                  string     `gorm:"column:summary_text;type:text" json:"summary_text"`
	SummarizationRequestID       string     `gorm:"column:summarization_request_id;size:191" json:"summarization_request_id"`
	UpdatedAtMs                  int64      `gorm:"column:updated_at_ms;index" json:"updated_at_ms"`
	StartRequestID               string     `gorm:"column:start_request_id;size:191" json:"start_request_id"`
	SummarizedUntilIndex         int        `gorm:"column:summarized_until_index" json:"summarized_until_index"`
	SummarizedRequestIDsHash     string     `gorm:"column:summarized_request_ids_hash;size:128" json:"summarized_request_ids_hash"`
	SummarizedTailRequestIDs     StringList `gorm:"column:summarized_tail_request_ids;type:text" json:"summarized_tail_request_ids"`
	SummarizedTailHeadRequestIDs StringList `gorm:"column:summarized_tail_head_request_ids;type:text" json:"summarized_tail_head_request_ids"`
}

// TableName 指定表名
func (SummaryCacheEntry) TableName() string {
	return "history_summary_cache"
}

// SummarizedUntilRequestID 摘要覆盖到的边界请求 ID
func (e *SummaryCacheEntry) SummarizedUntilRequestID() string {
	return e.BoundaryRequestID
}
