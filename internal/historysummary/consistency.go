package historysummary

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"byok-api/internal/models"
)

const (
	// DefaultSummaryTailRequestIDs 缓存中保存的被摘要部分末尾请求 ID 数量
	DefaultSummaryTailRequestIDs = 16
	// DefaultSummaryTailHeadRequestIDs 缓存中保存的边界之后请求 ID 数量
	DefaultSummaryTailHeadRequestIDs = 64
)

// HistoryStartRequestID 历史第一轮的请求 ID
func HistoryStartRequestID(history []models.Exchange) string {
	if len(history) == 0 {
		return ""
	}
	return history[0].RequestID
}

// TailRequestIDs 返回列表末尾最多 n 个非空请求 ID（按时间顺序）
func TailRequestIDs(list []models.Exchange, n int) []string {
	if n <= 0 {
		return []string{}
	}
	var rev []string
	for i := len(list) - 1; i >= 0 && len(rev) < n; i-- {
		if id := list[i].RequestID; id != "" {
			rev = append(rev, id)
		}
	}
	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

// HeadRequestIDs 返回从 start 开始最多 n 个非空请求 ID
func HeadRequestIDs(list []models.Exchange, start, n int) []string {
	out := []string{}
	for i := max(0, start); i < len(list) && len(out) < n; i++ {
		if id := list[i].RequestID; id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ComputeRequestIDsHash 对有序请求 ID 列表计算稳定哈希
// 轮数参与计算，因此 ID 全为空的历史也能区分长度
func ComputeRequestIDsHash(list []models.Exchange) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(len(list))))
	for i := range list {
		h.Write([]byte{'\n'})
		h.Write([]byte(list[i].RequestID))
	}
	return hex.EncodeToString(h.Sum(nil))
}
