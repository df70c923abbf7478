package historysummary

import (
	"slices"

	"byok-api/internal/models"
)

// TailSelection 历史切分结果
// Tail[0] 只有在 TailStart == 0 时才可能携带工具结果；DroppedHead 与 Tail 均非空
type TailSelection struct {
	TailStart         int
	BoundaryRequestID string
	DroppedHead       []models.Exchange
	Tail              []models.Exchange
}

// SplitHistoryForSummary 从新到旧扫描历史，尾部在字节预算内或不足最小轮数时保留，
// 其余归入头部；两部分均按时间顺序返回
func SplitHistoryForSummary(history []models.Exchange, tailExcludeBytes, minTailExchanges int) (head, tail []models.Exchange) {
	seen := 0
	for i := len(history) - 1; i >= 0; i-- {
		sz := EstimateExchangeSizeBytes(&history[i])
		if seen+sz < tailExcludeBytes || len(tail) < minTailExchanges {
			tail = append(tail, history[i])
		} else {
			head = append(head, history[i])
		}
		seen += sz
	}
	slices.Reverse(head)
	slices.Reverse(tail)
	return head, tail
}

// ComputeTailSelection 计算压缩边界，无法切分时返回 nil
func ComputeTailSelection(history []models.Exchange, minTailExchanges int, decision *TriggerDecision) *TailSelection {
	if decision == nil {
		return nil
	}
	head, tail := SplitHistoryForSummary(history, decision.TailExcludeBytes, minTailExchanges)
	if len(head) == 0 || len(tail) == 0 {
		return nil
	}

	tailStart := locateRequestID(history, tail[0].RequestID)
	if tailStart < 0 {
		tailStart = max(0, len(history)-len(tail))
	}
	tailStart = AdjustTailStartForToolResults(history, tailStart)

	if tailStart <= 0 || tailStart >= len(history) {
		return nil
	}
	return &TailSelection{
		TailStart:         tailStart,
		BoundaryRequestID: history[tailStart].RequestID,
		DroppedHead:       history[:tailStart],
		Tail:              history[tailStart:],
	}
}

// AdjustTailStartForToolResults 尾部起点携带工具结果时向前移动，直到不再孤立或到达开头
func AdjustTailStartForToolResults(history []models.Exchange, start int) int {
	for start > 0 && start < len(history) && history[start].HasToolResult() {
		start--
	}
	return start
}

// locateRequestID 返回唯一匹配 id 的位置；id 为空或出现多次时返回 -1
func locateRequestID(history []models.Exchange, id string) int {
	if id == "" {
		return -1
	}
	pos := -1
	for i := range history {
		if history[i].RequestID != id {
			continue
		}
		if pos >= 0 {
			return -1
		}
		pos = i
	}
	return pos
}
