package historysummary

import (
	"byok-api/internal/logger"
	"byok-api/internal/models"
)

// EmergencyKind 紧急压缩作用的对象
type EmergencyKind string

const (
	EmergencyKindSummary EmergencyKind = "summary"
	EmergencyKindHistory EmergencyKind = "history"
)

// MaxEmergencyLevel 紧急压缩的最高等级
const MaxEmergencyLevel = 4

// EmergencyResult 紧急压缩结果，Changed 为 false 时调用方应放弃重试
type EmergencyResult struct {
	Changed bool
	Kind    EmergencyKind
}

// emergencyLevel 各等级的压缩力度
// keepNum/keepDen 为摘要尾部的保留比例，endPartCap 为 {end_part_full} 的长度上限，historyKeep 为原始历史保留轮数
type emergencyLevel struct {
	keepNum, keepDen int
	endPartCap       int
	historyKeep      int
}

var emergencyLevels = [MaxEmergencyLevel]emergencyLevel{
	{keepNum: 3, keepDen: 4, endPartCap: 60000, historyKeep: 12},
	{keepNum: 1, keepDen: 2, endPartCap: 30000, historyKeep: 6},
	{keepNum: 1, keepDen: 4, endPartCap: 15000, historyKeep: 3},
	{keepNum: 0, keepDen: 1, endPartCap: 8000, historyKeep: 1},
}

func levelParams(level int) emergencyLevel {
	level = min(max(level, 1), MaxEmergencyLevel)
	return emergencyLevels[level-1]
}

// shrinkExchanges 保留最近 keep 轮，起点不落在工具结果上；无法缩短时返回 ok=false
func shrinkExchanges(list []models.Exchange, keep int) ([]models.Exchange, bool) {
	keep = max(1, keep)
	if len(list) <= keep {
		return list, false
	}
	start := AdjustTailStartForToolResults(list, len(list)-keep)
	if start <= 0 {
		return list, false
	}
	return append([]models.Exchange(nil), list[start:]...), true
}

// ApplyEmergencyContextCompactionForRetry 下游返回上下文超长后的本地压缩，不调用模型也不读缓存
// 每次重试以递增的 level 调用一次
func ApplyEmergencyContextCompactionForRetry(req *models.ChatRequest, level int) EmergencyResult {
	if req == nil {
		return EmergencyResult{}
	}
	p := levelParams(level)

	if node := req.FindHistorySummary(); node != nil && node.HistorySummary != nil {
		hs := node.HistorySummary
		changed := false

		keep := len(hs.HistoryEnd) * p.keepNum / p.keepDen
		if end, ok := shrinkExchanges(hs.HistoryEnd, keep); ok {
			logger.Info("[紧急压缩] 缩减摘要尾部: level=%d %d -> %d", level, len(hs.HistoryEnd), len(end))
			hs.HistoryEnd = end
			changed = true
		}
		if hs.EndPartFullMaxChars <= 0 || hs.EndPartFullMaxChars > p.endPartCap {
			hs.EndPartFullMaxChars = p.endPartCap
			changed = true
		}
		if hs.EndPartFullTailChars > hs.EndPartFullMaxChars/2 {
			hs.EndPartFullTailChars = hs.EndPartFullMaxChars / 4
		}
		if changed {
			return EmergencyResult{Changed: true, Kind: EmergencyKindSummary}
		}
	}

	if history, ok := shrinkExchanges(req.ChatHistory, p.historyKeep); ok {
		logger.Info("[紧急压缩] 缩减原始历史: level=%d %d -> %d", level, len(req.ChatHistory), len(history))
		req.ChatHistory = history
		return EmergencyResult{Changed: true, Kind: EmergencyKindHistory}
	}

	logger.Warn("[紧急压缩] 无法继续缩减: level=%d", level)
	return EmergencyResult{}
}
