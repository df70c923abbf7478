package historysummary

import (
	"math"

	"byok-api/internal/logger"
)

// DecisionKind 触发类型
type DecisionKind string

const (
	DecisionSize   DecisionKind = "size"
	DecisionRatio  DecisionKind = "ratio"
	DecisionCached DecisionKind = "cached"
)

// summaryOverheadReserveBytes 摘要节点自身模板等固定开销
const summaryOverheadReserveBytes = 4096

// TriggerDecision 触发结果
// ThresholdBytes 为触发阈值，TailExcludeBytes 为压缩后尾部允许占用的字节预算
type TriggerDecision struct {
	Kind             DecisionKind
	ThresholdBytes   int
	TailExcludeBytes int
}

// ComputeTriggerDecision 根据策略判断是否需要压缩，未触发返回 nil
func ComputeTriggerDecision(hs *Config, model string, totalBytes int) *TriggerDecision {
	base := &TriggerDecision{
		Kind:             DecisionSize,
		ThresholdBytes:   hs.TriggerOnHistorySizeChars,
		TailExcludeBytes: hs.HistoryTailSizeCharsToExclude,
	}
	bySize := func() *TriggerDecision {
		if totalBytes >= hs.TriggerOnHistorySizeChars {
			return base
		}
		return nil
	}

	if hs.TriggerStrategy == StrategyChars {
		return bySize()
	}

	windowTokens := ResolveContextWindowTokens(hs, model)
	if windowTokens <= 0 {
		return bySize()
	}

	approxTokens := ApproxTokenCountFromByteLen(totalBytes)
	ratio := float64(approxTokens) / float64(windowTokens)
	if ratio < hs.TriggerRatio {
		return nil
	}

	thresholdTokens := int(math.Ceil(float64(windowTokens) * hs.TriggerRatio))
	targetTokens := int(math.Floor(float64(windowTokens) * hs.TargetRatio))
	overhead := hs.Abridged.TotalCharsLimit + hs.MaxTokens*4 + summaryOverheadReserveBytes
	logger.Debug("[历史摘要] 按比例触发: model=%s tokens≈%d/%d ratio≈%.3f trigger=%.2f target=%.2f",
		model, approxTokens, windowTokens, ratio, hs.TriggerRatio, hs.TargetRatio)

	return &TriggerDecision{
		Kind:             DecisionRatio,
		ThresholdBytes:   thresholdTokens * 4,
		TailExcludeBytes: max(0, targetTokens*4-overhead),
	}
}
