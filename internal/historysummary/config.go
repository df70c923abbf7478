package historysummary

import (
	"math"
	"sort"
	"strings"

	"byok-api/internal/config"
)

// TriggerStrategy 触发策略
type TriggerStrategy string

const (
	StrategyChars TriggerStrategy = "chars"
	StrategyRatio TriggerStrategy = "ratio"
	StrategyAuto  TriggerStrategy = "auto"
)

const (
	defaultMaxTokens                 = 1024
	defaultTimeoutSeconds            = 60
	defaultTriggerOnHistorySizeChars = 800000
	defaultMinTailExchanges          = 2
	defaultTriggerRatio              = 0.7
	minTriggerRatio                  = 0.6
	maxTriggerRatio                  = 0.8
	minTargetRatio                   = 0.35
	maxTargetRatio                   = 0.75
)

// AbridgedParams 节选历史的字符上限
type AbridgedParams struct {
	TotalCharsLimit         int
	UserMessageCharsLimit   int
	AgentResponseCharsLimit int
	ActionCharsLimit        int
	NumFilesModifiedLimit   int
}

// DefaultAbridgedParams 默认节选参数
func DefaultAbridgedParams() AbridgedParams {
	return AbridgedParams{
		TotalCharsLimit:         10000,
		UserMessageCharsLimit:   1000,
		AgentResponseCharsLimit: 2000,
		ActionCharsLimit:        200,
		NumFilesModifiedLimit:   10,
	}
}

// Config 规整后的历史摘要配置，所有数值都已校验和钳制
type Config struct {
	ProviderID                    string
	Model                         string
	Prompt                        string
	MaxTokens                     int
	TimeoutSeconds                int
	TriggerStrategy               TriggerStrategy
	TriggerOnHistorySizeChars     int
	HistoryTailSizeCharsToExclude int
	TriggerRatio                  float64
	TargetRatio                   float64
	MinTailExchanges              int
	CacheTTLMs                    int64
	MaxSummarizationInputChars    int
	RollingSummary                bool
	// 键已转换为小写
	ContextWindowTokensOverrides map[string]int
	MessageTemplate              string
	Abridged                     AbridgedParams
}

// ResolveConfig 将原始配置规整为强类型配置，未启用时返回 nil
func ResolveConfig(raw config.HistorySummaryConfig) *Config {
	if !raw.Enabled {
		return nil
	}

	hs := &Config{
		ProviderID:                    strings.TrimSpace(raw.ProviderID),
		Model:                         strings.TrimSpace(raw.Model),
		Prompt:                        raw.Prompt,
		MaxTokens:                     raw.MaxTokens,
		TimeoutSeconds:                raw.TimeoutSeconds,
		TriggerStrategy:               normalizeStrategy(raw.TriggerStrategy),
		TriggerOnHistorySizeChars:     raw.TriggerOnHistorySizeChars,
		HistoryTailSizeCharsToExclude: max(0, raw.HistoryTailSizeCharsToExclude),
		MinTailExchanges:              raw.MinTailExchanges,
		CacheTTLMs:                    max(0, raw.CacheTTLMs),
		MaxSummarizationInputChars:    max(0, raw.MaxSummarizationInputChars),
		RollingSummary:                raw.RollingSummary,
		ContextWindowTokensOverrides:  normalizeOverrides(raw.ContextWindowTokensOverrides),
		MessageTemplate:               raw.SummaryNodeRequestMessageTemplate,
	}
	if strings.TrimSpace(hs.Prompt) == "" {
		hs.Prompt = DefaultSummaryPrompt
	}
	if strings.TrimSpace(hs.MessageTemplate) == "" {
		hs.MessageTemplate = DefaultMessageTemplate
	}
	if hs.MaxTokens <= 0 {
		hs.MaxTokens = defaultMaxTokens
	}
	if hs.TimeoutSeconds <= 0 {
		hs.TimeoutSeconds = defaultTimeoutSeconds
	}
	if hs.TriggerOnHistorySizeChars <= 0 {
		hs.TriggerOnHistorySizeChars = defaultTriggerOnHistorySizeChars
	}
	if hs.MinTailExchanges <= 0 {
		hs.MinTailExchanges = defaultMinTailExchanges
	}
	hs.TriggerRatio, hs.TargetRatio = ResolveTriggerRatios(raw.TriggerOnContextRatio, raw.TargetContextRatio)

	p := raw.AbridgedHistoryParams
	def := DefaultAbridgedParams()
	hs.Abridged = AbridgedParams{
		TotalCharsLimit:         positiveOr(p.TotalCharsLimit, def.TotalCharsLimit),
		UserMessageCharsLimit:   positiveOr(p.UserMessageCharsLimit, def.UserMessageCharsLimit),
		AgentResponseCharsLimit: positiveOr(p.AgentResponseCharsLimit, def.AgentResponseCharsLimit),
		ActionCharsLimit:        positiveOr(p.ActionCharsLimit, def.ActionCharsLimit),
		NumFilesModifiedLimit:   positiveOr(p.NumFilesModifiedLimit, def.NumFilesModifiedLimit),
	}
	return hs
}

// ResolveTriggerRatios 钳制触发比例与目标比例，并保证 target < trigger
// 未配置或非法值使用默认值，显式的 0 钳制到下限
func ResolveTriggerRatios(trigger, target *float64) (float64, float64) {
	triggerRatio := clampRatio(trigger, minTriggerRatio, maxTriggerRatio, defaultTriggerRatio)
	targetFallback := math.Max(0.4, math.Min(0.7, triggerRatio-0.15))
	targetRatio := clampRatio(target, minTargetRatio, maxTargetRatio, targetFallback)
	if targetRatio >= triggerRatio {
		targetRatio = math.Max(minTargetRatio, triggerRatio-0.05)
	}
	return triggerRatio, targetRatio
}

func clampRatio(v *float64, lo, hi, fallback float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fallback
	}
	return math.Min(hi, math.Max(lo, *v))
}

func normalizeStrategy(s string) TriggerStrategy {
	switch TriggerStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyChars:
		return StrategyChars
	case StrategyRatio:
		return StrategyRatio
	default:
		return StrategyAuto
	}
}

func normalizeOverrides(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v <= 0 {
			continue
		}
		out[key] = v
	}
	return out
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// builtinContextWindowTokens 常见模型的上下文窗口（token）
var builtinContextWindowTokens = map[string]int{
	"gpt-5.3-codex": 400000,
	"gpt-5-max":     400000,
	"gpt-5.3":       400000,
	"gpt-5.2":       400000,
	"gpt-5.1":       400000,
	"gpt-5":         400000,

	"claude-4.6-opus":   1000000,
	"claude-4.6-sonnet": 200000,
	"claude-4.5-opus":   1000000,
	"claude-4.5-sonnet": 200000,
	"claude-4.0-opus":   1000000,
	"claude-4.0-sonnet": 200000,
	"claude-opus":       1000000,
	"claude-sonnet":     200000,
	"claude-4":          200000,

	"gemini-3-pro":     1000000,
	"gemini-3-flash":   1000000,
	"gemini-2.5-pro":   1000000,
	"gemini-2.5-flash": 1000000,
	"gemini-pro":       1000000,
	"gemini-flash":     1000000,

	"kimi-k2": 128000,
	"kimi":    128000,
}

// ResolveContextWindowTokens 解析模型的上下文窗口大小，无法解析时返回 0
// 配置覆盖项与内置表合并后做大小写不敏感的子串匹配，最长的键优先
func ResolveContextWindowTokens(hs *Config, model string) int {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return 0
	}

	merged := make(map[string]int, len(builtinContextWindowTokens))
	for k, v := range builtinContextWindowTokens {
		merged[k] = v
	}
	if hs != nil {
		for k, v := range hs.ContextWindowTokensOverrides {
			merged[strings.ToLower(k)] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		if strings.Contains(m, k) && merged[k] > 0 {
			return merged[k]
		}
	}
	return 0
}
