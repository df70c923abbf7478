package provider

import (
	"byok-api/internal/config"
)

// strippedDefaultKeys 摘要调用不需要推理、思考和工具相关参数
var strippedDefaultKeys = []string{
	"reasoning",
	"reasoning_effort",
	"thinking",
	"tools",
	"tool_choice",
	"toolChoice",
	"parallel_tool_calls",
	"max_tokens",
	"maxTokens",
	"max_output_tokens",
	"maxOutputTokens",
	"max_completion_tokens",
	"stream",
}

// MaxTokensKey 不同上游类型的输出长度字段名
func MaxTokensKey(t config.ProviderType) string {
	if t == config.ProviderTypeOpenAIResponses {
		return "max_output_tokens"
	}
	return "max_tokens"
}

// NormalizeRequestDefaults 规整上游的默认请求参数，用于摘要调用
// 去掉推理与工具相关参数，并按上游类型写入输出长度上限
func NormalizeRequestDefaults(p *config.ProviderConfig, maxTokens int) map[string]interface{} {
	out := make(map[string]interface{})
	if p == nil {
		return out
	}
	for k, v := range p.RequestDefaults {
		out[k] = v
	}
	for _, k := range strippedDefaultKeys {
		delete(out, k)
	}
	if maxTokens > 0 {
		out[MaxTokensKey(p.Type)] = maxTokens
	}
	return out
}
