// Package tokenizer 提供与摘要预算配套的 token 计数，用于诊断接口
// 引擎本身的触发判断只依赖字节估算，这里的结果仅供展示
package tokenizer

import (
	"sync"
	"unicode"

	"byok-api/internal/logger"
	"byok-api/internal/models"

	anthropictok "github.com/qhenkart/anthropic-tokenizer-go"
)

// 每条消息的格式开销（角色标记等）
const messageOverheadTokens = 4

var loadTokenizer = sync.OnceValues(func() (*anthropictok.Tokenizer, error) {
	t, err := anthropictok.New()
	if err != nil {
		logger.Warn("[Tokenizer] 加载 Anthropic 词表失败，改用字符估算: %v", err)
	}
	return t, err
})

// CountTokens 计算文本的 token 数，词表不可用时按字符估算
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t, err := loadTokenizer(); err == nil {
		return t.Tokens(text)
	}
	return fallbackEstimate(text)
}

// fallbackEstimate 汉字约 1.5 字符/token，其余约 4 字符/token
func fallbackEstimate(text string) int {
	han, other := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			han++
		} else {
			other++
		}
	}
	return han*2/3 + (other+3)/4
}

// CountExchangeTokens 统计一轮对话的 token 数
// 覆盖用户消息、工具结果、助手文本与工具调用参数
func CountExchangeTokens(e *models.Exchange) int {
	if e == nil {
		return 0
	}
	total := 2 * messageOverheadTokens
	total += CountTokens(e.RequestMessage)
	for i := range e.RequestNodes {
		n := &e.RequestNodes[i]
		switch {
		case n.IsToolResult():
			total += CountTokens(n.ToolResult.Content)
		case n.Type == models.RequestNodeText && n.Text != nil && n.Text.Content != e.RequestMessage:
			total += CountTokens(n.Text.Content)
		}
	}

	text := e.ResponseText
	if text == "" {
		text = models.ExtractAssistantTextFromOutputNodes(e.ResponseNodes)
	}
	total += CountTokens(text)
	for i := range e.ResponseNodes {
		if n := &e.ResponseNodes[i]; n.Type == models.ResponseNodeToolUse && n.ToolUse != nil {
			total += CountTokens(n.ToolUse.ToolName) + CountTokens(n.ToolUse.InputJSON)
		}
	}
	return total
}

// CountHistoryTokens 统计整段历史的 token 数
func CountHistoryTokens(history []models.Exchange) int {
	total := 0
	for i := range history {
		total += CountExchangeTokens(&history[i])
	}
	return total
}
