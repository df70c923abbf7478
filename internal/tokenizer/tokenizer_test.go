package tokenizer

import (
	"strings"
	"testing"

	"byok-api/internal/models"
)

func TestFallbackEstimate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"空字符串", "", 0},
		{"英文", "abcdefgh", 2},
		{"英文向上取整", "abcde", 2},
		{"中文", "你好世界你好", 4},
		{"混合", "你好ab", 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := fallbackEstimate(c.in); got != c.want {
				t.Errorf("fallbackEstimate(%q) = %d，期望 %d", c.in, got, c.want)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	if CountTokens("") != 0 {
		t.Error("空字符串应为 0")
	}
	short := CountTokens("hello world")
	long := CountTokens(strings.Repeat("hello world ", 50))
	if short <= 0 {
		t.Errorf("非空文本应大于 0，实际 %d", short)
	}
	if long <= short {
		t.Errorf("长文本的 token 数应更多: short=%d long=%d", short, long)
	}
}

func TestCountHistoryTokens(t *testing.T) {
	e := models.Exchange{
		RequestID:      "r0",
		RequestMessage: "please read the file",
		ResponseNodes: []models.ResponseNode{
			{Type: models.ResponseNodeRawResponse, Content: "reading"},
			{Type: models.ResponseNodeToolUse, ToolUse: &models.ToolUse{ToolName: "view", InputJSON: `{"path":"main.go"}`}},
		},
	}
	withResult := models.Exchange{
		RequestID: "r1",
		RequestNodes: []models.RequestNode{
			{Type: models.RequestNodeToolResult, ToolResult: &models.ToolResultNode{ToolUseID: "t", Content: strings.Repeat("package main\n", 20)}},
		},
	}

	one := CountExchangeTokens(&e)
	if one <= 2*messageOverheadTokens {
		t.Errorf("应统计消息内容，实际 %d", one)
	}
	if CountExchangeTokens(nil) != 0 {
		t.Error("nil 应为 0")
	}
	total := CountHistoryTokens([]models.Exchange{e, withResult})
	if total != one+CountExchangeTokens(&withResult) {
		t.Errorf("历史总数应为各轮之和，实际 %d", total)
	}
	if CountExchangeTokens(&withResult) <= 2*messageOverheadTokens {
		t.Error("工具结果应计入")
	}
}
