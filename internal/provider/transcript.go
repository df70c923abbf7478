package provider

import (
	"strings"

	"byok-api/internal/historysummary"
	"byok-api/internal/models"
)

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// summarizeInstruction 追加在对话末尾的请求
const summarizeInstruction = "Summarize the conversation above following the instructions."

// Turn 发送给摘要模型的一条消息
type Turn struct {
	Role Role
	Text string
}

func userText(e *models.Exchange) string {
	var parts []string
	if msg := strings.TrimSpace(e.RequestMessage); msg != "" {
		parts = append(parts, msg)
	}
	for i := range e.RequestNodes {
		n := &e.RequestNodes[i]
		switch {
		case n.IsHistorySummary():
			parts = append(parts, historysummary.RenderHistorySummaryNodeValue(n.HistorySummary))
		case n.IsToolResult():
			parts = append(parts, "[tool_result "+n.ToolResult.ToolUseID+"]\n"+n.ToolResult.Content)
		case n.Type == models.RequestNodeText && n.Text != nil:
			if strings.TrimSpace(n.Text.Content) != "" && n.Text.Content != e.RequestMessage {
				parts = append(parts, n.Text.Content)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func assistantText(e *models.Exchange) string {
	var parts []string
	text := e.ResponseText
	if text == "" {
		text = models.ExtractAssistantTextFromOutputNodes(e.ResponseNodes)
	}
	if strings.TrimSpace(text) != "" {
		parts = append(parts, strings.TrimSpace(text))
	}
	hasToolUse := false
	for i := range e.ResponseNodes {
		if e.ResponseNodes[i].Type == models.ResponseNodeToolUse && e.ResponseNodes[i].ToolUse != nil {
			hasToolUse = true
			break
		}
	}
	for i := range e.ResponseNodes {
		n := &e.ResponseNodes[i]
		if n.ToolUse == nil {
			continue
		}
		if n.Type == models.ResponseNodeToolUse || (!hasToolUse && n.Type == models.ResponseNodeToolUseStart) {
			parts = append(parts, "[tool_use "+n.ToolUse.ToolName+"] "+n.ToolUse.InputJSON)
		}
	}
	return strings.Join(parts, "\n")
}

// BuildTranscript 将历史转换为交替的 user/assistant 消息，末尾总是 user
// 相邻同角色的消息会被合并
func BuildTranscript(history []models.Exchange) []Turn {
	var turns []Turn
	push := func(role Role, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Text += "\n\n" + text
			return
		}
		turns = append(turns, Turn{Role: role, Text: text})
	}
	for i := range history {
		push(RoleUser, userText(&history[i]))
		push(RoleAssistant, assistantText(&history[i]))
	}
	push(RoleUser, summarizeInstruction)

	// 部分上游要求第一条消息来自用户
	if turns[0].Role != RoleUser {
		turns = append([]Turn{{Role: RoleUser, Text: "(conversation begins)"}}, turns...)
	}
	return turns
}
