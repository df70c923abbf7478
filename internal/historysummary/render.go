package historysummary

import (
	"strconv"
	"strings"

	"byok-api/internal/models"

	"github.com/dlclark/regexp2"
)

// DefaultEndPartFullMaxChars {end_part_full} 的默认长度上限
const DefaultEndPartFullMaxChars = 80000

const ellipsisMarker = "\n…\n"

// placeholderPattern 模板占位符，只在模板原文上匹配一次
var placeholderPattern = regexp2.MustCompile(`\{(summary|middle_part_abridged|end_part_full|beginning_part_dropped_num_exchanges)\}`, regexp2.None)

// RenderHistorySummaryNodeValue 将摘要节点渲染为发送给模型的文本
// 替换值不会被再次扫描，摘要或历史中形似占位符的内容原样保留
func RenderHistorySummaryNodeValue(node *models.HistorySummaryNode) string {
	if node == nil {
		return ""
	}
	template := node.MessageTemplate
	if strings.TrimSpace(template) == "" {
		template = DefaultMessageTemplate
	}

	values := map[string]func() string{
		"summary":              func() string { return node.SummaryText },
		"middle_part_abridged": func() string { return node.HistoryMiddleAbridgedText },
		"end_part_full":        func() string { return renderEndPartFull(node) },
		"beginning_part_dropped_num_exchanges": func() string {
			return strconv.Itoa(node.HistoryBeginningDroppedNumExchanges)
		},
	}

	runes := []rune(template)
	var sb strings.Builder
	last := 0
	m, err := placeholderPattern.FindStringMatch(template)
	for err == nil && m != nil {
		sb.WriteString(string(runes[last:m.Index]))
		name := m.GroupByNumber(1).String()
		sb.WriteString(values[name]())
		last = m.Index + m.Length
		m, err = placeholderPattern.FindNextMatch(m)
	}
	sb.WriteString(string(runes[last:]))
	return sb.String()
}

// renderEndPartFull 渲染完整保留的尾部历史，超长时保留开头和结尾
func renderEndPartFull(node *models.HistorySummaryNode) string {
	var sb strings.Builder
	for i := range node.HistoryEnd {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeExchangeFull(&sb, &node.HistoryEnd[i])
	}
	text := sb.String()

	maxChars := node.EndPartFullMaxChars
	if maxChars <= 0 {
		maxChars = DefaultEndPartFullMaxChars
	}
	return truncateHeadTail(text, maxChars, node.EndPartFullTailChars)
}

// truncateHeadTail 按字符数截断，保留头部与 tailChars 长度的尾部，结果不超过 maxChars
func truncateHeadTail(text string, maxChars, tailChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	marker := []rune(ellipsisMarker)
	if maxChars <= len(marker) {
		return string(runes[len(runes)-maxChars:])
	}
	budget := maxChars - len(marker)
	if tailChars <= 0 {
		tailChars = maxChars / 4
	}
	tailChars = min(tailChars, budget)
	head := budget - tailChars
	return string(runes[:head]) + ellipsisMarker + string(runes[len(runes)-tailChars:])
}

func writeExchangeFull(sb *strings.Builder, e *models.Exchange) {
	sb.WriteString("<user>\n")
	sb.WriteString(e.RequestMessage)
	for i := range e.RequestNodes {
		n := &e.RequestNodes[i]
		if n.ToolResult == nil || !n.IsToolResult() {
			continue
		}
		sb.WriteString("\n<tool_result tool_use_id=\"")
		sb.WriteString(n.ToolResult.ToolUseID)
		if n.ToolResult.IsError {
			sb.WriteString("\" is_error=\"true")
		}
		sb.WriteString("\">\n")
		sb.WriteString(n.ToolResult.Content)
		sb.WriteString("\n</tool_result>")
	}
	sb.WriteString("\n</user>\n<assistant>\n")
	sb.WriteString(responseTextOf(e))
	for _, u := range toolUsesOf(e.ResponseNodes) {
		sb.WriteString("\n<tool_use name=\"")
		sb.WriteString(u.ToolName)
		sb.WriteString("\" id=\"")
		sb.WriteString(u.ToolUseID)
		sb.WriteString("\">\n")
		sb.WriteString(u.InputJSON)
		sb.WriteString("\n</tool_use>")
	}
	sb.WriteString("\n</assistant>")
}
