package historysummary

import (
	"encoding/json"

	"byok-api/internal/models"

	"github.com/tidwall/gjson"
)

// imageNodeSizeBytes 图片按固定大小计入，base64 长度与实际 token 消耗无关
const imageNodeSizeBytes = 4096

// ApproxTokenCountFromByteLen 按 4 字节约 1 token 估算，四舍五入
func ApproxTokenCountFromByteLen(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 2) / 4
}

// jsonTextBytes 统计 JSON 中所有字符串叶子的字节数，不计结构开销
func jsonTextBytes(raw []byte) int {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return 0
	}
	return resultTextBytes(gjson.ParseBytes(raw))
}

func resultTextBytes(r gjson.Result) int {
	switch {
	case r.Type == gjson.String:
		return len(r.Str)
	case r.IsObject() || r.IsArray():
		total := 0
		r.ForEach(func(_, v gjson.Result) bool {
			total += resultTextBytes(v)
			return true
		})
		return total
	default:
		return 0
	}
}

func extraTextBytes(extra map[string]json.RawMessage) int {
	total := 0
	for _, v := range extra {
		total += jsonTextBytes(v)
	}
	return total
}

// EstimateRequestNodeSizeBytes 估算单个请求节点承载的文本字节数
func EstimateRequestNodeSizeBytes(n *models.RequestNode) int {
	total := len(n.Content) + extraTextBytes(n.Extra)
	if n.Text != nil {
		total += len(n.Text.Content)
	}
	if n.ToolResult != nil {
		total += len(n.ToolResult.Content) + jsonTextBytes(n.ToolResult.ContentNodes)
	}
	if n.Image != nil {
		total += imageNodeSizeBytes
	}
	if n.HistorySummary != nil {
		hs := n.HistorySummary
		total += len(hs.SummaryText) + len(hs.HistoryMiddleAbridgedText)
		total += EstimateHistorySizeBytes(hs.HistoryEnd)
	}
	return total
}

// EstimateResponseNodesSizeBytes 估算响应节点的文本字节数
// 有 TOOL_USE 时忽略 TOOL_USE_START，避免同一次调用被计两次；
// 正文类节点只在 response_text 为空时计入
func EstimateResponseNodesSizeBytes(nodes []models.ResponseNode, countText bool) int {
	hasToolUse := false
	for i := range nodes {
		if nodes[i].Type == models.ResponseNodeToolUse && nodes[i].ToolUse != nil {
			hasToolUse = true
			break
		}
	}

	total := 0
	for i := range nodes {
		n := &nodes[i]
		switch n.Type {
		case models.ResponseNodeRawResponse, models.ResponseNodeMainTextFinished:
			// 由 extractAssistantText 统一处理
		case models.ResponseNodeToolUseStart:
			if !hasToolUse && n.ToolUse != nil {
				total += len(n.ToolUse.ToolName) + len(n.ToolUse.InputJSON)
			}
		case models.ResponseNodeToolUse:
			if n.ToolUse != nil {
				total += len(n.ToolUse.ToolName) + len(n.ToolUse.InputJSON)
			}
		default:
			total += len(n.Content) + extraTextBytes(n.Extra)
		}
	}
	if countText {
		total += len(models.ExtractAssistantTextFromOutputNodes(nodes))
	}
	return total
}

// EstimateExchangeSizeBytes 估算一轮对话的 UTF-8 字节数
func EstimateExchangeSizeBytes(e *models.Exchange) int {
	total := len(e.RequestMessage) + len(e.ResponseText)
	for i := range e.RequestNodes {
		total += EstimateRequestNodeSizeBytes(&e.RequestNodes[i])
	}
	total += EstimateResponseNodesSizeBytes(e.ResponseNodes, e.ResponseText == "")
	return total
}

// EstimateHistorySizeBytes 估算整个历史的字节数
func EstimateHistorySizeBytes(history []models.Exchange) int {
	total := 0
	for i := range history {
		total += EstimateExchangeSizeBytes(&history[i])
	}
	return total
}

// EstimateRequestExtraSizeBytes 估算请求中除历史和当前消息以外的附加内容
func EstimateRequestExtraSizeBytes(req *models.ChatRequest) int {
	if req == nil {
		return 0
	}
	total := len(req.SelectedCode) + len(req.Prefix) + len(req.Suffix) + len(req.Diff) +
		len(req.UserGuidelines) + len(req.WorkspaceGuidelines) + len(req.AgentMemories)
	for _, list := range [][]models.RequestNode{req.RequestNodes, req.StructuredRequestNodes, req.Nodes} {
		for i := range list {
			total += EstimateRequestNodeSizeBytes(&list[i])
		}
	}
	// 工具定义以 JSON 形式原样发送给上游，这里按原始长度计
	for _, def := range req.ToolDefinitions {
		total += len(def)
	}
	return total
}
