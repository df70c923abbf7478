package models

import (
	"encoding/json"
	"strings"
)

// RequestNodeType 请求节点类型
type RequestNodeType int

const (
	RequestNodeText              RequestNodeType = 0
	RequestNodeToolResult        RequestNodeType = 1
	RequestNodeImage             RequestNodeType = 2
	RequestNodeImageID           RequestNodeType = 3
	RequestNodeIdeState          RequestNodeType = 4
	RequestNodeEditEvents        RequestNodeType = 5
	RequestNodeCheckpointRef     RequestNodeType = 6
	RequestNodeChangePersonality RequestNodeType = 7
	RequestNodeFile              RequestNodeType = 8
	RequestNodeFileID            RequestNodeType = 9
	RequestNodeHistorySummary    RequestNodeType = 10
)

// ResponseNodeType 响应节点类型
type ResponseNodeType int

const (
	ResponseNodeRawResponse        ResponseNodeType = 0
	ResponseNodeSuggestedQuestions ResponseNodeType = 1
	ResponseNodeMainTextFinished   ResponseNodeType = 2
	ResponseNodeToolUse            ResponseNodeType = 5
	ResponseNodeToolUseStart       ResponseNodeType = 7
	ResponseNodeThinking           ResponseNodeType = 8
	ResponseNodeTokenUsage         ResponseNodeType = 10
)

// requestNodeTypeNames 兼容以名称表示的节点类型
var requestNodeTypeNames = map[string]RequestNodeType{
	"TEXT":               RequestNodeText,
	"TOOL_RESULT":        RequestNodeToolResult,
	"IMAGE":              RequestNodeImage,
	"IMAGE_ID":           RequestNodeImageID,
	"IDE_STATE":          RequestNodeIdeState,
	"EDIT_EVENTS":        RequestNodeEditEvents,
	"CHECKPOINT_REF":     RequestNodeCheckpointRef,
	"CHANGE_PERSONALITY": RequestNodeChangePersonality,
	"FILE":               RequestNodeFile,
	"FILE_ID":            RequestNodeFileID,
	"HISTORY_SUMMARY":    RequestNodeHistorySummary,
}

var responseNodeTypeNames = map[string]ResponseNodeType{
	"RAW_RESPONSE":        ResponseNodeRawResponse,
	"SUGGESTED_QUESTIONS": ResponseNodeSuggestedQuestions,
	"MAIN_TEXT_FINISHED":  ResponseNodeMainTextFinished,
	"TOOL_USE":            ResponseNodeToolUse,
	"TOOL_USE_START":      ResponseNodeToolUseStart,
	"THINKING":            ResponseNodeThinking,
	"TOKEN_USAGE":         ResponseNodeTokenUsage,
}

// TextNode 文本节点
type TextNode struct {
	Content string `json:"content"`
}

// ToolResultNode 工具结果节点，引用之前某次响应中的 ToolUse
type ToolResultNode struct {
	ToolUseID    string          `json:"tool_use_id"`
	Content      string          `json:"content"`
	IsError      bool            `json:"is_error,omitempty"`
	ContentNodes json.RawMessage `json:"content_nodes,omitempty"`
}

// ImageNode 图片节点
type ImageNode struct {
	ImageData string `json:"image_data"`
	Format    int    `json:"format,omitempty"`
}

// ToolUse 响应中的工具调用
type ToolUse struct {
	ToolUseID     string `json:"tool_use_id"`
	ToolName      string `json:"tool_name"`
	InputJSON     string `json:"input_json"`
	MCPServerName string `json:"mcp_server_name,omitempty"`
	MCPToolName   string `json:"mcp_tool_name,omitempty"`
}

// RequestNode 请求侧结构化节点
// 已知类型的负载解析到对应字段，其余类型的负载原样保留在 Extra 中
type RequestNode struct {
	ID             int
	Type           RequestNodeType
	Content        string
	Text           *TextNode
	ToolResult     *ToolResultNode
	Image          *ImageNode
	HistorySummary *HistorySummaryNode
	Extra          map[string]json.RawMessage
}

// ResponseNode 响应侧结构化节点
type ResponseNode struct {
	ID      int
	Type    ResponseNodeType
	Content string
	ToolUse *ToolUse
	Extra   map[string]json.RawMessage
}

// Exchange 一轮用户请求与助手响应
type Exchange struct {
	RequestID      string
	RequestMessage string
	ResponseText   string
	RequestNodes   []RequestNode
	ResponseNodes  []ResponseNode
	Extra          map[string]json.RawMessage
}

// HistorySummaryNode 注入到请求中的历史摘要
type HistorySummaryNode struct {
	SummaryText                         string     `json:"summary_text"`
	SummarizationRequestID              string     `json:"summarization_request_id"`
	HistoryBeginningDroppedNumExchanges int        `json:"history_beginning_dropped_num_exchanges"`
	HistoryMiddleAbridgedText           string     `json:"history_middle_abridged_text"`
	HistoryEnd                          []Exchange `json:"history_end"`
	MessageTemplate                     string     `json:"message_template"`
	EndPartFullMaxChars                 int        `json:"end_part_full_max_chars,omitempty"`
	EndPartFullTailChars                int        `json:"end_part_full_tail_chars,omitempty"`
}

// ChatRequest 宿主协议的对话请求
// 引擎只关心其中与上下文预算相关的字段，其余字段通过 Extra 原样透传
type ChatRequest struct {
	Message                string
	ConversationID         string
	Model                  string
	Mode                   string
	ChatHistory            []Exchange
	RequestNodes           []RequestNode
	StructuredRequestNodes []RequestNode
	Nodes                  []RequestNode
	SelectedCode           string
	Prefix                 string
	Suffix                 string
	Diff                   string
	UserGuidelines         string
	WorkspaceGuidelines    string
	AgentMemories          string
	ToolDefinitions        []json.RawMessage
	Extra                  map[string]json.RawMessage
}

// IsToolResult 判断节点是否为有效的工具结果
func (n *RequestNode) IsToolResult() bool {
	return n.Type == RequestNodeToolResult && n.ToolResult != nil
}

// IsHistorySummary 判断节点是否携带历史摘要
func (n *RequestNode) IsHistorySummary() bool {
	return n.Type == RequestNodeHistorySummary && n.HistorySummary != nil
}

// HasToolResult 判断该轮请求是否携带工具结果
func (e *Exchange) HasToolResult() bool {
	for i := range e.RequestNodes {
		if e.RequestNodes[i].IsToolResult() {
			return true
		}
	}
	return false
}

// HasHistorySummary 判断该轮请求是否携带历史摘要
func (e *Exchange) HasHistorySummary() bool {
	return ContainsHistorySummary(e.RequestNodes)
}

// ContainsHistorySummary 判断节点列表中是否存在历史摘要节点
func ContainsHistorySummary(nodes []RequestNode) bool {
	for i := range nodes {
		if nodes[i].IsHistorySummary() {
			return true
		}
	}
	return false
}

// HasHistorySummary 判断当前请求本身是否已经携带历史摘要
func (r *ChatRequest) HasHistorySummary() bool {
	return ContainsHistorySummary(r.Nodes) ||
		ContainsHistorySummary(r.StructuredRequestNodes) ||
		ContainsHistorySummary(r.RequestNodes)
}

// FindHistorySummary 返回当前请求中的第一个历史摘要节点
func (r *ChatRequest) FindHistorySummary() *RequestNode {
	for _, list := range [][]RequestNode{r.RequestNodes, r.StructuredRequestNodes, r.Nodes} {
		for i := range list {
			if list[i].IsHistorySummary() {
				return &list[i]
			}
		}
	}
	return nil
}

// HistoryContainsSummary 判断历史中是否已有携带摘要的轮次
func HistoryContainsSummary(history []Exchange) bool {
	for i := range history {
		if history[i].HasHistorySummary() {
			return true
		}
	}
	return false
}

// ExtractAssistantTextFromOutputNodes 从响应节点中提取展示文本
// 优先使用 MAIN_TEXT_FINISHED，否则拼接 RAW_RESPONSE 片段
func ExtractAssistantTextFromOutputNodes(nodes []ResponseNode) string {
	for i := range nodes {
		if nodes[i].Type == ResponseNodeMainTextFinished && strings.TrimSpace(nodes[i].Content) != "" {
			return nodes[i].Content
		}
	}
	var sb strings.Builder
	for i := range nodes {
		if nodes[i].Type == ResponseNodeRawResponse {
			sb.WriteString(nodes[i].Content)
		}
	}
	return sb.String()
}
