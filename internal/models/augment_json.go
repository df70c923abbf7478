package models

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// 宿主协议同一字段存在 snake_case 与 camelCase 两种写法，
// 这里在反序列化边界统一解析为规范结构，序列化时只输出 snake_case。

var errInvalidJSON = errors.New("无效的 JSON 数据")

// pick 按候选键顺序返回第一个存在的字段
func pick(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// asString 返回字符串字段；非字符串的标量按原始文本处理，对象和数组视为空
func asString(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number, gjson.True, gjson.False:
		return v.Raw
	default:
		return ""
	}
}

// asLooseString 与 asString 类似，但对象和数组保留原始 JSON 文本
func asLooseString(v gjson.Result) string {
	if v.Type == gjson.JSON {
		return v.Raw
	}
	return asString(v)
}

func collectExtra(r gjson.Result, known map[string]bool) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	r.ForEach(func(k, v gjson.Result) bool {
		if known[k.Str] {
			return true
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k.Str] = json.RawMessage(v.Raw)
		return true
	})
	return extra
}

func marshalObject(fields map[string]any, extra map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]any, len(fields)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

func parseObject(data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, errInvalidJSON
	}
	return gjson.ParseBytes(data), nil
}

// ==================== 请求节点 ====================

var requestNodeKnownKeys = map[string]bool{
	"id": true, "type": true, "content": true,
	"text_node": true, "textNode": true,
	"tool_result_node": true, "toolResultNode": true,
	"image_node": true, "imageNode": true,
	"history_summary_node": true, "historySummaryNode": true,
}

func parseRequestNodeType(v gjson.Result) RequestNodeType {
	if v.Type == gjson.String {
		if t, ok := requestNodeTypeNames[strings.ToUpper(strings.TrimSpace(v.Str))]; ok {
			return t
		}
	}
	return RequestNodeType(v.Int())
}

func parseRequestNode(r gjson.Result) (RequestNode, bool) {
	if !r.IsObject() {
		return RequestNode{}, false
	}
	n := RequestNode{
		ID:      int(r.Get("id").Int()),
		Type:    parseRequestNodeType(r.Get("type")),
		Content: asString(r.Get("content")),
		Extra:   collectExtra(r, requestNodeKnownKeys),
	}
	if v := pick(r, "text_node", "textNode"); v.IsObject() {
		n.Text = &TextNode{Content: asString(v.Get("content"))}
	}
	if v := pick(r, "tool_result_node", "toolResultNode"); v.IsObject() {
		tr := &ToolResultNode{
			ToolUseID: asString(pick(v, "tool_use_id", "toolUseId")),
			Content:   asLooseString(v.Get("content")),
			IsError:   pick(v, "is_error", "isError").Bool(),
		}
		if cn := pick(v, "content_nodes", "contentNodes"); cn.IsArray() {
			tr.ContentNodes = json.RawMessage(cn.Raw)
		}
		n.ToolResult = tr
	}
	if v := pick(r, "image_node", "imageNode"); v.IsObject() {
		n.Image = &ImageNode{
			ImageData: asString(pick(v, "image_data", "imageData")),
			Format:    int(v.Get("format").Int()),
		}
	}
	if v := pick(r, "history_summary_node", "historySummaryNode"); v.IsObject() {
		hs := parseHistorySummaryNode(v)
		n.HistorySummary = &hs
	}
	return n, true
}

func parseRequestNodes(v gjson.Result) []RequestNode {
	if !v.IsArray() {
		return nil
	}
	var out []RequestNode
	for _, item := range v.Array() {
		if n, ok := parseRequestNode(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// UnmarshalJSON 兼容多种字段命名的反序列化
func (n *RequestNode) UnmarshalJSON(data []byte) error {
	r, err := parseObject(data)
	if err != nil {
		return err
	}
	parsed, _ := parseRequestNode(r)
	*n = parsed
	return nil
}

// MarshalJSON 输出规范的 snake_case 结构
func (n RequestNode) MarshalJSON() ([]byte, error) {
	fields := map[string]any{
		"id":      n.ID,
		"type":    int(n.Type),
		"content": n.Content,
	}
	if n.Text != nil {
		fields["text_node"] = n.Text
	}
	if n.ToolResult != nil {
		fields["tool_result_node"] = n.ToolResult
	}
	if n.Image != nil {
		fields["image_node"] = n.Image
	}
	if n.HistorySummary != nil {
		fields["history_summary_node"] = n.HistorySummary
	}
	return marshalObject(fields, n.Extra)
}

// ==================== 响应节点 ====================

var responseNodeKnownKeys = map[string]bool{
	"id": true, "type": true, "content": true,
	"tool_use": true, "toolUse": true,
}

func parseResponseNodeType(v gjson.Result) ResponseNodeType {
	if v.Type == gjson.String {
		if t, ok := responseNodeTypeNames[strings.ToUpper(strings.TrimSpace(v.Str))]; ok {
			return t
		}
	}
	return ResponseNodeType(v.Int())
}

func parseResponseNode(r gjson.Result) (ResponseNode, bool) {
	if !r.IsObject() {
		return ResponseNode{}, false
	}
	n := ResponseNode{
		ID:      int(r.Get("id").Int()),
		Type:    parseResponseNodeType(r.Get("type")),
		Content: asString(r.Get("content")),
		Extra:   collectExtra(r, responseNodeKnownKeys),
	}
	if v := pick(r, "tool_use", "toolUse"); v.IsObject() {
		n.ToolUse = &ToolUse{
			ToolUseID:     asString(pick(v, "tool_use_id", "toolUseId")),
			ToolName:      asString(pick(v, "tool_name", "toolName")),
			InputJSON:     asLooseString(pick(v, "input_json", "inputJson")),
			MCPServerName: asString(pick(v, "mcp_server_name", "mcpServerName")),
			MCPToolName:   asString(pick(v, "mcp_tool_name", "mcpToolName")),
		}
	}
	return n, true
}

func parseResponseNodes(v gjson.Result) []ResponseNode {
	if !v.IsArray() {
		return nil
	}
	var out []ResponseNode
	for _, item := range v.Array() {
		if n, ok := parseResponseNode(item); ok {
			out = append(out, n)
		}
	}
	return out
}

// UnmarshalJSON 兼容多种字段命名的反序列化
func (n *ResponseNode) UnmarshalJSON(data []byte) error {
	r, err := parseObject(data)
	if err != nil {
		return err
	}
	parsed, _ := parseResponseNode(r)
	*n = parsed
	return nil
}

// MarshalJSON 输出规范的 snake_case 结构
func (n ResponseNode) MarshalJSON() ([]byte, error) {
	fields := map[string]any{
		"id":      n.ID,
		"type":    int(n.Type),
		"content": n.Content,
	}
	if n.ToolUse != nil {
		fields["tool_use"] = n.ToolUse
	}
	return marshalObject(fields, n.Extra)
}

// ==================== 对话轮次 ====================

var exchangeKnownKeys = map[string]bool{
	"request_id": true, "requestId": true,
	"request_message": true, "requestMessage": true,
	"response_text": true, "responseText": true,
	"request_nodes": true, "requestNodes": true,
	"structured_request_nodes": true, "structuredRequestNodes": true,
	"nodes":          true,
	"response_nodes": true, "responseNodes": true,
	"structured_output_nodes": true, "structuredOutputNodes": true,
}

func parseExchange(r gjson.Result) (Exchange, bool) {
	if !r.IsObject() {
		return Exchange{}, false
	}
	e := Exchange{
		RequestID:      strings.TrimSpace(asString(pick(r, "request_id", "requestId"))),
		RequestMessage: asString(pick(r, "request_message", "requestMessage")),
		ResponseText:   asString(pick(r, "response_text", "responseText")),
		Extra:          collectExtra(r, exchangeKnownKeys),
	}
	e.RequestNodes = append(e.RequestNodes, parseRequestNodes(pick(r, "request_nodes", "requestNodes"))...)
	e.RequestNodes = append(e.RequestNodes, parseRequestNodes(pick(r, "structured_request_nodes", "structuredRequestNodes"))...)
	e.RequestNodes = append(e.RequestNodes, parseRequestNodes(r.Get("nodes"))...)
	e.ResponseNodes = append(e.ResponseNodes, parseResponseNodes(pick(r, "response_nodes", "responseNodes"))...)
	e.ResponseNodes = append(e.ResponseNodes, parseResponseNodes(pick(r, "structured_output_nodes", "structuredOutputNodes"))...)
	return e, true
}

func parseExchanges(v gjson.Result) []Exchange {
	if !v.IsArray() {
		return nil
	}
	out := make([]Exchange, 0, len(v.Array()))
	for _, item := range v.Array() {
		if e, ok := parseExchange(item); ok {
			out = append(out, e)
		}
	}
	return out
}

// UnmarshalJSON 合并各种别名下的请求/响应节点
func (e *Exchange) UnmarshalJSON(data []byte) error {
	r, err := parseObject(data)
	if err != nil {
		return err
	}
	parsed, _ := parseExchange(r)
	*e = parsed
	return nil
}

// MarshalJSON 输出规范的 snake_case 结构
func (e Exchange) MarshalJSON() ([]byte, error) {
	reqNodes := e.RequestNodes
	if reqNodes == nil {
		reqNodes = []RequestNode{}
	}
	respNodes := e.ResponseNodes
	if respNodes == nil {
		respNodes = []ResponseNode{}
	}
	return marshalObject(map[string]any{
		"request_id":      e.RequestID,
		"request_message": e.RequestMessage,
		"response_text":   e.ResponseText,
		"request_nodes":   reqNodes,
		"response_nodes":  respNodes,
	}, e.Extra)
}

// ==================== 历史摘要节点 ====================

func parseHistorySummaryNode(r gjson.Result) HistorySummaryNode {
	return HistorySummaryNode{
		SummaryText:                         asString(pick(r, "summary_text", "summaryText")),
		SummarizationRequestID:              asString(pick(r, "summarization_request_id", "summarizationRequestId")),
		HistoryBeginningDroppedNumExchanges: int(pick(r, "history_beginning_dropped_num_exchanges", "historyBeginningDroppedNumExchanges").Int()),
		HistoryMiddleAbridgedText:           asString(pick(r, "history_middle_abridged_text", "historyMiddleAbridgedText")),
		HistoryEnd:                          parseExchanges(pick(r, "history_end", "historyEnd")),
		MessageTemplate:                     asString(pick(r, "message_template", "messageTemplate")),
		EndPartFullMaxChars:                 int(pick(r, "end_part_full_max_chars", "endPartFullMaxChars").Int()),
		EndPartFullTailChars:                int(pick(r, "end_part_full_tail_chars", "endPartFullTailChars").Int()),
	}
}

// UnmarshalJSON 兼容多种字段命名的反序列化
func (h *HistorySummaryNode) UnmarshalJSON(data []byte) error {
	r, err := parseObject(data)
	if err != nil {
		return err
	}
	*h = parseHistorySummaryNode(r)
	return nil
}

// ==================== 对话请求 ====================

var chatRequestKnownKeys = map[string]bool{
	"message":         true,
	"conversation_id": true, "conversationId": true,
	"model": true, "mode": true,
	"chat_history": true, "chatHistory": true,
	"request_nodes": true, "requestNodes": true,
	"structured_request_nodes": true, "structuredRequestNodes": true,
	"nodes":         true,
	"selected_code": true, "selectedCode": true,
	"prefix": true, "suffix": true, "diff": true,
	"user_guidelines": true, "userGuidelines": true,
	"workspace_guidelines": true, "workspaceGuidelines": true,
	"agent_memories": true, "agentMemories": true,
	"tool_definitions": true, "toolDefinitions": true,
}

// UnmarshalJSON 兼容多种字段命名的反序列化，未识别字段保存在 Extra 中
func (req *ChatRequest) UnmarshalJSON(data []byte) error {
	r, err := parseObject(data)
	if err != nil {
		return err
	}
	if !r.IsObject() {
		return errInvalidJSON
	}
	parsed := ChatRequest{
		Message:                asString(r.Get("message")),
		ConversationID:         strings.TrimSpace(asString(pick(r, "conversation_id", "conversationId"))),
		Model:                  asString(r.Get("model")),
		Mode:                   asString(r.Get("mode")),
		ChatHistory:            parseExchanges(pick(r, "chat_history", "chatHistory")),
		RequestNodes:           parseRequestNodes(pick(r, "request_nodes", "requestNodes")),
		StructuredRequestNodes: parseRequestNodes(pick(r, "structured_request_nodes", "structuredRequestNodes")),
		Nodes:                  parseRequestNodes(r.Get("nodes")),
		SelectedCode:           asString(pick(r, "selected_code", "selectedCode")),
		Prefix:                 asString(r.Get("prefix")),
		Suffix:                 asString(r.Get("suffix")),
		Diff:                   asString(r.Get("diff")),
		UserGuidelines:         asString(pick(r, "user_guidelines", "userGuidelines")),
		WorkspaceGuidelines:    asString(pick(r, "workspace_guidelines", "workspaceGuidelines")),
		AgentMemories:          asString(pick(r, "agent_memories", "agentMemories")),
		Extra:                  collectExtra(r, chatRequestKnownKeys),
	}
	if defs := pick(r, "tool_definitions", "toolDefinitions"); defs.IsArray() {
		for _, d := range defs.Array() {
			parsed.ToolDefinitions = append(parsed.ToolDefinitions, json.RawMessage(d.Raw))
		}
	}
	*req = parsed
	return nil
}

// MarshalJSON 输出规范的 snake_case 结构
func (req ChatRequest) MarshalJSON() ([]byte, error) {
	history := req.ChatHistory
	if history == nil {
		history = []Exchange{}
	}
	reqNodes := req.RequestNodes
	if reqNodes == nil {
		reqNodes = []RequestNode{}
	}
	fields := map[string]any{
		"message":         req.Message,
		"conversation_id": req.ConversationID,
		"chat_history":    history,
		"request_nodes":   reqNodes,
	}
	if req.StructuredRequestNodes != nil {
		fields["structured_request_nodes"] = req.StructuredRequestNodes
	}
	if req.Nodes != nil {
		fields["nodes"] = req.Nodes
	}
	optional := map[string]string{
		"model":                req.Model,
		"mode":                 req.Mode,
		"selected_code":        req.SelectedCode,
		"prefix":               req.Prefix,
		"suffix":               req.Suffix,
		"diff":                 req.Diff,
		"user_guidelines":      req.UserGuidelines,
		"workspace_guidelines": req.WorkspaceGuidelines,
		"agent_memories":       req.AgentMemories,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	if len(req.ToolDefinitions) > 0 {
		fields["tool_definitions"] = req.ToolDefinitions
	}
	return marshalObject(fields, req.Extra)
}

// MarshalJSON 保证 history_end 始终输出为数组
func (h HistorySummaryNode) MarshalJSON() ([]byte, error) {
	type plain HistorySummaryNode
	p := plain(h)
	if p.HistoryEnd == nil {
		p.HistoryEnd = []Exchange{}
	}
	return json.Marshal(p)
}
