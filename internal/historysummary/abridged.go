package historysummary

import (
	"fmt"
	"strings"

	"byok-api/internal/models"

	"github.com/tidwall/gjson"
)

// AbridgedHistory 节选历史
// DroppedBeginning 为因总长度超限而完全省略的开头轮数
type AbridgedHistory struct {
	Text             string
	DroppedBeginning int
}

// toolInputPathKeys 工具参数中常见的文件路径字段
var toolInputPathKeys = []string{"path", "file_path", "filePath", "target_file", "targetFile", "filename", "file"}

// editToolHints 名称中包含这些片段的工具视为修改文件
var editToolHints = []string{"edit", "write", "replace", "create", "save", "patch", "insert", "delete", "remove", "apply"}

// truncateRunes 超出上限时截断并追加省略号
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}

// toolUsesOf 返回一轮响应中的工具调用，没有 TOOL_USE 时退回 TOOL_USE_START
func toolUsesOf(nodes []models.ResponseNode) []*models.ToolUse {
	var uses, starts []*models.ToolUse
	for i := range nodes {
		n := &nodes[i]
		if n.ToolUse == nil {
			continue
		}
		switch n.Type {
		case models.ResponseNodeToolUse:
			uses = append(uses, n.ToolUse)
		case models.ResponseNodeToolUseStart:
			starts = append(starts, n.ToolUse)
		}
	}
	if len(uses) > 0 {
		return uses
	}
	return starts
}

func toolInputPaths(inputJSON string) []string {
	if inputJSON == "" || !gjson.Valid(inputJSON) {
		return nil
	}
	r := gjson.Parse(inputJSON)
	var out []string
	for _, k := range toolInputPathKeys {
		if v := r.Get(k); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			out = append(out, strings.TrimSpace(v.Str))
		}
	}
	if v := r.Get("paths"); v.IsArray() {
		for _, p := range v.Array() {
			if p.Type == gjson.String && strings.TrimSpace(p.Str) != "" {
				out = append(out, strings.TrimSpace(p.Str))
			}
		}
	}
	return out
}

func isEditTool(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range editToolHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func responseTextOf(e *models.Exchange) string {
	if e.ResponseText != "" {
		return e.ResponseText
	}
	return models.ExtractAssistantTextFromOutputNodes(e.ResponseNodes)
}

// renderAbridgedExchange 渲染单轮节选
func renderAbridgedExchange(e *models.Exchange, p AbridgedParams) string {
	var sb strings.Builder

	if msg := strings.TrimSpace(e.RequestMessage); msg != "" {
		sb.WriteString("<user>\n")
		sb.WriteString(truncateRunes(msg, p.UserMessageCharsLimit))
		sb.WriteString("\n</user>\n")
	}

	uses := toolUsesOf(e.ResponseNodes)
	if len(uses) > 0 {
		var modified []string
		seen := make(map[string]bool)
		sb.WriteString("<agent_actions>\n")
		for _, u := range uses {
			paths := toolInputPaths(u.InputJSON)
			line := u.ToolName
			if len(paths) > 0 {
				line += ": " + strings.Join(paths, ", ")
			}
			sb.WriteString("- ")
			sb.WriteString(truncateRunes(line, p.ActionCharsLimit))
			sb.WriteString("\n")
			if isEditTool(u.ToolName) {
				for _, path := range paths {
					if !seen[path] {
						seen[path] = true
						modified = append(modified, path)
					}
				}
			}
		}
		if len(modified) > 0 {
			extra := 0
			if len(modified) > p.NumFilesModifiedLimit {
				extra = len(modified) - p.NumFilesModifiedLimit
				modified = modified[:p.NumFilesModifiedLimit]
			}
			sb.WriteString("files modified: ")
			sb.WriteString(strings.Join(modified, ", "))
			if extra > 0 {
				fmt.Fprintf(&sb, " (+%d more)", extra)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("</agent_actions>\n")
	}

	if resp := strings.TrimSpace(responseTextOf(e)); resp != "" {
		sb.WriteString("<agent_response>\n")
		sb.WriteString(truncateRunes(resp, p.AgentResponseCharsLimit))
		sb.WriteString("\n</agent_response>\n")
	}
	return sb.String()
}

// BuildAbridgedHistoryText 为 history[:tailStart] 生成有界长度的节选
// 从新到旧累加，超出总长度后更早的轮次全部省略并计入 DroppedBeginning
func BuildAbridgedHistoryText(history []models.Exchange, p AbridgedParams, tailStart int) AbridgedHistory {
	end := min(max(0, tailStart), len(history))
	if end == 0 {
		return AbridgedHistory{}
	}

	blocks := make([]string, 0, end)
	used := 0
	firstIncluded := end
	for i := end - 1; i >= 0; i-- {
		block := renderAbridgedExchange(&history[i], p)
		size := len([]rune(block))
		if used+size > p.TotalCharsLimit {
			break
		}
		used += size
		blocks = append(blocks, block)
		firstIncluded = i
	}

	var sb strings.Builder
	for i := len(blocks) - 1; i >= 0; i-- {
		sb.WriteString(blocks[i])
		if i > 0 {
			sb.WriteString("\n")
		}
	}
	return AbridgedHistory{
		Text:             strings.TrimRight(sb.String(), "\n"),
		DroppedBeginning: firstIncluded,
	}
}
