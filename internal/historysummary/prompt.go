package historysummary

import (
	"fmt"
	"strings"

	"byok-api/internal/models"
)

// DefaultSummaryPrompt 默认摘要提示词
const DefaultSummaryPrompt = `Your task is to create a detailed summary of the conversation so far, paying close attention to the user's explicit requests and your previous actions.
The summary will replace the earlier part of the conversation, so it must preserve everything needed to continue the work without losing context.

Include the following sections:
1. Primary request and intent: what the user asked for, in detail.
2. Key technical concepts: technologies, frameworks and conventions discussed.
3. Files and code: files examined, modified or created, with the important snippets and why they matter.
4. Errors and fixes: problems encountered and how they were resolved, including user feedback.
5. Pending tasks: work the user asked for that is not finished yet.
6. Current work: what was being worked on immediately before this summary.
7. Next step: the next step that directly follows from the most recent work, if any.

Be precise and concrete. Output only the summary.`

// rollingPromptSuffix 增量摘要附加说明
const rollingPromptSuffix = "\n\nYou will be given an existing summary and additional conversation turns. The new turns may overlap with information already included in the summary, and the history may be incomplete due to truncation. Update the summary to include any NEW information, avoid duplication, and prefer the latest state when conflicts exist. Output only the updated summary."

// DefaultMessageTemplate 默认摘要节点渲染模板
const DefaultMessageTemplate = `<supervisor>
The conversation history between the agent (you) and the user was compacted to fit the context window.
{beginning_part_dropped_num_exchanges} early exchanges were dropped entirely.

Abridged history of the compacted part:
<abridged_history>
{middle_part_abridged}
</abridged_history>

Summary of the compacted part (written by you, so "I" refers to you):
<summary>
{summary}
</summary>

Most recent exchanges, kept in full:
<recent_history>
{end_part_full}
</recent_history>

Continue the conversation and finish the task given by the user from this point.
</supervisor>`

const (
	prevSummaryRequestID = "byok_history_summary_prev"
	summaryIDPrefix      = "byok_history_summary_"
)

// BuildRollingUpdatePrompt 在基础提示词后追加增量更新说明
func BuildRollingUpdatePrompt(prompt string) string {
	return strings.TrimSpace(prompt) + rollingPromptSuffix
}

// buildPrevSummaryExchange 将上一次的摘要包装为一轮伪对话
func buildPrevSummaryExchange(summaryText string) models.Exchange {
	return models.Exchange{
		RequestID:      prevSummaryRequestID,
		RequestMessage: "[PREVIOUS_SUMMARY]\n" + strings.TrimSpace(summaryText) + "\n[/PREVIOUS_SUMMARY]",
	}
}

// BuildFallbackSummaryText 模型摘要不可用时的确定性说明文本
func BuildFallbackSummaryText(dropped, kept int) string {
	return fmt.Sprintf("Context was compacted without an LLM summary (dropped_exchanges=%d kept_exchanges=%d). Use the abridged and full tail history below.", dropped, kept)
}
