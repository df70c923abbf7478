package api

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"
	"time"

	"byok-api/internal/logger"
	"byok-api/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	previewPolicy = bluemonday.UGCPolicy()

	previewTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>摘要缓存 - {{.ConversationID}}</title>
<style>
body { font-family: -apple-system, "PingFang SC", sans-serif; margin: 2em auto; max-width: 960px; color: #222; }
.entry { border: 1px solid #ddd; border-radius: 6px; padding: 1em 1.5em; margin-bottom: 1.5em; }
.meta { color: #666; font-size: 0.85em; }
.meta code { background: #f4f4f4; padding: 0 0.3em; }
</style>
</head>
<body>
<h1>会话 {{.ConversationID}}</h1>
<p class="meta">共 {{len .Entries}} 条摘要</p>
{{range .Entries}}
<div class="entry">
<p class="meta">边界 <code>{{.BoundaryRequestID}}</code> · 更新于 {{.UpdatedAt}} · 已摘要 {{.SummarizedUntilIndex}} 轮 · <code>{{.SummarizationRequestID}}</code></p>
{{.HTML}}
</div>
{{else}}
<p>暂无缓存</p>
{{end}}
</body>
</html>
`))
)

type previewEntry struct {
	BoundaryRequestID      string
	SummarizationRequestID string
	SummarizedUntilIndex   int
	UpdatedAt              string
	HTML                   template.HTML
}

// renderSummaryHTML 摘要为 Markdown 文本，转换后再做清洗
func renderSummaryHTML(summary string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(summary), &buf); err != nil {
		logger.Warn("[摘要缓存] Markdown 转换失败，按纯文本展示: %v", err)
		return template.HTML("<pre>" + template.HTMLEscapeString(summary) + "</pre>")
	}
	return template.HTML(previewPolicy.SanitizeBytes(buf.Bytes()))
}

func toPreviewEntry(e *models.SummaryCacheEntry) previewEntry {
	return previewEntry{
		BoundaryRequestID:      e.BoundaryRequestID,
		SummarizationRequestID: e.SummarizationRequestID,
		SummarizedUntilIndex:   e.SummarizedUntilIndex,
		UpdatedAt:              time.UnixMilli(e.UpdatedAtMs).Format("2006-01-02 15:04:05"),
		HTML:                   renderSummaryHTML(e.SummaryText),
	}
}

// handleCachePreview 预览会话的摘要缓存，默认输出 HTML，?format=json 输出原始条目
func (s *Server) handleCachePreview(c *gin.Context) {
	convID := strings.TrimSpace(c.Param("conversationId"))
	if convID == "" {
		badRequest(c, "缺少会话 ID")
		return
	}
	entries := s.engine.Cache().Entries(c.Request.Context(), convID)

	if strings.EqualFold(c.Query("format"), "json") {
		if entries == nil {
			entries = []*models.SummaryCacheEntry{}
		}
		c.JSON(http.StatusOK, gin.H{
			"conversation_id": convID,
			"entries":         entries,
		})
		return
	}

	data := struct {
		ConversationID string
		Entries        []previewEntry
	}{ConversationID: convID}
	for _, e := range entries {
		data.Entries = append(data.Entries, toPreviewEntry(e))
	}

	var buf bytes.Buffer
	if err := previewTemplate.Execute(&buf, data); err != nil {
		logger.Error("[摘要缓存] 渲染预览失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "渲染预览失败", "code": "INTERNAL_ERROR"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}
