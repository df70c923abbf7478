package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"byok-api/internal/historysummary"
	"byok-api/internal/logger"
	"byok-api/internal/models"
	"byok-api/internal/tokenizer"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxRequestBodyBytes 请求体上限，历史较长时单个请求可达数 MB
const maxRequestBodyBytes = 64 << 20

// badRequest 返回 400 错误
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "INVALID_REQUEST"})
}

// readJSONBody 读取并校验 JSON 请求体
func readJSONBody(c *gin.Context) (gjson.Result, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodyBytes))
	if err != nil {
		badRequest(c, "读取请求体失败")
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(body) {
		badRequest(c, "请求体不是有效的 JSON")
		return gjson.Result{}, false
	}
	r := gjson.ParseBytes(body)
	if !r.IsObject() {
		badRequest(c, "请求体必须是 JSON 对象")
		return gjson.Result{}, false
	}
	return r, true
}

// firstString 按候选键返回第一个非空字符串
func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r.Get(k).String()); v != "" {
			return v
		}
	}
	return ""
}

// parseChatRequest 解析信封中的 request 字段
func parseChatRequest(c *gin.Context, body gjson.Result) (*models.ChatRequest, bool) {
	raw := body.Get("request")
	if !raw.IsObject() {
		badRequest(c, "缺少 request 对象")
		return nil, false
	}
	var req models.ChatRequest
	if err := json.Unmarshal([]byte(raw.Raw), &req); err != nil {
		badRequest(c, "request 格式错误: "+err.Error())
		return nil, false
	}
	return &req, true
}

// writeEnvelope 输出 {fields..., "request": <ChatRequest>}，request 保留未识别字段原样输出
func writeEnvelope(c *gin.Context, fields map[string]interface{}, req *models.ChatRequest) {
	out := []byte(`{}`)
	var err error
	for k, v := range fields {
		if out, err = sjson.SetBytes(out, k, v); err != nil {
			break
		}
	}
	if err == nil && req != nil {
		var raw []byte
		if raw, err = json.Marshal(req); err == nil {
			out, err = sjson.SetRawBytes(out, "request", raw)
		}
	}
	if err != nil {
		logger.Error("[历史摘要] 序列化响应失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "序列化响应失败", "code": "INTERNAL_ERROR"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

// handleCompact 在预算超出时压缩请求历史
// 请求: {"request": {...}, "requested_model": "", "fallback_provider_id": "", "fallback_model": "", "timeout_ms": 0}
func (s *Server) handleCompact(c *gin.Context) {
	body, ok := readJSONBody(c)
	if !ok {
		return
	}
	req, ok := parseChatRequest(c, body)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	opts := historysummary.CompactOptions{
		RequestedModel:     firstString(body, "requested_model", "requestedModel"),
		FallbackProviderID: firstString(body, "fallback_provider_id", "fallbackProviderId"),
		FallbackModel:      firstString(body, "fallback_model", "fallbackModel"),
	}
	if opts.RequestedModel == "" {
		opts.RequestedModel = strings.TrimSpace(req.Model)
	}
	if ms := body.Get("timeout_ms").Int(); ms > 0 {
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}

	hs := s.historySummaryConfig(ctx)
	compacted := false
	if hs != nil {
		compacted = s.engine.MaybeSummarizeAndCompact(ctx, hs, req, opts)
	}

	writeEnvelope(c, map[string]interface{}{
		"enabled":   hs != nil,
		"compacted": compacted,
	}, req)
}

// handleEmergency 下游返回上下文超长后的本地紧急压缩
// 请求: {"request": {...}, "level": 1}
func (s *Server) handleEmergency(c *gin.Context) {
	body, ok := readJSONBody(c)
	if !ok {
		return
	}
	req, ok := parseChatRequest(c, body)
	if !ok {
		return
	}
	level := int(body.Get("level").Int())
	if level <= 0 {
		level = 1
	}

	res := historysummary.ApplyEmergencyContextCompactionForRetry(req, level)
	writeEnvelope(c, map[string]interface{}{
		"changed": res.Changed,
		"kind":    string(res.Kind),
		"level":   level,
	}, req)
}

// handleRender 将摘要节点渲染为发送给下游的文本
// 请求体为摘要节点本身，或 {"node": {...}}
func (s *Server) handleRender(c *gin.Context) {
	body, ok := readJSONBody(c)
	if !ok {
		return
	}
	raw := body
	if n := body.Get("node"); n.IsObject() {
		raw = n
	}
	var node models.HistorySummaryNode
	if err := json.Unmarshal([]byte(raw.Raw), &node); err != nil {
		badRequest(c, "摘要节点格式错误: "+err.Error())
		return
	}
	text := historysummary.RenderHistorySummaryNodeValue(&node)
	c.JSON(http.StatusOK, gin.H{
		"text":  text,
		"chars": len([]rune(text)),
	})
}

// handleEstimate 返回请求的体积估算与触发判断，不修改请求
func (s *Server) handleEstimate(c *gin.Context) {
	body, ok := readJSONBody(c)
	if !ok {
		return
	}
	req, ok := parseChatRequest(c, body)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	hs := s.historySummaryConfig(ctx)
	enabled := hs != nil
	if hs == nil {
		// 未启用时仍按当前配置给出判断结果，便于调参
		raw := s.config().HistorySummary
		raw.Enabled = true
		hs = historysummary.ResolveConfig(raw)
	}

	model := firstString(body, "requested_model", "requestedModel")
	if model == "" {
		model = strings.TrimSpace(req.Model)
	}

	historyBytes := historysummary.EstimateHistorySizeBytes(req.ChatHistory)
	extraBytes := len(req.Message) + historysummary.EstimateRequestExtraSizeBytes(req)
	total := historyBytes + extraBytes

	resp := gin.H{
		"enabled":               enabled,
		"model":                 model,
		"history_exchanges":     len(req.ChatHistory),
		"history_bytes":         historyBytes,
		"extra_bytes":           extraBytes,
		"total_bytes":           total,
		"approx_tokens":         historysummary.ApproxTokenCountFromByteLen(total),
		"history_tokens":        tokenizer.CountHistoryTokens(req.ChatHistory),
		"context_window_tokens": historysummary.ResolveContextWindowTokens(hs, model),
		"has_summary":           req.HasHistorySummary() || models.HistoryContainsSummary(req.ChatHistory),
		"triggered":             false,
	}

	if decision := historysummary.ComputeTriggerDecision(hs, model, total); decision != nil {
		resp["triggered"] = true
		resp["decision"] = gin.H{
			"kind":               string(decision.Kind),
			"threshold_bytes":    decision.ThresholdBytes,
			"tail_exclude_bytes": decision.TailExcludeBytes,
		}
		if sel := historysummary.ComputeTailSelection(req.ChatHistory, hs.MinTailExchanges, decision); sel != nil {
			resp["tail_start"] = sel.TailStart
			resp["boundary_request_id"] = sel.BoundaryRequestID
			resp["dropped_exchanges"] = len(sel.DroppedHead)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleDeleteCache 删除指定会话的摘要缓存
func (s *Server) handleDeleteCache(c *gin.Context) {
	convID := strings.TrimSpace(c.Param("conversationId"))
	if convID == "" {
		badRequest(c, "缺少会话 ID")
		return
	}
	if err := s.engine.DeleteCache(c.Request.Context(), convID); err != nil {
		logger.Error("[摘要缓存] 删除失败: conv=%s err=%v", convID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除缓存失败", "code": "CACHE_ERROR"})
		return
	}
	logger.Info("[摘要缓存] 已删除会话缓存: conv=%s", convID)
	c.JSON(http.StatusOK, gin.H{"deleted": convID})
}

// handleClearCache 清空全部摘要缓存
func (s *Server) handleClearCache(c *gin.Context) {
	if err := s.engine.ClearCache(c.Request.Context()); err != nil {
		logger.Error("[摘要缓存] 清空失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空缓存失败", "code": "CACHE_ERROR"})
		return
	}
	logger.Info("[摘要缓存] 已清空全部缓存")
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// requireDB 运行时设置依赖数据库
func (s *Server) requireDB(c *gin.Context) bool {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置数据库，运行时设置不可用", "code": "NO_DATABASE"})
		return false
	}
	return true
}

// handleGetSettings 返回运行时设置与生效的摘要配置
func (s *Server) handleGetSettings(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	ctx := c.Request.Context()
	settings, err := s.db.GetSettings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取设置失败", "code": "DB_ERROR"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":  settings,
		"effective": effectiveSummary(s.historySummaryConfig(ctx)),
	})
}

// handleUpdateSettings 更新运行时设置
func (s *Server) handleUpdateSettings(c *gin.Context) {
	if !s.requireDB(c) {
		return
	}
	var updates models.SettingsUpdate
	if err := c.ShouldBindJSON(&updates); err != nil {
		badRequest(c, "设置格式错误: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := s.db.UpdateSettings(ctx, &updates); err != nil {
		badRequest(c, err.Error())
		return
	}
	if updates.DebugLog != nil {
		logger.SetDebugEnabled(*updates.DebugLog)
	}
	s.settingsCache.Invalidate()

	settings, err := s.db.GetSettings(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取设置失败", "code": "DB_ERROR"})
		return
	}
	logger.Info("[历史摘要] 运行时设置已更新")
	c.JSON(http.StatusOK, gin.H{
		"settings":  settings,
		"effective": effectiveSummary(s.historySummaryConfig(ctx)),
	})
}

// effectiveSummary 生效配置中对外展示的部分
func effectiveSummary(hs *historysummary.Config) gin.H {
	if hs == nil {
		return gin.H{"enabled": false}
	}
	return gin.H{
		"enabled":          true,
		"provider_id":      hs.ProviderID,
		"model":            hs.Model,
		"trigger_strategy": string(hs.TriggerStrategy),
		"rolling_summary":  hs.RollingSummary,
		"trigger_ratio":    hs.TriggerRatio,
		"target_ratio":     hs.TargetRatio,
	}
}
