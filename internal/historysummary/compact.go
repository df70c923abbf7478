package historysummary

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"byok-api/internal/logger"
	"byok-api/internal/models"
)

// CompactOptions 本次请求的模型信息
// FallbackProviderID/FallbackModel 在摘要配置未指定供应商和模型时使用
type CompactOptions struct {
	RequestedModel     string
	FallbackProviderID string
	FallbackModel      string
	Timeout            time.Duration
}

// Engine 上下文压缩引擎
// 同一会话同一边界的并发摘要只会调用一次模型，其余请求复用结果
type Engine struct {
	cache      *Cache
	summarizer Summarizer
	now        func() time.Time

	mu       sync.Mutex
	flights  map[string]*summaryFlight
	inflight sync.WaitGroup
}

// summaryFlight 一次共享的摘要调用
// 最后一个等待方离开时取消 ctx，模型调用随之中止
type summaryFlight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	done    chan struct{}
	res     *summaryResult
	err     error
}

// NewEngine 创建引擎，cache 为 nil 时使用内存存储
func NewEngine(cache *Cache, summarizer Summarizer) *Engine {
	if cache == nil {
		cache = NewCache(NewMemoryStorage(), 0)
	}
	return &Engine{
		cache:      cache,
		summarizer: summarizer,
		now:        time.Now,
		flights:    make(map[string]*summaryFlight),
	}
}

// Cache 返回引擎使用的摘要缓存
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Wait 等待进行中的摘要调用结束，关闭存储前调用
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// DeleteCache 删除指定会话的摘要缓存
func (e *Engine) DeleteCache(ctx context.Context, conversationID string) error {
	return e.cache.Delete(ctx, strings.TrimSpace(conversationID))
}

// ClearCache 清空全部摘要缓存
func (e *Engine) ClearCache(ctx context.Context) error {
	return e.cache.ClearAll(ctx)
}

// buildHistoryEnd 复制尾部历史，只保留渲染所需字段
func buildHistoryEnd(tail []models.Exchange) []models.Exchange {
	out := make([]models.Exchange, len(tail))
	for i := range tail {
		out[i] = models.Exchange{
			RequestID:      tail[i].RequestID,
			RequestMessage: tail[i].RequestMessage,
			ResponseText:   tail[i].ResponseText,
			RequestNodes:   tail[i].RequestNodes,
			ResponseNodes:  tail[i].ResponseNodes,
		}
	}
	return out
}

func injectSummaryNode(hs *Config, req *models.ChatRequest, tail []models.Exchange, summaryText, summarizationRequestID string, abridged AbridgedHistory) {
	node := &models.HistorySummaryNode{
		SummaryText:                         summaryText,
		SummarizationRequestID:              summarizationRequestID,
		HistoryBeginningDroppedNumExchanges: abridged.DroppedBeginning,
		HistoryMiddleAbridgedText:           abridged.Text,
		HistoryEnd:                          buildHistoryEnd(tail),
		MessageTemplate:                     hs.MessageTemplate,
	}
	req.RequestNodes = append(req.RequestNodes, models.RequestNode{
		ID:             0,
		Type:           models.RequestNodeHistorySummary,
		HistorySummary: node,
	})
}

// flightKey 会话、边界以及决定摘要内容的配置共同组成去重键
func flightKey(in resolveInput) string {
	return strings.Join([]string{
		in.conversationID,
		in.boundaryID,
		in.hs.ProviderID,
		in.hs.Model,
		in.opts.FallbackProviderID,
		in.opts.FallbackModel,
		fmt.Sprint(in.hs.RollingSummary),
	}, "\x00")
}

// summarizeOnce 合并同一会话同一边界上的并发摘要请求
// 单个调用方取消只会让它自己返回；所有调用方都离开后模型调用被取消，结果不写入缓存
func (e *Engine) summarizeOnce(ctx context.Context, in resolveInput) (*summaryResult, error) {
	key := flightKey(in)

	e.mu.Lock()
	f, ok := e.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &summaryFlight{ctx: fctx, cancel: cancel, done: make(chan struct{})}
		e.flights[key] = f
		e.inflight.Add(1)
		go e.runFlight(key, f, in)
	}
	f.waiters++
	e.mu.Unlock()

	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		e.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if e.flights[key] == f {
				delete(e.flights, key)
			}
		}
		e.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (e *Engine) runFlight(key string, f *summaryFlight, in resolveInput) {
	defer e.inflight.Done()
	defer close(f.done)
	defer f.cancel()

	f.res, f.err = e.resolveSummaryText(f.ctx, in)

	e.mu.Lock()
	if e.flights[key] == f {
		delete(e.flights, key)
	}
	e.mu.Unlock()
}

// MaybeSummarizeAndCompact 在历史超出预算时将较早的历史替换为摘要节点，返回是否注入了摘要
// 摘要模型失败时使用确定性的兜底文本，从不中断本轮请求
func (e *Engine) MaybeSummarizeAndCompact(ctx context.Context, hs *Config, req *models.ChatRequest, opts CompactOptions) bool {
	if hs == nil || req == nil {
		return false
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		return false
	}
	history := req.ChatHistory
	if len(history) == 0 {
		return false
	}
	hasSummaryInHistory := models.HistoryContainsSummary(history)
	if req.HasHistorySummary() {
		return false
	}

	totalBytes := EstimateHistorySizeBytes(history)
	totalWithExtra := totalBytes + len(req.Message) + EstimateRequestExtraSizeBytes(req)
	triggerModel := strings.TrimSpace(opts.RequestedModel)
	if triggerModel == "" {
		triggerModel = strings.TrimSpace(opts.FallbackModel)
	}

	if decision := ComputeTriggerDecision(hs, triggerModel, totalWithExtra); decision != nil {
		sel := ComputeTailSelection(history, hs.MinTailExchanges, decision)
		if sel != nil && len(sel.DroppedHead) > 0 {
			abridged := BuildAbridgedHistoryText(history, hs.Abridged, sel.TailStart)
			nowMs := e.now().UnixMilli()

			summary, err := e.summarizeOnce(ctx, resolveInput{
				hs:             hs,
				conversationID: convID,
				boundaryID:     sel.BoundaryRequestID,
				history:        history,
				tailStart:      sel.TailStart,
				droppedHead:    sel.DroppedHead,
				opts:           opts,
			})
			if err != nil {
				logger.Warn("[历史摘要] 摘要生成失败，使用兜底文本: conv=%s err=%v", convID, err)
			}

			kind := "llm"
			var summaryText, summarizationRequestID string
			if summary != nil {
				summaryText, summarizationRequestID = summary.Text, summary.RequestID
			} else {
				kind = "fallback"
				summaryText = BuildFallbackSummaryText(len(sel.DroppedHead), len(sel.Tail))
				summarizationRequestID = fmt.Sprintf("%sfallback_%d", summaryIDPrefix, nowMs)
			}

			injectSummaryNode(hs, req, sel.Tail, summaryText, summarizationRequestID, abridged)
			logger.Info("[历史摘要] 已注入摘要: conv=%s kind=%s trigger=%s before≈%d tailStart=%d refresh=%v",
				convID, kind, decision.Kind, totalBytes, sel.TailStart, hasSummaryInHistory)
			return true
		}
	}

	if hasSummaryInHistory || !hs.RollingSummary {
		return false
	}
	return e.reinjectCached(ctx, hs, req, convID, totalBytes)
}

// reinjectCached 未触发压缩但客户端已裁掉带摘要的历史时，用缓存中的摘要补回早期上下文
func (e *Engine) reinjectCached(ctx context.Context, hs *Config, req *models.ChatRequest, convID string, totalBytes int) bool {
	history := req.ChatHistory
	nowMs := e.now().UnixMilli()
	cached := e.cache.GetFreshState(ctx, convID, nowMs, hs.CacheTTLMs, history)
	if cached == nil || strings.TrimSpace(cached.SummaryText) == "" {
		return false
	}

	tail := history
	tailStart := 0
	sel := ComputeTailSelection(history, hs.MinTailExchanges, &TriggerDecision{
		Kind:             DecisionCached,
		TailExcludeBytes: hs.HistoryTailSizeCharsToExclude,
	})
	if sel != nil && len(sel.Tail) > 0 {
		tail, tailStart = sel.Tail, sel.TailStart
	}

	abridged := BuildAbridgedHistoryText(history, hs.Abridged, tailStart)
	requestID := strings.TrimSpace(cached.SummarizationRequestID)
	if requestID == "" {
		updated := cached.UpdatedAtMs
		if updated == 0 {
			updated = nowMs
		}
		requestID = fmt.Sprintf("%scached_%d", summaryIDPrefix, updated)
	}

	injectSummaryNode(hs, req, tail, cached.SummaryText, requestID, abridged)
	logger.Info("[历史摘要] 已从缓存注入摘要: conv=%s before≈%d tailStart=%d", convID, totalBytes, tailStart)
	return true
}
