package historysummary

import (
	"context"
	"errors"
	"strings"
	"time"

	"byok-api/internal/logger"
	"byok-api/internal/models"

	"github.com/google/uuid"
)

// ErrNoSummarizer 引擎未配置摘要模型调用方
var ErrNoSummarizer = errors.New("未配置摘要模型")

// DefaultSummaryTimeout 调用方未指定超时时的默认值
const DefaultSummaryTimeout = 120 * time.Second

// SummaryRequest 一次摘要模型调用
// ProviderID 为摘要专用供应商，找不到时使用 FallbackProviderID
type SummaryRequest struct {
	ProviderID         string
	FallbackProviderID string
	Model              string
	Prompt             string
	ChatHistory        []models.Exchange
	MaxTokens          int
	Timeout            time.Duration
}

// Summarizer 执行摘要模型调用，返回纯文本
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// SummarizerFunc 函数适配器
type SummarizerFunc func(ctx context.Context, req SummaryRequest) (string, error)

// Summarize 实现 Summarizer
func (f SummarizerFunc) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	return f(ctx, req)
}

type summaryResult struct {
	Text      string
	RequestID string
}

type resolveInput struct {
	hs             *Config
	conversationID string
	boundaryID     string
	history        []models.Exchange
	tailStart      int
	droppedHead    []models.Exchange
	opts           CompactOptions
}

// resolveTimeout 调用方超时至少 1 秒，且不超过配置的上限
func resolveTimeout(hs *Config, requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = DefaultSummaryTimeout
	}
	requested = max(time.Second, requested)
	return min(requested, time.Duration(hs.TimeoutSeconds)*time.Second)
}

// buildSummaryInput 组装摘要输入，有可用的旧摘要时只发送增量部分
func (e *Engine) buildSummaryInput(ctx context.Context, in resolveInput, nowMs int64) ([]models.Exchange, string, bool) {
	hs := in.hs
	prompt := hs.Prompt
	input := append([]models.Exchange(nil), in.droppedHead...)
	if !hs.RollingSummary {
		return input, prompt, false
	}

	prev := e.cache.GetFreshState(ctx, in.conversationID, nowMs, hs.CacheTTLMs, in.history)
	if prev == nil {
		return input, prompt, false
	}
	prevBoundary := strings.TrimSpace(prev.SummarizedUntilRequestID())
	if prevBoundary == "" || prevBoundary == in.boundaryID {
		return input, prompt, false
	}

	prevExchange := buildPrevSummaryExchange(prev.SummaryText)
	pos := -1
	for i := range in.history {
		if in.history[i].RequestID == prevBoundary {
			pos = i
			break
		}
	}
	if pos >= 0 && pos < in.tailStart {
		delta := in.history[pos:in.tailStart]
		out := make([]models.Exchange, 0, len(delta)+1)
		out = append(out, prevExchange)
		out = append(out, delta...)
		return out, BuildRollingUpdatePrompt(hs.Prompt), true
	}
	if len(input) > 0 {
		logger.Debug("[历史摘要] 上次摘要边界不在头部，合并旧摘要与完整头部: conv=%s prev=%s pos=%d", in.conversationID, prevBoundary, pos)
		return append([]models.Exchange{prevExchange}, input...), BuildRollingUpdatePrompt(hs.Prompt), true
	}
	return input, prompt, false
}

// trimSummaryInput 按字节上限裁剪输入；增量模式下保留首个旧摘要条目
func trimSummaryInput(input []models.Exchange, maxBytes int, rolling bool) []models.Exchange {
	if maxBytes <= 0 {
		return input
	}
	if rolling {
		for len(input) > 1 && EstimateHistorySizeBytes(input) > maxBytes {
			input = append(input[:1], input[2:]...)
		}
		return input
	}
	for len(input) > 0 && EstimateHistorySizeBytes(input) > maxBytes {
		input = input[1:]
	}
	return input
}

// resolveSummaryText 获取摘要文本：优先使用缓存，否则调用模型并写回缓存
// 返回 nil 表示没有可用摘要，由调用方使用兜底文本
func (e *Engine) resolveSummaryText(ctx context.Context, in resolveInput) (*summaryResult, error) {
	hs := in.hs
	nowMs := e.now().UnixMilli()

	if cached := e.cache.GetFresh(ctx, in.conversationID, in.boundaryID, nowMs, hs.CacheTTLMs, in.droppedHead); cached != nil {
		logger.Debug("[摘要缓存] 命中: conv=%s boundary=%s", in.conversationID, in.boundaryID)
		return &summaryResult{Text: cached.SummaryText, RequestID: cached.SummarizationRequestID}, nil
	}

	if e.summarizer == nil {
		return nil, ErrNoSummarizer
	}

	model := hs.Model
	if model == "" {
		model = strings.TrimSpace(in.opts.FallbackModel)
	}

	input, prompt, rolling := e.buildSummaryInput(ctx, in, nowMs)
	input = trimSummaryInput(input, hs.MaxSummarizationInputChars, rolling)
	if len(input) == 0 {
		return nil, nil
	}

	timeout := resolveTimeout(hs, in.opts.Timeout)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := e.summarizer.Summarize(callCtx, SummaryRequest{
		ProviderID:         hs.ProviderID,
		FallbackProviderID: in.opts.FallbackProviderID,
		Model:              model,
		Prompt:             prompt,
		ChatHistory:        input,
		MaxTokens:          hs.MaxTokens,
		Timeout:            timeout,
	})
	if err != nil {
		return nil, err
	}
	// 超时或被取消后返回的结果一律丢弃
	if err := callCtx.Err(); err != nil {
		logger.Debug("[历史摘要] 摘要调用已取消，丢弃结果: conv=%s err=%v", in.conversationID, err)
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	requestID := summaryIDPrefix + uuid.NewString()
	meta := CacheMetadata{
		StartRequestID:               HistoryStartRequestID(in.history),
		SummarizedUntilIndex:         len(in.droppedHead),
		SummarizedRequestIDsHash:     ComputeRequestIDsHash(in.droppedHead),
		SummarizedTailRequestIDs:     TailRequestIDs(in.droppedHead, DefaultSummaryTailRequestIDs),
		SummarizedTailHeadRequestIDs: HeadRequestIDs(in.history, in.tailStart, DefaultSummaryTailHeadRequestIDs),
	}
	if err := e.cache.Put(ctx, in.conversationID, in.boundaryID, text, requestID, nowMs, meta); err != nil {
		logger.Warn("[摘要缓存] 写入失败: conv=%s boundary=%s err=%v", in.conversationID, in.boundaryID, err)
	}
	logger.Info("[历史摘要] 摘要生成完成: conv=%s model=%s rolling=%v input=%d chars=%d",
		in.conversationID, model, rolling, len(input), len([]rune(text)))
	return &summaryResult{Text: text, RequestID: requestID}, nil
}
