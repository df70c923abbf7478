package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"byok-api/internal/config"
	"byok-api/internal/historysummary"
	"byok-api/internal/logger"
)

// Dispatcher 按配置中的上游执行摘要调用，实现 historysummary.Summarizer
type Dispatcher struct {
	mu      sync.RWMutex
	cfg     *config.Config
	clients map[string]*http.Client // 按代理地址复用
}

// NewDispatcher 创建分发器
func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{cfg: cfg, clients: make(map[string]*http.Client)}
}

// UpdateConfig 配置热更新
func (d *Dispatcher) UpdateConfig(cfg *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

func (d *Dispatcher) httpClient(httpProxy string) *http.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[httpProxy]; ok {
		return c
	}
	c := NewHTTPClient(httpProxy)
	d.clients[httpProxy] = c
	return c
}

// ResolveProvider 优先使用摘要专用上游，找不到时使用调用方的上游
func (d *Dispatcher) ResolveProvider(providerID, fallbackProviderID string) (*config.ProviderConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cfg == nil {
		return nil, ErrNoProvider
	}
	if p := d.cfg.PickProviderByID(providerID); p != nil {
		cp := *p
		return &cp, nil
	}
	if p := d.cfg.PickProviderByID(fallbackProviderID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNoProvider
}

// sortedDefaults 按键排序，跳过已由参数结构体设置的输出长度字段
func sortedDefaults(defaults map[string]interface{}, skip string) []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		if k != skip {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Summarize 实现 historysummary.Summarizer
func (d *Dispatcher) Summarize(ctx context.Context, req historysummary.SummaryRequest) (string, error) {
	p, err := d.ResolveProvider(req.ProviderID, req.FallbackProviderID)
	if err != nil {
		return "", err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(p.Model)
	}
	if model == "" {
		return "", NewAPIError(ErrCodeNoProvider, fmt.Sprintf("上游 %s 未配置模型", p.ID))
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	call := callParams{
		provider:  p,
		model:     model,
		system:    req.Prompt,
		turns:     BuildTranscript(req.ChatHistory),
		maxTokens: req.MaxTokens,
		defaults:  NormalizeRequestDefaults(p, req.MaxTokens),
		client:    d.httpClient(p.HTTPProxy),
	}

	start := time.Now()
	var text string
	switch p.Type {
	case config.ProviderTypeOpenAI:
		text, err = callOpenAIChat(ctx, call)
	case config.ProviderTypeOpenAIResponses:
		text, err = callOpenAIResponses(ctx, call)
	case config.ProviderTypeAnthropic:
		text, err = callAnthropic(ctx, call)
	default:
		return "", NewAPIError(ErrCodeUnsupportedType, fmt.Sprintf("不支持的上游类型: %s", p.Type))
	}
	if err != nil {
		logger.Warn("[摘要模型] 调用失败: provider=%s model=%s 耗时=%v err=%v", p.ID, model, time.Since(start), err)
		return "", classifyError(p.ID, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	logger.Info("[摘要模型] 调用完成: provider=%s type=%s model=%s 消息数=%d 耗时=%v",
		p.ID, p.Type, model, len(call.turns), time.Since(start))
	return text, nil
}
