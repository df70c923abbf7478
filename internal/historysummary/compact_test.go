package historysummary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"byok-api/internal/config"
	"byok-api/internal/models"
)

// recordingSummarizer 记录每次摘要调用
type recordingSummarizer struct {
	mu    sync.Mutex
	calls []SummaryRequest
	text  string
	err   error
}

func (s *recordingSummarizer) Summarize(_ context.Context, req SummaryRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return s.text, s.err
}

func (s *recordingSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestEngine(s Summarizer) *Engine {
	e := NewEngine(NewCache(NewMemoryStorage(), 0), s)
	e.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return e
}

func summaryNodes(req *models.ChatRequest) []*models.HistorySummaryNode {
	var out []*models.HistorySummaryNode
	for i := range req.RequestNodes {
		if req.RequestNodes[i].IsHistorySummary() {
			out = append(out, req.RequestNodes[i].HistorySummary)
		}
	}
	return out
}

func bigHistory(n, size int, withIDs bool) []models.Exchange {
	history := make([]models.Exchange, n)
	for i := range history {
		id := ""
		if withIDs {
			id = fmt.Sprintf("r%d", i)
		}
		history[i] = exchange(id, strings.Repeat("x", size), strings.Repeat("y", size))
	}
	return history
}

// TestCompact_TriggerFromMessageBytes 当前消息本身使历史超出阈值
func TestCompact_TriggerFromMessageBytes(t *testing.T) {
	s := &recordingSummarizer{text: "SUMMARY"}
	e := newTestEngine(s)
	hs := charsConfig(120, 0, 2)
	req := &models.ChatRequest{
		ConversationID: "conv-1",
		Message:        strings.Repeat("m", 200),
		ChatHistory:    sampleHistory(3),
	}

	if !e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{FallbackModel: "gpt-4o"}) {
		t.Fatal("应注入摘要")
	}
	nodes := summaryNodes(req)
	if len(nodes) != 1 {
		t.Fatalf("应注入 1 个摘要节点，实际为 %d", len(nodes))
	}
	if got := requestIDs(req.ChatHistory); len(got) != 3 || got[0] != "r0" {
		t.Errorf("chat_history 应保持原样，got: %v", got)
	}
	n := nodes[0]
	if n.SummaryText != "SUMMARY" {
		t.Errorf("摘要文本应为 SUMMARY，实际为 %q", n.SummaryText)
	}
	if !strings.HasPrefix(n.SummarizationRequestID, "byok_history_summary_") {
		t.Errorf("摘要请求 ID 前缀不符合预期: %s", n.SummarizationRequestID)
	}
	if len(n.HistoryEnd) != 2 || n.HistoryEnd[0].RequestID != "r1" {
		t.Errorf("HistoryEnd 应为 r1、r2，got: %v", requestIDs(n.HistoryEnd))
	}
	if n.MessageTemplate != DefaultMessageTemplate {
		t.Error("应使用配置中的模板")
	}
	if s.callCount() != 1 {
		t.Fatalf("应调用 1 次摘要模型，实际为 %d", s.callCount())
	}
	call := s.calls[0]
	if call.Model != "gpt-4o" || call.MaxTokens != 1024 {
		t.Errorf("摘要调用参数不符合预期: %+v", call)
	}
	if call.Timeout != 60*time.Second {
		t.Errorf("超时应被配置上限钳制为 60s，实际为 %v", call.Timeout)
	}
	if len(call.ChatHistory) != 1 || call.ChatHistory[0].RequestID != "r0" {
		t.Errorf("摘要输入应为被丢弃的头部，got: %v", requestIDs(call.ChatHistory))
	}
}

// TestCompact_AutoStrategy 按模型窗口比例触发
func TestCompact_AutoStrategy(t *testing.T) {
	s := &recordingSummarizer{text: "S"}
	e := newTestEngine(s)
	hs := ResolveConfig(config.HistorySummaryConfig{
		Enabled:                      true,
		TriggerStrategy:              "auto",
		TriggerOnHistorySizeChars:    1 << 30,
		ContextWindowTokensOverrides: map[string]int{"gpt-4o": 100},
	})
	req := &models.ChatRequest{
		ConversationID: "conv-auto",
		Message:        "hi",
		ChatHistory:    bigHistory(4, 200, true),
	}
	if !e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{FallbackModel: "gpt-4o-mini"}) {
		t.Fatal("按比例应触发压缩")
	}
	if len(summaryNodes(req)) != 1 {
		t.Error("应注入 1 个摘要节点")
	}
}

// TestCompact_Refresh 历史中已有旧摘要时仍会刷新
func TestCompact_Refresh(t *testing.T) {
	e := newTestEngine(&recordingSummarizer{text: "NEW"})
	hs := charsConfig(1, 0, 2)
	history := sampleHistory(4)
	history[0].RequestNodes = []models.RequestNode{{
		Type:           models.RequestNodeHistorySummary,
		HistorySummary: &models.HistorySummaryNode{SummaryText: "OLD"},
	}}
	req := &models.ChatRequest{ConversationID: "conv-r", Message: "hi", ChatHistory: history}

	if !e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{}) {
		t.Fatal("应注入摘要")
	}
	if n := len(summaryNodes(req)); n != 1 {
		t.Errorf("应恰好新增 1 个摘要节点，实际为 %d", n)
	}

	// 同一轮请求不会重复注入
	if e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{}) {
		t.Error("请求已携带摘要时不应再次注入")
	}
}

// TestCompact_MissingRequestIDs 请求 ID 全为空时仍能压缩
func TestCompact_MissingRequestIDs(t *testing.T) {
	e := newTestEngine(&recordingSummarizer{text: "S"})
	hs := charsConfig(1, 0, 2)
	req := &models.ChatRequest{ConversationID: "conv-m", Message: "hi", ChatHistory: bigHistory(4, 1000, false)}
	if !e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{}) {
		t.Fatal("应注入摘要")
	}
	nodes := summaryNodes(req)
	if len(nodes) != 1 {
		t.Fatalf("应注入 1 个摘要节点，实际为 %d", len(nodes))
	}
	if len(nodes[0].HistoryEnd) != 2 {
		t.Errorf("HistoryEnd 应保留 2 轮，实际为 %d", len(nodes[0].HistoryEnd))
	}
}

// TestCompact_NoOp 不满足条件时不做任何修改
func TestCompact_NoOp(t *testing.T) {
	e := newTestEngine(&recordingSummarizer{text: "S"})
	hs := charsConfig(1, 0, 2)
	ctx := context.Background()

	tests := []struct {
		name string
		hs   *Config
		req  *models.ChatRequest
	}{
		{"未启用", nil, &models.ChatRequest{ConversationID: "c", ChatHistory: sampleHistory(4)}},
		{"缺少会话 ID", hs, &models.ChatRequest{ChatHistory: sampleHistory(4)}},
		{"历史为空", hs, &models.ChatRequest{ConversationID: "c"}},
		{"未达阈值", charsConfig(1<<30, 0, 2), &models.ChatRequest{ConversationID: "c", ChatHistory: sampleHistory(4)}},
		{"无法切分", hs, &models.ChatRequest{ConversationID: "c", ChatHistory: sampleHistory(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if e.MaybeSummarizeAndCompact(ctx, tt.hs, tt.req, CompactOptions{}) {
				t.Error("不应注入摘要")
			}
			if len(tt.req.RequestNodes) != 0 {
				t.Error("请求节点不应被修改")
			}
		})
	}
}

// TestCompact_FallbackOnError 模型失败时使用兜底文本
func TestCompact_FallbackOnError(t *testing.T) {
	tests := []struct {
		name       string
		summarizer Summarizer
	}{
		{"调用失败", &recordingSummarizer{err: errors.New("upstream 500")}},
		{"返回空文本", &recordingSummarizer{text: "   "}},
		{"未配置", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(tt.summarizer)
			req := &models.ChatRequest{ConversationID: "conv-f", Message: "hi", ChatHistory: sampleHistory(5)}
			if !e.MaybeSummarizeAndCompact(context.Background(), charsConfig(1, 0, 2), req, CompactOptions{}) {
				t.Fatal("失败时也应注入兜底摘要")
			}
			n := summaryNodes(req)[0]
			if !strings.Contains(n.SummaryText, "dropped_exchanges=3 kept_exchanges=2") {
				t.Errorf("兜底文本不符合预期: %s", n.SummaryText)
			}
			if n.SummarizationRequestID != "byok_history_summary_fallback_1700000000000" {
				t.Errorf("兜底请求 ID 不符合预期: %s", n.SummarizationRequestID)
			}
			if len(e.cache.Entries(context.Background(), "conv-f")) != 0 {
				t.Error("兜底摘要不应写入缓存")
			}
		})
	}
}

// TestCompact_CacheHit 相同边界第二次压缩直接使用缓存
func TestCompact_CacheHit(t *testing.T) {
	s := &recordingSummarizer{text: "CACHED"}
	e := newTestEngine(s)
	hs := charsConfig(1, 0, 2)
	for i := 0; i < 2; i++ {
		req := &models.ChatRequest{ConversationID: "conv-c", Message: "hi", ChatHistory: sampleHistory(4)}
		if !e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{}) {
			t.Fatalf("第 %d 次应注入摘要", i+1)
		}
		if summaryNodes(req)[0].SummaryText != "CACHED" {
			t.Errorf("第 %d 次摘要文本不符合预期", i+1)
		}
	}
	if s.callCount() != 1 {
		t.Errorf("第二次应命中缓存，实际调用模型 %d 次", s.callCount())
	}
}

// TestCompact_RollingUpdate 边界前移时只发送增量部分与旧摘要
func TestCompact_RollingUpdate(t *testing.T) {
	s := &recordingSummarizer{text: "S1"}
	e := newTestEngine(s)
	hs := charsConfig(1, 0, 2)
	hs.RollingSummary = true
	ctx := context.Background()

	history := sampleHistory(6)
	first := &models.ChatRequest{ConversationID: "conv-roll", Message: "hi", ChatHistory: history[:4]}
	if !e.MaybeSummarizeAndCompact(ctx, hs, first, CompactOptions{}) {
		t.Fatal("第一次应注入摘要")
	}

	s.text = "S2"
	second := &models.ChatRequest{ConversationID: "conv-roll", Message: "hi", ChatHistory: history}
	if !e.MaybeSummarizeAndCompact(ctx, hs, second, CompactOptions{}) {
		t.Fatal("第二次应注入摘要")
	}
	if s.callCount() != 2 {
		t.Fatalf("应调用 2 次摘要模型，实际为 %d", s.callCount())
	}
	call := s.calls[1]
	if got := requestIDs(call.ChatHistory); len(got) != 3 || got[0] != prevSummaryRequestID || got[1] != "r2" || got[2] != "r3" {
		t.Errorf("增量输入应为 [旧摘要, r2, r3]，got: %v", got)
	}
	if !strings.Contains(call.ChatHistory[0].RequestMessage, "[PREVIOUS_SUMMARY]\nS1\n[/PREVIOUS_SUMMARY]") {
		t.Errorf("旧摘要包装不符合预期: %q", call.ChatHistory[0].RequestMessage)
	}
	if !strings.Contains(call.Prompt, "Update the summary") {
		t.Error("增量模式应使用增量提示词")
	}
	if summaryNodes(second)[0].SummaryText != "S2" {
		t.Error("应注入新的摘要")
	}
}

// TestCompact_MaxInputTrim 输入超出上限时从最旧的开始丢弃
func TestCompact_MaxInputTrim(t *testing.T) {
	s := &recordingSummarizer{text: "S"}
	e := newTestEngine(s)
	hs := charsConfig(1, 0, 2)
	hs.MaxSummarizationInputChars = 250
	req := &models.ChatRequest{ConversationID: "conv-t", Message: "hi", ChatHistory: bigHistory(6, 50, true)}
	if !e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{}) {
		t.Fatal("应注入摘要")
	}
	got := requestIDs(s.calls[0].ChatHistory)
	if len(got) != 2 || got[0] != "r2" {
		t.Errorf("裁剪后应保留最近的 2 轮，got: %v", got)
	}
}

// TestCompact_ReinjectFromCache 客户端裁掉了摘要所在的历史时用缓存补回
func TestCompact_ReinjectFromCache(t *testing.T) {
	s := &recordingSummarizer{text: "EARLY"}
	e := newTestEngine(s)
	hs := charsConfig(1, 0, 2)
	hs.RollingSummary = true
	ctx := context.Background()

	history := sampleHistory(4)
	if !e.MaybeSummarizeAndCompact(ctx, hs, &models.ChatRequest{ConversationID: "conv-p", Message: "hi", ChatHistory: history}, CompactOptions{}) {
		t.Fatal("第一次应注入摘要")
	}

	quiet := charsConfig(1<<30, 0, 2)
	quiet.RollingSummary = true
	req := &models.ChatRequest{ConversationID: "conv-p", Message: "hi", ChatHistory: history[2:]}
	if !e.MaybeSummarizeAndCompact(ctx, quiet, req, CompactOptions{}) {
		t.Fatal("应从缓存补回摘要")
	}
	n := summaryNodes(req)[0]
	if n.SummaryText != "EARLY" {
		t.Errorf("应注入缓存中的摘要，实际为 %q", n.SummaryText)
	}
	if len(n.HistoryEnd) != 2 {
		t.Errorf("无法切分时整个历史作为尾部，实际为 %d", len(n.HistoryEnd))
	}
	if s.callCount() != 1 {
		t.Errorf("补回时不应调用模型，实际调用 %d 次", s.callCount())
	}

	quiet.RollingSummary = false
	off := &models.ChatRequest{ConversationID: "conv-p", Message: "hi", ChatHistory: history[2:]}
	if e.MaybeSummarizeAndCompact(ctx, quiet, off, CompactOptions{}) {
		t.Error("未开启增量摘要时不应从缓存补回")
	}
}

// TestCompact_ConcurrentSameBoundary 同一边界的并发请求只调用一次模型
func TestCompact_ConcurrentSameBoundary(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	e := newTestEngine(SummarizerFunc(func(ctx context.Context, req SummaryRequest) (string, error) {
		calls.Add(1)
		<-release
		return "ONCE", nil
	}))
	hs := charsConfig(1, 0, 2)

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &models.ChatRequest{ConversationID: "conv-cc", Message: "hi", ChatHistory: sampleHistory(4)}
			if e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{}) {
				results[i] = summaryNodes(req)[0].SummaryText
			}
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("应只调用 1 次模型，实际为 %d", n)
	}
	for i, r := range results {
		if r != "ONCE" {
			t.Errorf("第 %d 个请求的摘要应为 ONCE，实际为 %q", i, r)
		}
	}
}

// TestCompact_CallerCancel 调用方取消时立即返回兜底文本，模型调用被取消且结果不写入缓存
func TestCompact_CallerCancel(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	e := newTestEngine(SummarizerFunc(func(ctx context.Context, req SummaryRequest) (string, error) {
		close(started)
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-time.After(5 * time.Second):
		}
		return "LATE SUMMARY", nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := &models.ChatRequest{ConversationID: "conv-x", Message: "hi", ChatHistory: sampleHistory(4)}
	done := make(chan bool, 1)
	go func() { done <- e.MaybeSummarizeAndCompact(ctx, charsConfig(1, 0, 2), req, CompactOptions{}) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("摘要模型未被调用")
	}
	cancel()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("取消后也应注入兜底摘要")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消后应立即返回")
	}
	if !strings.HasPrefix(summaryNodes(req)[0].SummaryText, "Context was compacted without an LLM summary") {
		t.Error("取消后应使用兜底文本")
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("调用方取消后模型调用的 ctx 应被取消")
	}
	e.Wait()
	if entries := e.Cache().Entries(context.Background(), "conv-x"); len(entries) != 0 {
		t.Errorf("被取消的调用不应写入缓存，实际有 %d 条", len(entries))
	}
}

// TestCompact_CancelOneOfMany 只要还有调用方在等待，模型调用就继续
func TestCompact_CancelOneOfMany(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var interrupted atomic.Bool
	e := newTestEngine(SummarizerFunc(func(ctx context.Context, req SummaryRequest) (string, error) {
		close(started)
		<-release
		interrupted.Store(ctx.Err() != nil)
		return "SHARED", nil
	}))
	hs := charsConfig(1, 0, 2)

	leaving, leave := context.WithCancel(context.Background())
	defer leave()
	first := make(chan bool, 1)
	go func() {
		req := &models.ChatRequest{ConversationID: "conv-m2", Message: "hi", ChatHistory: sampleHistory(4)}
		first <- e.MaybeSummarizeAndCompact(leaving, hs, req, CompactOptions{})
	}()
	<-started

	stay := &models.ChatRequest{ConversationID: "conv-m2", Message: "hi", ChatHistory: sampleHistory(4)}
	second := make(chan bool, 1)
	go func() { second <- e.MaybeSummarizeAndCompact(context.Background(), hs, stay, CompactOptions{}) }()

	// 等第二个调用方加入后再让第一个离开
	deadline := time.Now().Add(2 * time.Second)
	for {
		e.mu.Lock()
		waiters := 0
		for _, f := range e.flights {
			waiters += f.waiters
		}
		e.mu.Unlock()
		if waiters == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("第二个调用方未加入共享调用")
		}
		time.Sleep(5 * time.Millisecond)
	}
	leave()
	<-first
	close(release)

	if !<-second {
		t.Fatal("第二个调用方应注入摘要")
	}
	if got := summaryNodes(stay)[0].SummaryText; got != "SHARED" {
		t.Errorf("仍在等待的调用方应拿到模型结果，实际为 %q", got)
	}
	if interrupted.Load() {
		t.Error("仍有调用方等待时不应取消模型调用")
	}
}

// TestCompact_DifferentModelsNotShared 模型不同的并发请求各自调用
func TestCompact_DifferentModelsNotShared(t *testing.T) {
	var mu sync.Mutex
	perModel := map[string]int{}
	release := make(chan struct{})
	e := newTestEngine(SummarizerFunc(func(ctx context.Context, req SummaryRequest) (string, error) {
		mu.Lock()
		perModel[req.Model]++
		mu.Unlock()
		<-release
		return "by " + req.Model, nil
	}))

	var wg sync.WaitGroup
	results := map[string]string{}
	for _, m := range []string{"model-a", "model-b"} {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			hs := charsConfig(1, 0, 2)
			hs.Model = m
			req := &models.ChatRequest{ConversationID: "conv-dm", Message: "hi", ChatHistory: sampleHistory(4)}
			if e.MaybeSummarizeAndCompact(context.Background(), hs, req, CompactOptions{}) {
				mu.Lock()
				results[m] = summaryNodes(req)[0].SummaryText
				mu.Unlock()
			}
		}(m)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, m := range []string{"model-a", "model-b"} {
		if perModel[m] != 1 {
			t.Errorf("%s 应调用 1 次，实际为 %d", m, perModel[m])
		}
		if results[m] != "by "+m {
			t.Errorf("%s 的请求拿到了其他模型的摘要: %q", m, results[m])
		}
	}
}

// TestCompact_RollingMaxInputTrim 增量模式裁剪时保留旧摘要，从最旧的增量开始丢弃
func TestCompact_RollingMaxInputTrim(t *testing.T) {
	s := &recordingSummarizer{text: "S1"}
	e := newTestEngine(s)
	hs := charsConfig(1, 0, 2)
	hs.RollingSummary = true
	hs.MaxSummarizationInputChars = 250
	ctx := context.Background()

	history := bigHistory(8, 50, true)
	if !e.MaybeSummarizeAndCompact(ctx, hs, &models.ChatRequest{ConversationID: "conv-rt", Message: "hi", ChatHistory: history[:4]}, CompactOptions{}) {
		t.Fatal("第一次应注入摘要")
	}

	s.text = "S2"
	if !e.MaybeSummarizeAndCompact(ctx, hs, &models.ChatRequest{ConversationID: "conv-rt", Message: "hi", ChatHistory: history}, CompactOptions{}) {
		t.Fatal("第二次应注入摘要")
	}
	if s.callCount() != 2 {
		t.Fatalf("应调用 2 次摘要模型，实际为 %d", s.callCount())
	}
	call := s.calls[1]
	// 增量为 r2..r5，每轮约 100 字节，旧摘要约 40 字节
	got := requestIDs(call.ChatHistory)
	want := []string{prevSummaryRequestID, "r4", "r5"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("裁剪后应为 %v，got: %v", want, got)
	}
	if !strings.Contains(call.Prompt, "Update the summary") {
		t.Error("增量模式应使用增量提示词")
	}
}

// TestCompact_RollingPrevBoundaryMissing 旧摘要边界不在历史中时，旧摘要与完整头部一起发送
func TestCompact_RollingPrevBoundaryMissing(t *testing.T) {
	s := &recordingSummarizer{text: "S2"}
	e := newTestEngine(s)
	hs := charsConfig(1, 0, 2)
	hs.RollingSummary = true
	ctx := context.Background()

	history := sampleHistory(6)
	nowMs := e.now().UnixMilli()
	if err := e.Cache().Put(ctx, "conv-pm", "r2-rewritten", "PRIOR", "byok_history_summary_prior", nowMs, metaFor(history, 2)); err != nil {
		t.Fatalf("写入缓存失败: %v", err)
	}

	req := &models.ChatRequest{ConversationID: "conv-pm", Message: "hi", ChatHistory: history}
	if !e.MaybeSummarizeAndCompact(ctx, hs, req, CompactOptions{}) {
		t.Fatal("应注入摘要")
	}
	if s.callCount() != 1 {
		t.Fatalf("应调用 1 次摘要模型，实际为 %d", s.callCount())
	}
	call := s.calls[0]
	got := requestIDs(call.ChatHistory)
	want := []string{prevSummaryRequestID, "r0", "r1", "r2", "r3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("输入应为 %v，got: %v", want, got)
	}
	if !strings.Contains(call.ChatHistory[0].RequestMessage, "[PREVIOUS_SUMMARY]\nPRIOR\n[/PREVIOUS_SUMMARY]") {
		t.Errorf("旧摘要包装不符合预期: %q", call.ChatHistory[0].RequestMessage)
	}
	if call.Prompt != BuildRollingUpdatePrompt(hs.Prompt) {
		t.Error("应使用增量提示词")
	}
}

// TestResolveTimeout 超时钳制
func TestResolveTimeout(t *testing.T) {
	hs := &Config{TimeoutSeconds: 60}
	tests := []struct {
		in, want time.Duration
	}{
		{0, 60 * time.Second},
		{10 * time.Millisecond, time.Second},
		{30 * time.Second, 30 * time.Second},
		{5 * time.Minute, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := resolveTimeout(hs, tt.in); got != tt.want {
			t.Errorf("resolveTimeout(%v) 应为 %v，实际为 %v", tt.in, tt.want, got)
		}
	}
}
