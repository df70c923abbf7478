package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"byok-api/internal/models"
)

func retryRequest(n int) *models.ChatRequest {
	history := make([]models.Exchange, n)
	for i := range history {
		history[i] = models.Exchange{RequestID: fmt.Sprintf("r%d", i), RequestMessage: "m", ResponseText: "a"}
	}
	return &models.ChatRequest{ConversationID: "c1", ChatHistory: history}
}

func TestSendWithContextRetry_ShrinksUntilSuccess(t *testing.T) {
	req := retryRequest(20)
	var sizes []int
	send := func(_ context.Context, r *models.ChatRequest) error {
		sizes = append(sizes, len(r.ChatHistory))
		if len(r.ChatHistory) > 6 {
			return NewAPIError(ErrCodeContextLength, "too long")
		}
		return nil
	}

	if err := SendWithContextRetry(context.Background(), req, send, 0); err != nil {
		t.Fatalf("压缩后应成功: %v", err)
	}
	want := []int{20, 12, 6}
	if fmt.Sprint(sizes) != fmt.Sprint(want) {
		t.Errorf("每次发送的历史长度应为 %v，实际 %v", want, sizes)
	}
}

func TestSendWithContextRetry_NonContextError(t *testing.T) {
	req := retryRequest(20)
	calls := 0
	boom := errors.New("rate limited")
	err := SendWithContextRetry(context.Background(), req, func(context.Context, *models.ChatRequest) error {
		calls++
		return boom
	}, 0)
	if !errors.Is(err, boom) || calls != 1 {
		t.Errorf("非超长错误不应重试: calls=%d err=%v", calls, err)
	}
	if len(req.ChatHistory) != 20 {
		t.Error("非超长错误不应修改请求")
	}
}

func TestSendWithContextRetry_GivesUp(t *testing.T) {
	req := retryRequest(2)
	calls := 0
	err := SendWithContextRetry(context.Background(), req, func(context.Context, *models.ChatRequest) error {
		calls++
		return errors.New("prompt is too long")
	}, 0)
	if err == nil {
		t.Fatal("始终超长时应返回错误")
	}
	// 2 轮历史在前三级都无法缩短，第四级保留 1 轮后仍超长
	if calls != 2 {
		t.Errorf("期望发送 2 次，实际 %d", calls)
	}
}

func TestSendWithContextRetry_MaxLevel(t *testing.T) {
	req := retryRequest(20)
	calls := 0
	err := SendWithContextRetry(context.Background(), req, func(context.Context, *models.ChatRequest) error {
		calls++
		return errors.New("context_length_exceeded")
	}, 1)
	if err == nil || calls != 2 {
		t.Errorf("maxLevel=1 时最多重试一次: calls=%d err=%v", calls, err)
	}
}
