package provider

import (
	"context"

	"byok-api/internal/historysummary"
	"byok-api/internal/logger"
	"byok-api/internal/models"
)

// SendFunc 向上游发送一次对话请求
type SendFunc func(ctx context.Context, req *models.ChatRequest) error

// SendWithContextRetry 发送请求，遇到上下文超长错误时逐级紧急压缩后重试
// maxLevel <= 0 时使用 historysummary.MaxEmergencyLevel
// 某一级没有可压缩内容时直接尝试下一级，全部用尽后返回最后一次的错误
func SendWithContextRetry(ctx context.Context, req *models.ChatRequest, send SendFunc, maxLevel int) error {
	if maxLevel <= 0 || maxLevel > historysummary.MaxEmergencyLevel {
		maxLevel = historysummary.MaxEmergencyLevel
	}

	err := send(ctx, req)
	for level := 1; err != nil && level <= maxLevel; level++ {
		if !IsContextLengthError(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		res := historysummary.ApplyEmergencyContextCompactionForRetry(req, level)
		if !res.Changed {
			continue
		}
		logger.Info("[紧急压缩] 上下文超长，第 %d 级压缩后重试: conv=%s kind=%s", level, req.ConversationID, res.Kind)
		err = send(ctx, req)
	}
	if err != nil && IsContextLengthError(err) {
		logger.Warn("[紧急压缩] 压缩等级已用尽，放弃重试: conv=%s", req.ConversationID)
	}
	return err
}
