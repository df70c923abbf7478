package api

import (
	"byok-api/internal/logger"

	"github.com/gin-gonic/gin"
)

// setupRoutes 配置所有 HTTP 路由
func (s *Server) setupRoutes(r *gin.Engine) {
	// 健康检查
	r.GET("/healthz", s.handleHealthCheck)

	// 版本信息
	r.GET("/version", s.handleVersion)

	// 历史摘要接口
	// 中间件顺序: IP限流 -> 令牌校验 -> 业务处理
	hs := r.Group("/v1/history-summary")
	hs.Use(s.rateLimitMiddleware(), s.requireAPIKey)
	{
		hs.POST("/compact", s.handleCompact)
		hs.POST("/emergency", s.handleEmergency)
		hs.POST("/render", s.handleRender)
		hs.POST("/estimate", s.handleEstimate)

		hs.DELETE("/cache", s.handleClearCache)
		hs.DELETE("/cache/:conversationId", s.handleDeleteCache)
		hs.GET("/cache/:conversationId/preview", s.handleCachePreview)

		hs.GET("/settings", s.handleGetSettings)
		hs.PUT("/settings", s.handleUpdateSettings)
	}
}

// handleHealthCheck 返回服务健康状态
// 数据库不可用时仍返回 200，压缩接口不依赖数据库
func (s *Server) handleHealthCheck(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			logger.Warn("健康检查 - 数据库不可用: %v", err)
			resp["database"] = "unavailable"
		} else {
			resp["database"] = "ok"
		}
	}
	c.JSON(200, resp)
}

// handleVersion 返回版本信息
func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(200, gin.H{"version": s.version})
}
