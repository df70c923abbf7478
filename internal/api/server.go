package api

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"byok-api/internal/config"
	"byok-api/internal/database"
	"byok-api/internal/historysummary"
	"byok-api/internal/logger"
	"byok-api/internal/ratelimit"

	"github.com/gin-gonic/gin"
)

// Server 表示 API 服务器
type Server struct {
	mu      sync.RWMutex
	cfg     *config.Config
	db      *database.DB // 可为 nil，此时运行时设置接口不可用
	engine  *historysummary.Engine
	version string

	settingsCache *SettingsCache
	rateLimiter   *ratelimit.SlidingWindowLimiter
}

// NewServer 创建新的 API 服务器
func NewServer(cfg *config.Config, db *database.DB, engine *historysummary.Engine, version string) *Server {
	s := &Server{
		cfg:         cfg,
		db:          db,
		engine:      engine,
		version:     version,
		rateLimiter: ratelimit.NewSlidingWindowLimiter(time.Minute),
	}
	if db != nil {
		s.settingsCache = NewSettingsCache(db, 30*time.Second)
	}
	return s
}

// UpdateConfig 配置热更新
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// StartCaches 启动后台缓存刷新
func (s *Server) StartCaches(ctx context.Context) {
	if s.settingsCache != nil {
		s.settingsCache.Start(ctx)
	}
}

// Close 释放后台资源
func (s *Server) Close() {
	s.rateLimiter.Stop()
}

// historySummaryConfig 合并配置文件与运行时设置后规整，未启用时返回 nil
func (s *Server) historySummaryConfig(ctx context.Context) *historysummary.Config {
	raw := s.config().HistorySummary
	if s.settingsCache != nil {
		settings, err := s.settingsCache.Get(ctx)
		if err != nil {
			logger.Warn("[历史摘要] 读取运行时设置失败，使用配置文件: %v", err)
		} else {
			raw = database.ApplySettings(raw, settings)
		}
	}
	return historysummary.ResolveConfig(raw)
}

// Router 返回配置好的 HTTP 路由器
func (s *Server) Router() *gin.Engine {
	if s.config().Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New() // 使用 gin.New() 替代 gin.Default()，避免重复日志
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		if path == "/healthz" {
			return
		}
		logger.LogRequest(method, path, c.ClientIP(), c.Writer.Status(), time.Since(start))
	})

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	s.setupRoutes(r)
	return r
}

// requireAPIKey 校验 Bearer 令牌，未配置 api_key 时放行
func (s *Server) requireAPIKey(c *gin.Context) {
	want := s.config().APIKey
	if want == "" {
		c.Next()
		return
	}

	var token string
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimSpace(auth[7:])
	} else {
		token = strings.TrimSpace(c.GetHeader("X-Api-Key"))
	}

	if token == "" {
		logger.Warn("认证失败 - 未提供令牌 - 来源: %s", c.ClientIP())
		c.AbortWithStatusJSON(401, gin.H{"error": "未授权访问", "code": "UNAUTHORIZED"})
		return
	}
	if token != want {
		logger.Warn("认证失败 - 无效令牌 - 来源: %s", c.ClientIP())
		c.AbortWithStatusJSON(401, gin.H{"error": "令牌无效", "code": "INVALID_API_KEY"})
		return
	}
	c.Next()
}

// rateLimitMiddleware 按客户端 IP 限流
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := s.config().Server.RateLimitRPM
		if limit <= 0 {
			c.Next()
			return
		}
		clientIP := c.ClientIP()
		res := s.rateLimiter.Check(clientIP, limit)
		if !res.Allowed {
			logger.Warn("IP 限流触发 - IP: %s, 请求数: %d, 限制: %d/分钟", clientIP, res.Count, res.Limit)
			retryAfter := int(time.Until(res.RetryAt).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(max(retryAfter, 1)))
			c.AbortWithStatusJSON(429, gin.H{
				"error": "请求过于频繁，请稍后重试",
				"code":  "RATE_LIMIT_EXCEEDED",
				"type":  "rate_limit_error",
			})
			return
		}
		c.Next()
	}
}
