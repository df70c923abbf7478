package api

import (
	"context"
	"sync/atomic"
	"time"

	"byok-api/internal/database"
	"byok-api/internal/logger"
	"byok-api/internal/models"

	"golang.org/x/sync/singleflight"
)

type settingsSnapshot struct {
	settings *models.Settings
	loadedAt time.Time
}

// SettingsCache 运行时设置缓存，避免每个请求都查询数据库
type SettingsCache struct {
	db       *database.DB
	ttl      time.Duration
	snapshot atomic.Pointer[settingsSnapshot]
	group    singleflight.Group
}

// NewSettingsCache 创建设置缓存
func NewSettingsCache(db *database.DB, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SettingsCache{db: db, ttl: ttl}
}

// Get 返回缓存的设置，过期后同步刷新；并发刷新只查询一次数据库
func (c *SettingsCache) Get(ctx context.Context) (*models.Settings, error) {
	if snap := c.snapshot.Load(); snap != nil && time.Since(snap.loadedAt) < c.ttl {
		return snap.settings, nil
	}
	return c.refresh(ctx)
}

func (c *SettingsCache) refresh(ctx context.Context) (*models.Settings, error) {
	v, err, _ := c.group.Do("settings", func() (interface{}, error) {
		settings, err := c.db.GetSettings(ctx)
		if err != nil {
			return nil, err
		}
		c.snapshot.Store(&settingsSnapshot{settings: settings, loadedAt: time.Now()})
		// 数据库中开启 debug_log 时打开调试日志
		if settings.DebugLog && !logger.IsDebugEnabled() {
			logger.SetDebugEnabled(true)
		}
		logger.Debug("设置缓存已刷新")
		return settings, nil
	})
	if err != nil {
		// 刷新失败时沿用旧值
		if snap := c.snapshot.Load(); snap != nil {
			logger.Warn("刷新设置缓存失败，沿用旧值: %v", err)
			return snap.settings, nil
		}
		return nil, err
	}
	return v.(*models.Settings), nil
}

// Invalidate 使缓存失效
func (c *SettingsCache) Invalidate() {
	c.snapshot.Store(nil)
}

// Start 启动后台刷新任务
func (c *SettingsCache) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.refresh(ctx); err != nil {
					logger.Warn("刷新设置缓存失败: %v", err)
				}
			}
		}
	}()
}
