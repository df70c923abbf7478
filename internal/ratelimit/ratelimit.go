// Package ratelimit 滑动窗口限流器，按客户端限制摘要接口的调用频率
package ratelimit

import (
	"sync"
	"time"
)

// defaultCleanupInterval 后台清理间隔
const defaultCleanupInterval = 5 * time.Minute

// SlidingWindowLimiter 滑动日志限流器
// 每个 key 记录窗口内的请求时间戳，超过上限即拒绝
type SlidingWindowLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	entries  map[string][]int64 // key -> 请求时间戳（Unix 纳秒，升序）
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// Result 一次限流检查的结果
type Result struct {
	Allowed   bool
	Count     int // 计入本次后窗口内的请求数（被拒绝时不计入）
	Limit     int
	Remaining int // limit <= 0 时为 -1
	RetryAt   time.Time
}

// NewSlidingWindowLimiter 创建限流器，window <= 0 时为 60 秒
func NewSlidingWindowLimiter(window time.Duration) *SlidingWindowLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	l := &SlidingWindowLimiter{
		window:  window,
		entries: make(map[string][]int64),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop(defaultCleanupInterval)
	return l
}

// trimLocked 丢弃窗口外的时间戳
func trimLocked(timestamps []int64, windowStart int64) []int64 {
	i := 0
	for i < len(timestamps) && timestamps[i] <= windowStart {
		i++
	}
	return timestamps[i:]
}

// Check 检查并记录一次请求，limit <= 0 表示不限制
func (l *SlidingWindowLimiter) Check(key string, limit int) Result {
	if limit <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}
	now := l.now().UnixNano()
	windowStart := now - int64(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := trimLocked(l.entries[key], windowStart)
	if len(ts) >= limit {
		l.entries[key] = ts
		return Result{
			Allowed: false,
			Count:   len(ts),
			Limit:   limit,
			RetryAt: time.Unix(0, ts[0]+int64(l.window)),
		}
	}
	ts = append(ts, now)
	l.entries[key] = ts
	return Result{Allowed: true, Count: len(ts), Limit: limit, Remaining: limit - len(ts)}
}

// Count 返回 key 在当前窗口内的请求数
func (l *SlidingWindowLimiter) Count(key string) int {
	windowStart := l.now().UnixNano() - int64(l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(trimLocked(l.entries[key], windowStart))
}

// Reset 清除 key 的计数
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

func (l *SlidingWindowLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup 删除窗口内已无请求的 key
func (l *SlidingWindowLimiter) cleanup() {
	windowStart := l.now().UnixNano() - int64(l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, ts := range l.entries {
		ts = trimLocked(ts, windowStart)
		if len(ts) == 0 {
			delete(l.entries, key)
			continue
		}
		l.entries[key] = ts
	}
}

// ActiveKeys 当前记录中的 key 数量
func (l *SlidingWindowLimiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop 停止后台清理，可重复调用
func (l *SlidingWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
