package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce 编辑器保存时往往连续触发多次写事件
const watchDebounce = 300 * time.Millisecond

// Watch 监听配置文件变更并在变更后重新加载
// 监听的是文件所在目录，以兼容先写临时文件再重命名的保存方式
// ctx 取消后停止监听
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) error {
	if onError == nil {
		onError = func(error) {}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, err := LoadPath(absPath)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, reload)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()

	return nil
}
