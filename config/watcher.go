// 配置文件变更监听。
//
// 轮询配置文件的修改时间，变化后经 Loader 重新加载，校验通过才通知订阅者。
package config

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadFunc 配置重载回调
type ReloadFunc func(old, updated *Config)

// WatcherOption 监听器选项
type WatcherOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Watcher 监听配置文件并重新加载
type Watcher struct {
	loader   *Loader
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	current   *Config
	modTime   time.Time
	callbacks []ReloadFunc
}

// NewWatcher 创建监听器。current 为当前生效的配置。
func NewWatcher(loader *Loader, current *Config, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		interval: 2 * time.Second,
		logger:   zap.NewNop(),
		current:  current,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))
	if info, err := os.Stat(loader.ConfigPath()); err == nil {
		w.modTime = info.ModTime()
	}
	return w
}

// OnReload 注册重载回调
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current 当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run 轮询直到 ctx 取消
func (w *Watcher) Run(ctx context.Context) {
	if w.loader.ConfigPath() == "" {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check 检查一次文件，变化时重新加载。返回是否应用了新配置。
func (w *Watcher) Check() bool {
	info, err := os.Stat(w.loader.ConfigPath())
	if err != nil {
		return false
	}

	w.mu.Lock()
	if !info.ModTime().After(w.modTime) {
		w.mu.Unlock()
		return false
	}
	w.modTime = info.ModTime()
	w.mu.Unlock()

	updated, err := w.loader.Load()
	if err == nil {
		err = updated.Validate()
	}
	if err != nil {
		w.logger.Warn("config reload rejected", zap.String("path", w.loader.ConfigPath()), zap.Error(err))
		return false
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.loader.ConfigPath()))
	for _, fn := range callbacks {
		fn(old, updated)
	}
	return true
}
