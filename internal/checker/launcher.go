package checker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/update-notifier/internal/cache"
	"github.com/any-hub/update-notifier/internal/logging"
)

// Launcher 以脱离调用方的方式启动一次检查。done 在检查结束（或确定无法结束）时调用。
type Launcher interface {
	Launch(req Request, done func()) error
}

// GoroutineLauncher 在当前进程内的 goroutine 中运行检查，适用于常驻进程与测试。
// 进程退出会中断尚未完成的检查。
type GoroutineLauncher struct {
	Checker *Checker
}

// Launch 实现 Launcher。panic 会被捕获并记录，不会影响调用方。
func (l GoroutineLauncher) Launch(req Request, done func()) error {
	if l.Checker == nil {
		return errors.New("checker is required")
	}
	go func() {
		defer done()
		defer func() {
			if r := recover(); r != nil {
				l.Checker.logger.WithFields(logging.BaseFields("background_check", req.Name)).
					Errorf("check_panic: %v", r)
			}
		}()
		_ = l.Checker.Run(context.Background(), req)
	}()
	return nil
}

// ProcessLauncher 重新执行 Path（默认当前二进制），由子进程完成检查并写入记录。
// 子进程处于独立会话、标准输入输出均被丢弃，父进程可以立即退出。
type ProcessLauncher struct {
	Path string
	Args func(Request) []string
	Env  []string
}

// Launch 实现 Launcher。子进程在后台被 Wait 回收；父进程先退出时子进程继续运行。
func (l ProcessLauncher) Launch(req Request, done func()) error {
	if l.Args == nil {
		return errors.New("process launcher requires an argument builder")
	}
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	cmd := exec.Command(path, l.Args(req)...)
	cmd.Env = append(os.Environ(), l.Env...)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start background check: %w", err)
	}
	go func() {
		defer done()
		_ = cmd.Wait()
	}()
	return nil
}

// Trigger 是前台调用使用的“触发但不等待”入口，负责合并重复触发。
type Trigger struct {
	store    cache.Store
	launcher Launcher
	logger   *logrus.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewTrigger 组合记录存储（用于探测跨进程检查锁）与 Launcher。
func NewTrigger(store cache.Store, launcher Launcher, logger *logrus.Logger) *Trigger {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Trigger{
		store:    store,
		launcher: launcher,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Fire 启动一次后台检查并立即返回。若本进程或其它进程已在检查同一个包，
// 则视为已触发，返回 false。启动失败仅记录日志。
func (t *Trigger) Fire(req Request) bool {
	if err := req.validate(); err != nil {
		t.logger.WithFields(logging.BaseFields("trigger_check", req.Name)).WithError(err).Debug("trigger_rejected")
		return false
	}

	t.mu.Lock()
	if _, busy := t.inflight[req.Name]; busy {
		t.mu.Unlock()
		return false
	}
	t.inflight[req.Name] = struct{}{}
	t.mu.Unlock()

	release := func() {
		t.mu.Lock()
		delete(t.inflight, req.Name)
		t.mu.Unlock()
	}

	if t.lockedElsewhere(req.Name) {
		release()
		return false
	}

	fields := logging.BaseFields("trigger_check", req.Name)
	if err := t.launcher.Launch(req, release); err != nil {
		release()
		t.logger.WithFields(fields).WithError(err).Warn("trigger_failed")
		return false
	}
	t.logger.WithFields(fields).Debug("trigger_launched")
	return true
}

// InFlight 报告本进程是否仍有该包的检查在运行。
func (t *Trigger) InFlight(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[name]
	return ok
}

func (t *Trigger) lockedElsewhere(name string) bool {
	unlock, err := t.store.TryLock(name)
	if errors.Is(err, cache.ErrLocked) {
		return true
	}
	if err == nil {
		unlock()
	}
	return false
}
