// Package notifier 是更新提醒的对外入口：每次调用同步读取本地记录，立即给出
// “是否需要提示新版本”的结论，并在记录缺失或过期时触发后台检查。调用路径上
// 不发生任何网络 I/O。
package notifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/update-notifier/internal/cache"
	"github.com/any-hub/update-notifier/internal/checker"
	"github.com/any-hub/update-notifier/internal/logging"
	"github.com/any-hub/update-notifier/internal/registry"
)

const (
	// DefaultCheckInterval 是未指定检查间隔时的默认值。
	DefaultCheckInterval = 24 * time.Hour
	// DefaultRegistry 是默认的 npm Registry 地址。
	DefaultRegistry = "https://registry.npmjs.org"
	// DisableEnv 非空时整个提醒功能关闭。
	DisableEnv = "NO_UPDATE_NOTIFIER"
)

// Package 描述当前运行工具自身的包名与版本。
type Package struct {
	Name    string
	Version string
}

// Options 控制 Notifier 的行为。只有 CacheDir 与 Pkg 是必填项。
type Options struct {
	CacheDir string
	Pkg      Package
	// UpdateCheckInterval 为 0 时使用 DefaultCheckInterval；需要每次都重新检查时传入极小的正值。
	UpdateCheckInterval time.Duration

	Registry       string
	DistTag        string
	LookupTimeout  time.Duration
	MaxRetries     int
	InitialBackoff time.Duration

	// Lookup 覆盖默认的 Registry 客户端。注入的 Lookup 无法传给子进程，
	// 因此此时后台检查总是在当前进程内运行。
	Lookup registry.Lookup
	// InProcess 让后台检查在当前进程的 goroutine 中运行，适用于常驻进程。
	// 默认重新执行当前二进制并脱离运行，宿主需在 main 开头调用 RunBackgroundIfRequested。
	InProcess bool
	// Launcher 覆盖以上两种启动方式。
	Launcher checker.Launcher

	Logger   *logrus.Logger
	Disabled bool
	Clock    func() time.Time
}

// Notifier 组合记录存储、过期策略与后台检查触发器。
type Notifier struct {
	pkg      Package
	policy   cache.Policy
	store    cache.Store
	checker  *checker.Checker
	launcher checker.Launcher
	trigger  *checker.Trigger
	logger   *logrus.Logger
	disabled bool

	// mu 串行化同一 Notifier 上的读取-翻转-写入。
	mu sync.Mutex
}

// New 校验配置并组装依赖。配置错误只在这里返回一次，CheckForUpdate 不会报错。
func New(opts Options) (*Notifier, error) {
	name := strings.TrimSpace(opts.Pkg.Name)
	if name == "" {
		return nil, errors.New("package name required")
	}
	if opts.UpdateCheckInterval < 0 {
		return nil, errors.New("update check interval must not be negative")
	}
	interval := opts.UpdateCheckInterval
	if interval == 0 {
		interval = DefaultCheckInterval
	}

	store, err := cache.NewStore(opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("init record store: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	lookup := opts.Lookup
	if lookup == nil {
		base := opts.Registry
		if base == "" {
			base = DefaultRegistry
		}
		client, err := registry.NewClient(registry.Options{
			BaseURL:        base,
			DistTag:        opts.DistTag,
			Timeout:        opts.LookupTimeout,
			MaxRetries:     opts.MaxRetries,
			InitialBackoff: opts.InitialBackoff,
			UserAgent:      name + "/" + opts.Pkg.Version,
		})
		if err != nil {
			return nil, fmt.Errorf("init registry client: %w", err)
		}
		lookup = client
	}

	chk, err := checker.New(checker.Options{
		Store:   store,
		Lookup:  lookup,
		Logger:  logger,
		Timeout: opts.LookupTimeout,
		Clock:   clock,
	})
	if err != nil {
		return nil, err
	}

	launcher := opts.Launcher
	switch {
	case launcher != nil:
	case opts.InProcess || opts.Lookup != nil:
		launcher = checker.GoroutineLauncher{Checker: chk}
	default:
		launcher, err = detachedLauncher(opts, name, interval)
		if err != nil {
			return nil, err
		}
	}

	return &Notifier{
		pkg:      Package{Name: name, Version: strings.TrimSpace(opts.Pkg.Version)},
		policy:   cache.NewPolicy(interval).WithClock(clock),
		store:    store,
		checker:  chk,
		launcher: launcher,
		trigger:  checker.NewTrigger(store, launcher, logger),
		logger:   logger,
		disabled: opts.Disabled || os.Getenv(DisableEnv) != "",
	}, nil
}

// Check 是一次性调用入口：构建 Notifier 并执行 CheckForUpdate。
// 配置错误同样按“没有可提示的新版本”处理。后台检查默认在脱离的子进程中
// 完成，调用方可以随即退出，但宿主的 main 需要先调用 RunBackgroundIfRequested。
func Check(opts Options) (string, bool) {
	n, err := New(opts)
	if err != nil {
		if opts.Logger != nil {
			opts.Logger.WithFields(logging.BaseFields("update_notifier_setup", opts.Pkg.Name)).
				WithError(err).Warn("update_notifier_disabled")
		}
		return "", false
	}
	return n.CheckForUpdate(context.Background())
}

// CheckForUpdate 同步、非阻塞地判断是否需要提示新版本。返回值为待提示的版本号；
// 同一版本只会被返回一次。
func (n *Notifier) CheckForUpdate(ctx context.Context) (string, bool) {
	if n.disabled || isDevelopmentVersion(n.pkg.Version) {
		return "", false
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	fields := logging.BaseFields("check_for_update", n.pkg.Name)
	fields["current_version"] = n.pkg.Version

	record, err := n.store.Get(ctx, n.pkg.Name)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			n.logger.WithFields(fields).WithError(err).Debug("record_unreadable")
		}
		record = nil
	}

	freshness := n.policy.Decide(record)
	fields["freshness"] = freshness.String()

	if freshness == cache.Missing {
		n.trigger.Fire(n.request())
		n.logger.WithFields(fields).Debug("update_check_pending")
		return "", false
	}

	latest, ok := n.report(ctx, record, fields)
	// notified 先落盘再触发刷新，后台检查读取旧记录时能看到本次翻转。
	if freshness == cache.Stale {
		n.trigger.Fire(n.request())
	}
	return latest, ok
}

// report 在记录版本更新且尚未提示时翻转 notified 并返回该版本。
func (n *Notifier) report(ctx context.Context, record *cache.UpdateRecord, fields logrus.Fields) (string, bool) {
	fields["latest_version"] = record.Version
	if record.Notified || !isNewer(record.Version, n.pkg.Version) {
		n.logger.WithFields(fields).Debug("update_not_reported")
		return "", false
	}

	updated := *record
	updated.Notified = true
	if err := n.store.Put(ctx, n.pkg.Name, updated); err != nil {
		n.logger.WithFields(fields).WithError(err).Warn("notified_write_failed")
	}
	n.logger.WithFields(fields).Info("update_available")
	return updated.Version, true
}

// RunCheck 同步执行一次后台检查，供脱离进程模式下的子进程调用。
func (n *Notifier) RunCheck(ctx context.Context) error {
	return n.checker.Run(ctx, n.request())
}

// Record 返回当前缓存记录，供诊断输出使用。
func (n *Notifier) Record(ctx context.Context) (*cache.UpdateRecord, string, error) {
	path, err := n.store.RecordPath(n.pkg.Name)
	if err != nil {
		return nil, "", err
	}
	record, err := n.store.Get(ctx, n.pkg.Name)
	return record, path, err
}

// Package 返回被检查的包名与当前版本。
func (n *Notifier) Package() Package {
	return n.pkg
}

// Pending 报告本进程内是否仍有该包的后台检查未结束。
func (n *Notifier) Pending() bool {
	return n.trigger.InFlight(n.pkg.Name)
}

func (n *Notifier) request() checker.Request {
	return checker.Request{
		Name:           n.pkg.Name,
		CurrentVersion: n.pkg.Version,
		Interval:       n.policy.Interval(),
	}
}
