// Package checker 执行后台更新检查：向 Registry 查询最新版本并把结果写入
// 记录存储。检查总是脱离调用方的关键路径运行，失败只记录日志，绝不向调用方传播。
package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/update-notifier/internal/cache"
	"github.com/any-hub/update-notifier/internal/logging"
	"github.com/any-hub/update-notifier/internal/registry"
)

const defaultLookupTimeout = 10 * time.Second

// ErrCheckInFlight 表示同一个包已有检查在其它进程中进行。
var ErrCheckInFlight = errors.New("update check already in flight")

// Request 描述一次后台检查的输入。
type Request struct {
	Name           string
	CurrentVersion string
	Interval       time.Duration
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("package name required")
	}
	if r.Interval < 0 {
		return errors.New("check interval must not be negative")
	}
	return nil
}

// Options 聚合 Checker 的依赖。Timeout 是单次查询的上限，超时视为查询失败。
type Options struct {
	Store   cache.Store
	Lookup  registry.Lookup
	Logger  *logrus.Logger
	Timeout time.Duration
	Clock   func() time.Time
}

// Checker 串联锁、Registry 查询与记录写入。
type Checker struct {
	store   cache.Store
	lookup  registry.Lookup
	logger  *logrus.Logger
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group
}

// New 校验依赖并填充默认值。
func New(opts Options) (*Checker, error) {
	if opts.Store == nil {
		return nil, errors.New("record store is required")
	}
	if opts.Lookup == nil {
		return nil, errors.New("registry lookup is required")
	}
	c := &Checker{
		store:   opts.Store,
		lookup:  opts.Lookup,
		logger:  opts.Logger,
		timeout: opts.Timeout,
		now:     opts.Clock,
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.timeout <= 0 {
		c.timeout = defaultLookupTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Run 同步执行一次检查。同一进程内对同一包的并发调用会合并为一次；
// 其它进程持有锁时立即返回 ErrCheckInFlight。
func (c *Checker) Run(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	_, err, _ := c.group.Do(req.Name, func() (_ interface{}, err error) {
		// singleflight 在存在等待者时会在新 goroutine 中重新 panic，必须在这里收敛为错误。
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithFields(logging.BaseFields("background_check", req.Name)).Errorf("check_panic: %v", r)
				err = fmt.Errorf("check panic: %v", r)
			}
		}()
		return nil, c.run(ctx, req)
	})
	return err
}

func (c *Checker) run(ctx context.Context, req Request) error {
	fields := logging.CheckFields(uuid.NewString(), req.Name, req.CurrentVersion)
	started := c.now()

	unlock, err := c.store.TryLock(req.Name)
	if errors.Is(err, cache.ErrLocked) {
		c.logger.WithFields(fields).Debug("check_skipped_in_flight")
		return ErrCheckInFlight
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("check_lock_failed")
		return fmt.Errorf("acquire check lock: %w", err)
	}
	defer unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	latest, err := c.lookup.LatestVersion(lookupCtx, req.Name)
	cancel()
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("check_lookup_failed")
		return fmt.Errorf("lookup latest version: %w", err)
	}
	latest = strings.TrimSpace(latest)
	if latest == "" {
		c.logger.WithFields(fields).Warn("check_lookup_empty")
		return errors.New("lookup returned empty version")
	}

	policy := cache.NewPolicy(req.Interval).WithClock(c.now)
	record := cache.UpdateRecord{
		Version:  latest,
		ExpireAt: policy.NextExpiry(),
	}
	// 旧记录在查询完成后读取；版本未变时沿用其 notified。
	if prev, err := c.store.Get(ctx, req.Name); err == nil && prev.Version == latest {
		record.Notified = prev.Notified
	}

	if err := c.store.Put(ctx, req.Name, record); err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("check_write_failed")
		return fmt.Errorf("write update record: %w", err)
	}

	fields["latest_version"] = record.Version
	fields["notified"] = record.Notified
	fields["expire_at"] = record.ExpireAt
	fields["elapsed_ms"] = c.now().Sub(started).Milliseconds()
	c.logger.WithFields(fields).Info("check_completed")
	return nil
}
