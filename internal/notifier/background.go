package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/any-hub/update-notifier/internal/checker"
)

// BackgroundEnv 携带脱离运行的检查参数。宿主进程被默认启动方式重新执行时，
// 该变量非空。
const BackgroundEnv = "UPDATE_NOTIFIER_BACKGROUND_CHECK"

// backgroundRequest 是传给子进程的检查参数，只包含可序列化的配置。
type backgroundRequest struct {
	CacheDir       string        `json:"cacheDir"`
	Name           string        `json:"name"`
	Version        string        `json:"version"`
	Interval       time.Duration `json:"interval"`
	Registry       string        `json:"registry,omitempty"`
	DistTag        string        `json:"distTag,omitempty"`
	LookupTimeout  time.Duration `json:"lookupTimeout,omitempty"`
	MaxRetries     int           `json:"maxRetries,omitempty"`
	InitialBackoff time.Duration `json:"initialBackoff,omitempty"`
}

func (r backgroundRequest) options() Options {
	return Options{
		CacheDir:            r.CacheDir,
		Pkg:                 Package{Name: r.Name, Version: r.Version},
		UpdateCheckInterval: r.Interval,
		Registry:            r.Registry,
		DistTag:             r.DistTag,
		LookupTimeout:       r.LookupTimeout,
		MaxRetries:          r.MaxRetries,
		InitialBackoff:      r.InitialBackoff,
		InProcess:           true,
	}
}

// RunBackgroundIfRequested 在当前进程是由默认启动方式拉起的后台检查时，
// 同步执行检查并退出进程；否则立即返回。使用默认启动方式的宿主程序必须在
// main 的最开始调用它。
func RunBackgroundIfRequested() {
	payload := os.Getenv(BackgroundEnv)
	if payload == "" {
		return
	}
	os.Exit(runBackground(payload))
}

// runBackground 返回子进程退出码：0 成功或已有其它检查在进行，1 检查失败，2 参数错误。
func runBackground(payload string) int {
	var req backgroundRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return 2
	}
	n, err := New(req.options())
	if err != nil {
		return 2
	}
	if err := n.RunCheck(context.Background()); err != nil && !errors.Is(err, checker.ErrCheckInFlight) {
		return 1
	}
	return 0
}

// detachedLauncher 重新执行当前二进制，通过 BackgroundEnv 传递检查参数。
func detachedLauncher(opts Options, name string, interval time.Duration) (checker.Launcher, error) {
	cacheDir, err := filepath.Abs(opts.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	payload, err := json.Marshal(backgroundRequest{
		CacheDir:       cacheDir,
		Name:           name,
		Version:        opts.Pkg.Version,
		Interval:       interval,
		Registry:       opts.Registry,
		DistTag:        opts.DistTag,
		LookupTimeout:  opts.LookupTimeout,
		MaxRetries:     opts.MaxRetries,
		InitialBackoff: opts.InitialBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("encode background request: %w", err)
	}
	return checker.ProcessLauncher{
		Args: func(checker.Request) []string { return nil },
		Env:  []string{BackgroundEnv + "=" + string(payload)},
	}, nil
}
